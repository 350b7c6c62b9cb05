package mint

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/domain"
	"nftmarket/internal/ledger"
	"nftmarket/internal/ledger/stub"
	"nftmarket/internal/readmodel"
)

const (
	creator   = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	assetCID  = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	metaCID   = "QmPK1s3pNYLi9ERiq3BDxKa4XosgWwFRQUydHUtz4YgpqB"
	assetData = "\x89PNG fake image bytes"
)

type fakeStore struct {
	fileErr error
	jsonErr error

	pinnedName string
	pinnedJSON interface{}
	keyvalues  map[string]string
}

func (f *fakeStore) PinFile(_ context.Context, name string, _ []byte, _ string, kv map[string]string) (string, error) {
	if f.fileErr != nil {
		return "", f.fileErr
	}
	f.pinnedName = name
	f.keyvalues = kv
	return assetCID, nil
}

func (f *fakeStore) PinJSON(_ context.Context, v interface{}, _ string, _ map[string]string) (string, error) {
	if f.jsonErr != nil {
		return "", f.jsonErr
	}
	f.pinnedJSON = v
	return metaCID, nil
}

func newTestOrchestrator(t *testing.T, l *stub.Ledger, store *fakeStore, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	session := domain.NewSession()
	require.NoError(t, session.Connect(creator))
	view := readmodel.NewSynchronizer(l)
	return NewOrchestrator(store, l, view, session, opts...)
}

func validInput() Input {
	return Input{
		File:        []byte(assetData),
		FileName:    "sunset.png",
		FileMIME:    "image/png",
		Name:        "Sunset",
		Description: "A sunset over the bay",
		Attributes:  []domain.Attribute{{TraitType: "mood", Value: "calm"}},
		Price:       "1.5",
	}
}

func TestMintStageOrder(t *testing.T) {
	l := stub.New(250, 1000)
	store := &fakeStore{}

	var observed []Stage
	o := newTestOrchestrator(t, l, store, WithStageObserver(func(s Stage) {
		observed = append(observed, s)
	}))

	result, err := o.Mint(context.Background(), validInput())
	require.NoError(t, err)

	want := []Stage{
		StageIdle,
		StageValidatingInput,
		StageUploadingAsset,
		StageUploadingMetadata,
		StageSubmittingTransaction,
		StageAwaitingConfirmation,
		StageSucceeded,
	}
	assert.Equal(t, want, result.Stages)
	assert.Equal(t, want[1:], observed, "observer sees every transition after the initial state")

	assert.Equal(t, assetCID, result.AssetHash)
	assert.Equal(t, metaCID, result.MetadataHash)
	assert.Equal(t, "ipfs://"+metaCID, result.TokenURI)
	assert.NotEmpty(t, result.TxHash)

	meta, ok := store.pinnedJSON.(domain.NFTMetadata)
	require.True(t, ok)
	assert.Equal(t, "Sunset", meta.Name)
	assert.Equal(t, "ipfs://"+assetCID, meta.Image)
	assert.Equal(t, creator, meta.CreatedBy)
	assert.Equal(t, map[string]string{"creator": creator, "type": "nft"}, store.keyvalues)

	tok, ok := l.Token(1)
	require.True(t, ok)
	assert.Equal(t, creator, tok.Owner)
	assert.Equal(t, "ipfs://"+metaCID, tok.URI)
	assert.True(t, tok.Data.IsForSale, "a priced mint lists immediately")
	assert.Equal(t, "1500000000000000000", tok.Data.Price.String())
}

func TestMintValidationReportsAllFields(t *testing.T) {
	l := stub.New(250, 1000)
	store := &fakeStore{}
	o := newTestOrchestrator(t, l, store)

	result, err := o.Mint(context.Background(), Input{Price: "abc", RoyaltyPercent: "nope"})

	var mintErr *Error
	require.ErrorAs(t, err, &mintErr)
	assert.Equal(t, StageValidatingInput, mintErr.Stage)

	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	for _, key := range []string{"name", "description", "file", "price", "royalty"} {
		assert.Contains(t, fields, key)
	}

	assert.Equal(t, []Stage{StageIdle, StageValidatingInput, StageFailed}, result.Stages)
	assert.Empty(t, store.pinnedName, "invalid input must not reach the content store")
	assert.Empty(t, l.WriteCalls, "invalid input must not reach the ledger")
}

func TestMintRoyaltyBoundedByContract(t *testing.T) {
	l := stub.New(250, 1000) // 10% cap
	o := newTestOrchestrator(t, l, &fakeStore{})

	in := validInput()
	in.RoyaltyPercent = "12"
	_, err := o.Mint(context.Background(), in)

	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields["royalty"], "10")

	in.RoyaltyPercent = "10"
	_, err = o.Mint(context.Background(), in)
	assert.NoError(t, err, "a royalty at the cap is accepted")
}

func TestMintRequiresSession(t *testing.T) {
	l := stub.New(250, 1000)
	view := readmodel.NewSynchronizer(l)
	o := NewOrchestrator(&fakeStore{}, l, view, domain.NewSession())

	_, err := o.Mint(context.Background(), validInput())

	var mintErr *Error
	require.ErrorAs(t, err, &mintErr)
	assert.Equal(t, StageValidatingInput, mintErr.Stage)
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestMintAssetUploadFailure(t *testing.T) {
	l := stub.New(250, 1000)
	store := &fakeStore{fileErr: fmt.Errorf("pin service down")}
	o := newTestOrchestrator(t, l, store)

	result, err := o.Mint(context.Background(), validInput())

	var mintErr *Error
	require.ErrorAs(t, err, &mintErr)
	assert.Equal(t, StageUploadingAsset, mintErr.Stage)
	assert.Equal(t, StageFailed, result.Stages[len(result.Stages)-1])
	assert.Empty(t, l.WriteCalls, "a failed upload must not submit a transaction")
}

func TestMintMetadataUploadFailure(t *testing.T) {
	l := stub.New(250, 1000)
	store := &fakeStore{jsonErr: fmt.Errorf("pin service down")}
	o := newTestOrchestrator(t, l, store)

	result, err := o.Mint(context.Background(), validInput())

	var mintErr *Error
	require.ErrorAs(t, err, &mintErr)
	assert.Equal(t, StageUploadingMetadata, mintErr.Stage)
	assert.Equal(t, assetCID, result.AssetHash, "the asset hash survives for retry display")
	assert.Empty(t, l.WriteCalls)
}

func TestMintSubmissionRejected(t *testing.T) {
	l := stub.New(250, 1000)
	l.SubmitErr = ledger.ErrUserRejected
	o := newTestOrchestrator(t, l, &fakeStore{})

	_, err := o.Mint(context.Background(), validInput())

	var mintErr *Error
	require.ErrorAs(t, err, &mintErr)
	assert.Equal(t, StageSubmittingTransaction, mintErr.Stage)
	assert.ErrorIs(t, err, ledger.ErrUserRejected)
}

func TestMintReverted(t *testing.T) {
	l := stub.New(250, 1000)
	l.RevertNext = "royalty fee too high"
	o := newTestOrchestrator(t, l, &fakeStore{})

	result, err := o.Mint(context.Background(), validInput())

	var mintErr *Error
	require.ErrorAs(t, err, &mintErr)
	assert.Equal(t, StageAwaitingConfirmation, mintErr.Stage)

	var revert *ledger.RevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, "royalty fee too high", revert.Reason)
	assert.NotEmpty(t, result.TxHash, "the failed tx hash stays visible")
}

func TestMintReceiptTimeout(t *testing.T) {
	l := stub.New(250, 1000)
	l.HoldReceipts = true
	o := newTestOrchestrator(t, l, &fakeStore{}, WithReceiptTimeout(50*time.Millisecond))

	_, err := o.Mint(context.Background(), validInput())

	var mintErr *Error
	require.ErrorAs(t, err, &mintErr)
	assert.Equal(t, StageAwaitingConfirmation, mintErr.Stage)
	assert.ErrorIs(t, err, ledger.ErrReceiptTimeout)
}
