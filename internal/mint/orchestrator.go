package mint

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/domain"
	"nftmarket/internal/format"
	"nftmarket/internal/ipfs"
	"nftmarket/internal/ledger"
	"nftmarket/internal/observability"
	"nftmarket/internal/readmodel"
)

// maxNameLength bounds the token name field.
const maxNameLength = 100

// Store is the content store surface the flow needs. *ipfs.Client
// satisfies it.
type Store interface {
	PinFile(ctx context.Context, name string, content []byte, mime string, keyvalues map[string]string) (string, error)
	PinJSON(ctx context.Context, v interface{}, name string, keyvalues map[string]string) (string, error)
}

// Input is the creator's raw form input. Price and RoyaltyPercent are
// decimal strings as typed; an empty or zero price mints without
// listing.
type Input struct {
	File           []byte
	FileName       string
	FileMIME       string
	Name           string
	Description    string
	Attributes     []domain.Attribute
	Price          string
	RoyaltyPercent string
}

// Result is the outcome of a mint flow. Stages records every stage
// entered, in order, including the terminal one.
type Result struct {
	TxHash       ledger.TxHandle
	AssetHash    string
	MetadataHash string
	TokenURI     string
	Stages       []Stage
}

// Orchestrator runs mint flows. Safe for concurrent use; each Mint call
// is an independent flow.
type Orchestrator struct {
	store   Store
	writer  ledger.Writer
	view    *readmodel.Synchronizer
	session *domain.Session
	logger  logrus.FieldLogger

	receiptTimeout time.Duration
	onStage        func(Stage)
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l logrus.FieldLogger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithReceiptTimeout bounds the wait for the mint receipt.
func WithReceiptTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.receiptTimeout = d
	}
}

// WithStageObserver registers a callback invoked on every stage
// transition, for progress display.
func WithStageObserver(fn func(Stage)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onStage = fn
	}
}

// NewOrchestrator creates a mint orchestrator.
func NewOrchestrator(store Store, writer ledger.Writer, view *readmodel.Synchronizer, session *domain.Session, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		writer:         writer,
		view:           view,
		session:        session,
		logger:         logrus.StandardLogger(),
		receiptTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// flow tracks one mint run's stage history.
type flow struct {
	o      *Orchestrator
	result *Result
}

func (f *flow) enter(s Stage) {
	f.result.Stages = append(f.result.Stages, s)
	if f.o.onStage != nil {
		f.o.onStage(s)
	}
}

func (f *flow) fail(s Stage, cause error) (*Result, error) {
	f.enter(StageFailed)
	observability.DefaultMetrics.MintsFailed.WithLabelValues(string(s)).Inc()
	f.o.logger.WithError(cause).WithField("stage", s).Warn("mint failed")
	return f.result, &Error{Stage: s, Err: cause}
}

// Mint runs the full flow. On failure the returned Result still carries
// the stage history and whatever content hashes were produced; the
// error is always a *Error naming the failing stage.
func (o *Orchestrator) Mint(ctx context.Context, input Input) (*Result, error) {
	f := &flow{o: o, result: &Result{Stages: []Stage{StageIdle}}}
	start := time.Now()
	observability.DefaultMetrics.MintsStarted.Inc()

	// Validate
	f.enter(StageValidatingInput)
	creator, err := o.session.Address()
	if err != nil {
		return f.fail(StageValidatingInput, err)
	}
	priceWei, royaltyBP, ferr := o.validate(ctx, input)
	if len(ferr) > 0 {
		return f.fail(StageValidatingInput, ferr)
	}

	keyvalues := map[string]string{"creator": creator, "type": "nft"}
	now := time.Now()

	// Upload asset
	f.enter(StageUploadingAsset)
	pinName := fmt.Sprintf("%s_%d", input.Name, now.UnixMilli())
	assetHash, err := o.store.PinFile(ctx, pinName, input.File, input.FileMIME, keyvalues)
	if err != nil {
		return f.fail(StageUploadingAsset, err)
	}
	f.result.AssetHash = assetHash

	// Upload metadata
	f.enter(StageUploadingMetadata)
	meta := domain.NFTMetadata{
		Name:        input.Name,
		Description: input.Description,
		Image:       ipfs.URI(assetHash),
		Attributes:  input.Attributes,
		CreatedBy:   creator,
		Timestamp:   now.UnixMilli(),
	}
	metaHash, err := o.store.PinJSON(ctx, meta, fmt.Sprintf("%s_metadata_%d", input.Name, now.UnixMilli()), keyvalues)
	if err != nil {
		return f.fail(StageUploadingMetadata, err)
	}
	f.result.MetadataHash = metaHash
	f.result.TokenURI = ipfs.URI(metaHash)

	// Submit
	f.enter(StageSubmittingTransaction)
	tx, err := o.writer.MintNFT(ctx, creator, f.result.TokenURI, priceWei, royaltyBP)
	if err != nil {
		return f.fail(StageSubmittingTransaction, err)
	}
	f.result.TxHash = tx

	// Confirm
	f.enter(StageAwaitingConfirmation)
	rctx, cancel := context.WithTimeout(ctx, o.receiptTimeout)
	receipt, err := o.writer.AwaitReceipt(rctx, tx)
	cancel()
	if err != nil {
		return f.fail(StageAwaitingConfirmation, err)
	}
	if receipt.Status == ledger.ReceiptReverted {
		observability.RecordTxOutcome("mint", "reverted")
		return f.fail(StageAwaitingConfirmation, &ledger.RevertError{Reason: receipt.Reason})
	}

	f.enter(StageSucceeded)
	observability.DefaultMetrics.MintsSucceeded.Inc()
	observability.DefaultMetrics.MintDuration.Observe(time.Since(start).Seconds())
	observability.RecordTxOutcome("mint", "confirmed")
	o.logger.WithFields(logrus.Fields{
		"tx":      tx,
		"creator": creator,
		"uri":     f.result.TokenURI,
	}).Info("mint confirmed")

	o.invalidateAfterMint(creator, priceWei)
	return f.result, nil
}

// validate checks the creator's input and resolves the wire values. All
// field problems are reported together.
func (o *Orchestrator) validate(ctx context.Context, input Input) (*big.Int, uint64, FieldErrors) {
	ferr := FieldErrors{}

	name := strings.TrimSpace(input.Name)
	switch {
	case name == "":
		ferr["name"] = "name is required"
	case len(name) > maxNameLength:
		ferr["name"] = fmt.Sprintf("name exceeds %d characters", maxNameLength)
	}
	if strings.TrimSpace(input.Description) == "" {
		ferr["description"] = "description is required"
	}

	switch {
	case len(input.File) == 0:
		ferr["file"] = "asset file is required"
	case len(input.File) > ipfs.MaxPayloadSize:
		ferr["file"] = fmt.Sprintf("file exceeds %d MiB", ipfs.MaxPayloadSize>>20)
	case !ipfs.AllowedMIME(input.FileMIME):
		ferr["file"] = fmt.Sprintf("unsupported file type %q", input.FileMIME)
	}

	priceWei := big.NewInt(0)
	if s := strings.TrimSpace(input.Price); s != "" {
		wei, err := format.ParseEther(s)
		switch {
		case !format.IsNumeric(s), err != nil:
			ferr["price"] = "price must be a valid amount"
		case wei.Sign() < 0:
			ferr["price"] = "price cannot be negative"
		default:
			priceWei = wei
		}
	}

	var royaltyBP uint64
	if s := strings.TrimSpace(input.RoyaltyPercent); s != "" {
		bp, err := format.PercentToBasisPoints(s)
		if err != nil {
			ferr["royalty"] = "royalty must be a valid percentage"
		} else {
			royaltyBP = bp
			if max, ok := o.maxRoyalty(ctx); ok && royaltyBP > max {
				ferr["royalty"] = fmt.Sprintf("royalty exceeds the %s%% maximum", format.BasisPointsToPercent(max))
			}
		}
	}

	return priceWei, royaltyBP, ferr
}

// maxRoyalty reads the contract's royalty cap from the cached stats,
// refreshing when nothing is cached yet. An unreachable ledger skips
// the bound; the contract enforces it authoritatively anyway.
func (o *Orchestrator) maxRoyalty(ctx context.Context) (uint64, bool) {
	stats, err := o.view.ContractStats(ctx)
	if err != nil || stats == nil {
		return 0, false
	}
	return stats.Stats.MaxRoyaltyFee, true
}

// invalidateAfterMint marks every view the confirmed mint changed. The
// event stream triggers the same invalidations; doing it here too makes
// the creator's own views refresh even with the stream down.
func (o *Orchestrator) invalidateAfterMint(creator string, priceWei *big.Int) {
	o.view.Invalidate(readmodel.ScopeOwnedTokens(creator))
	o.view.Invalidate(readmodel.ScopeContractStats())
	o.view.Invalidate(readmodel.ScopeUserStats(creator))
	if priceWei.Sign() > 0 {
		o.view.Invalidate(readmodel.ScopeTokensForSale())
	}
}
