package ipfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validHash is a well-formed CIDv0 (sha2-256 multihash, base58btc).
const validHash = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func TestURIRoundTrip(t *testing.T) {
	uri := URI(validHash)
	assert.Equal(t, "ipfs://"+validHash, uri)

	hash, err := HashFromURI(uri)
	require.NoError(t, err)
	assert.Equal(t, validHash, hash)
}

func TestHashFromURI(t *testing.T) {
	for _, in := range []string{
		validHash,
		"ipfs://" + validHash,
		"https://gateway.pinata.cloud/ipfs/" + validHash,
		"https://example.com/ipfs/" + validHash,
	} {
		hash, err := HashFromURI(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, validHash, hash, "input %q", in)
	}
}

func TestHashFromURIRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"ipfs://",
		"ipfs://tooshort",
		"Qm000000000000000000000000000000000000000000il", // 0, l not in base58
		"bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", // CIDv1
	} {
		_, err := HashFromURI(in)
		assert.ErrorIs(t, err, ErrInvalidHash, "input %q", in)
	}
}

func TestGatewayURL(t *testing.T) {
	url, err := GatewayURL("https://gw.example.com/ipfs/", "ipfs://"+validHash)
	require.NoError(t, err)
	assert.Equal(t, "https://gw.example.com/ipfs/"+validHash, url)

	// Missing trailing slash is tolerated.
	url, err = GatewayURL("https://gw.example.com/ipfs", validHash)
	require.NoError(t, err)
	assert.Equal(t, "https://gw.example.com/ipfs/"+validHash, url)
}

func TestValidateHash(t *testing.T) {
	assert.NoError(t, ValidateHash(validHash))
	assert.ErrorIs(t, ValidateHash("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbd"), ErrInvalidHash)
}
