package ipfs

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Scheme is the URI scheme stored on-chain for content pointers.
const Scheme = "ipfs://"

// DefaultGateway is the public HTTP gateway used to resolve hashes.
const DefaultGateway = "https://gateway.pinata.cloud/ipfs/"

// URI builds the canonical ipfs:// form of a content hash.
func URI(hash string) string {
	return Scheme + hash
}

// HashFromURI extracts the content hash from an ipfs:// URI, a gateway
// URL, or a bare hash. The hash component round-trips losslessly in
// both directions.
func HashFromURI(s string) (string, error) {
	hash := s
	switch {
	case strings.HasPrefix(s, Scheme):
		hash = strings.TrimPrefix(s, Scheme)
	case strings.Contains(s, "/ipfs/"):
		hash = s[strings.LastIndex(s, "/ipfs/")+len("/ipfs/"):]
	}
	if err := ValidateHash(hash); err != nil {
		return "", err
	}
	return hash, nil
}

// GatewayURL resolves an ipfs:// URI or bare hash to a fetchable URL on
// the given gateway prefix.
func GatewayURL(gateway, uriOrHash string) (string, error) {
	hash, err := HashFromURI(uriOrHash)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + hash, nil
}

// ValidateHash checks that the value is a well-formed CIDv0: 46
// characters, "Qm" prefix, base58btc payload decoding to a 34-byte
// sha2-256 multihash.
func ValidateHash(hash string) error {
	if len(hash) != 46 || !strings.HasPrefix(hash, "Qm") {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	raw, err := base58.Decode(hash)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidHash, hash, err)
	}
	// 0x12 = sha2-256, 0x20 = 32-byte digest
	if len(raw) != 34 || raw[0] != 0x12 || raw[1] != 0x20 {
		return fmt.Errorf("%w: %q is not a sha2-256 multihash", ErrInvalidHash, hash)
	}
	return nil
}
