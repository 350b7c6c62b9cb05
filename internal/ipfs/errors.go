package ipfs

import "errors"

// Content store failure classes. The client surfaces these verbatim and
// never retries on its own; the calling orchestrator decides what is
// worth retrying.
var (
	// ErrAuth means the store rejected the configured credentials.
	ErrAuth = errors.New("content store rejected credentials")

	// ErrPayloadTooLarge means the content exceeds MaxPayloadSize.
	// Enforced client-side before any network call.
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")

	// ErrUnsupportedMedia means the MIME type is outside the allow-list.
	// Enforced client-side before any network call.
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrTransient wraps network failures and retryable server errors
	// (timeouts, 429, 5xx).
	ErrTransient = errors.New("transient content store error")

	// ErrInvalidHash means a value is not a valid content hash or
	// ipfs:// URI.
	ErrInvalidHash = errors.New("invalid content hash")
)

// errorClass buckets a store error for metric labels.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrUnsupportedMedia):
		return "unsupported_media"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "other"
	}
}
