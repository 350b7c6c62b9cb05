// Package ipfs is the content store client: it pins binary assets and
// JSON records to a Pinata-compatible pinning service and resolves
// content hashes through an HTTP gateway. It carries no business logic;
// validation failures and store errors are surfaced verbatim upward.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/observability"
)

// MaxPayloadSize is the per-upload cap enforced before any network call.
const MaxPayloadSize = 10 << 20 // 10 MiB

// DefaultAPIURL is the pinning service API endpoint.
const DefaultAPIURL = "https://api.pinata.cloud"

// allowedMIME is the upload allow-list for binary assets.
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// AllowedMIME reports whether the MIME type is accepted for upload.
func AllowedMIME(mime string) bool {
	return allowedMIME[mime]
}

// Config holds the store credentials and endpoints. Either JWT or the
// APIKey/APISecret pair must be set.
type Config struct {
	APIKey    string
	APISecret string
	JWT       string
	APIURL    string // defaults to DefaultAPIURL
	Gateway   string // defaults to DefaultGateway
}

// Client talks to the pinning API and the gateway.
type Client struct {
	http    *resty.Client
	gateway string
	logger  logrus.FieldLogger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a content store client. Credentials are required;
// their absence is a configuration error, not a runtime one.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.JWT == "" && (cfg.APIKey == "" || cfg.APISecret == "") {
		return nil, fmt.Errorf("content store credentials missing: set JWT or API key/secret")
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	gateway := cfg.Gateway
	if gateway == "" {
		gateway = DefaultGateway
	}

	// No automatic retries: the orchestrators own retry decisions.
	r := resty.New().
		SetBaseURL(apiURL).
		SetRetryCount(0)

	if cfg.JWT != "" {
		r.SetAuthToken(cfg.JWT)
	} else {
		r.SetHeader("pinata_api_key", cfg.APIKey)
		r.SetHeader("pinata_secret_api_key", cfg.APISecret)
	}

	c := &Client{
		http:    r,
		gateway: gateway,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Gateway returns the configured gateway prefix.
func (c *Client) Gateway() string {
	return c.gateway
}

// pinResponse is the pinning API's upload result.
type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// pinMetadata is the label block attached to a pin.
type pinMetadata struct {
	Name      string            `json:"name,omitempty"`
	Keyvalues map[string]string `json:"keyvalues,omitempty"`
}

// PinFile uploads a binary asset and returns its content hash. Size and
// MIME checks run before the request is built, so oversized or
// unsupported content never reaches the network.
func (c *Client) PinFile(ctx context.Context, name string, content []byte, mime string, keyvalues map[string]string) (string, error) {
	if len(content) > MaxPayloadSize {
		observability.RecordPinError("file", "payload_too_large")
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(content), MaxPayloadSize)
	}
	if !AllowedMIME(mime) {
		observability.RecordPinError("file", "unsupported_media")
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, mime)
	}

	meta, err := json.Marshal(pinMetadata{Name: name, Keyvalues: keyvalues})
	if err != nil {
		return "", fmt.Errorf("marshal pin metadata: %w", err)
	}

	var result pinResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(content)).
		SetMultipartFormData(map[string]string{"pinataMetadata": string(meta)}).
		SetResult(&result).
		Post("/pinning/pinFileToIPFS")
	if err != nil {
		observability.RecordPinError("file", "network")
		return "", fmt.Errorf("%w: pin file: %v", ErrTransient, err)
	}
	if err := c.statusError(resp); err != nil {
		observability.RecordPinError("file", errorClass(err))
		return "", err
	}

	c.logger.WithFields(logrus.Fields{"hash": result.IpfsHash, "bytes": len(content)}).Debug("pinned file")
	observability.RecordPin("file", len(content))
	return result.IpfsHash, nil
}

// PinJSON serializes v deterministically and pins it, returning the
// content hash.
func (c *Client) PinJSON(ctx context.Context, v interface{}, name string, keyvalues map[string]string) (string, error) {
	body := map[string]interface{}{
		"pinataContent": v,
	}
	if name != "" || len(keyvalues) > 0 {
		body["pinataMetadata"] = pinMetadata{Name: name, Keyvalues: keyvalues}
	}

	var result pinResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&result).
		Post("/pinning/pinJSONToIPFS")
	if err != nil {
		observability.RecordPinError("json", "network")
		return "", fmt.Errorf("%w: pin json: %v", ErrTransient, err)
	}
	if err := c.statusError(resp); err != nil {
		observability.RecordPinError("json", errorClass(err))
		return "", err
	}

	c.logger.WithField("hash", result.IpfsHash).Debug("pinned json")
	observability.RecordPin("json", 0)
	return result.IpfsHash, nil
}

// Fetch resolves a hash or ipfs:// URI through the gateway and returns
// the raw content.
func (c *Client) Fetch(ctx context.Context, uriOrHash string) ([]byte, error) {
	url, err := GatewayURL(c.gateway, uriOrHash)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrTransient, uriOrHash, err)
	}
	if err := c.statusError(resp); err != nil {
		return nil, err
	}
	observability.RecordGatewayFetch(time.Since(start).Seconds())
	return resp.Body(), nil
}

// FetchJSON fetches a hash and decodes it into out.
func (c *Client) FetchJSON(ctx context.Context, uriOrHash string, out interface{}) error {
	body, err := c.Fetch(ctx, uriOrHash)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode content %s: %w", uriOrHash, err)
	}
	return nil
}

// UpdatePinMetadata replaces the label block of an existing pin. The
// content itself is immutable; only the store-side labels change.
func (c *Client) UpdatePinMetadata(ctx context.Context, hash, name string, keyvalues map[string]string) error {
	if err := ValidateHash(hash); err != nil {
		return err
	}

	body := map[string]interface{}{
		"ipfsPinHash": hash,
		"name":        name,
		"keyvalues":   keyvalues,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Put("/pinning/hashMetadata")
	if err != nil {
		return fmt.Errorf("%w: update pin metadata: %v", ErrTransient, err)
	}
	return c.statusError(resp)
}

// TestAuth verifies the configured credentials against the store.
func (c *Client) TestAuth(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/data/testAuthentication")
	if err != nil {
		return fmt.Errorf("%w: test auth: %v", ErrTransient, err)
	}
	return c.statusError(resp)
}

// statusError maps HTTP failure statuses onto the error taxonomy.
func (c *Client) statusError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	code := resp.StatusCode()
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %s", ErrAuth, resp.Status())
	case code == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: status %s", ErrPayloadTooLarge, resp.Status())
	case code == http.StatusUnsupportedMediaType:
		return fmt.Errorf("%w: status %s", ErrUnsupportedMedia, resp.Status())
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %s", ErrTransient, resp.Status())
	default:
		return fmt.Errorf("content store request failed: status %s: %s", resp.Status(), resp.String())
	}
}
