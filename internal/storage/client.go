package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrCleanup wraps every failed object deletion.
	ErrCleanup = errors.New("storage: cleanup failed")
	// ErrNotConfigured is returned when provider credentials are absent.
	ErrNotConfigured = errors.New("storage: not configured")
)

// DefaultBaseURL is the provider API root.
const DefaultBaseURL = "https://api.cloudinary.com/v1_1"

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// Config holds provider credentials.
type Config struct {
	BaseURL      string
	CloudName    string
	APIKey       string
	APISecret    string
	ResourceType string
	Timeout      time.Duration
}

// Configured reports whether all credentials are present.
func (c Config) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// UploadSignature is what a browser needs to upload directly to the provider.
type UploadSignature struct {
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	APIKey    string `json:"apiKey"`
	CloudName string `json:"cloudName"`
}

// Client calls the provider's upload API.
type Client struct {
	http     *resty.Client
	signer   Signer
	cloud    string
	apiKey   string
	resource string
	now      func() time.Time
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	resource := cfg.ResourceType
	if resource == "" {
		resource = "image"
	}
	http := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")
	return &Client{
		http:     http,
		signer:   NewSigner(cfg.APISecret),
		cloud:    cfg.CloudName,
		apiKey:   cfg.APIKey,
		resource: resource,
		now:      time.Now,
	}
}

// SignUpload signs params for a direct upload. The timestamp is added when
// missing.
func (c *Client) SignUpload(params map[string]string) (UploadSignature, error) {
	signed := make(map[string]string, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	ts, err := strconv.ParseInt(signed["timestamp"], 10, 64)
	if err != nil || ts <= 0 {
		ts = c.now().Unix()
		signed["timestamp"] = strconv.FormatInt(ts, 10)
	}
	return UploadSignature{
		Signature: c.signer.Sign(signed),
		Timestamp: ts,
		APIKey:    c.apiKey,
		CloudName: c.cloud,
	}, nil
}

type destroyResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Destroy deletes the object behind a stored URL. An object that is already
// gone counts as deleted.
func (c *Client) Destroy(ctx context.Context, rawURL string) error {
	publicID, resource, err := ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	if resource == "" {
		resource = c.resource
	}
	params := map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	params["signature"] = c.signer.Sign(params)
	params["api_key"] = c.apiKey

	var out destroyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(params).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/%s/%s/destroy", c.cloud, resource))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCleanup, publicID, err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return fmt.Errorf("%w: %s: %s", ErrCleanup, publicID, msg)
	}
	switch out.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("%w: %s: result %q", ErrCleanup, publicID, out.Result)
	}
}

// ParseURL derives the public id and, when the URL carries one, the
// resource type from a delivery URL such as
// https://res.cloudinary.com/demo/image/upload/v1712/santri/ahmad.jpg.
func ParseURL(rawURL string) (publicID, resource string, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", err
	}
	p := u.Path
	idx := strings.Index(p, "/upload/")
	if idx < 0 {
		return "", "", fmt.Errorf("no upload segment in %q", rawURL)
	}
	if prefix := strings.Trim(p[:idx], "/"); prefix != "" {
		parts := strings.Split(prefix, "/")
		resource = parts[len(parts)-1]
	}
	segments := strings.Split(strings.Trim(p[idx+len("/upload/"):], "/"), "/")
	if len(segments) > 1 && versionSegment.MatchString(segments[0]) {
		segments = segments[1:]
	}
	last := len(segments) - 1
	segments[last] = strings.TrimSuffix(segments[last], path.Ext(segments[last]))
	publicID = strings.Join(segments, "/")
	if publicID == "" {
		return "", "", fmt.Errorf("empty public id in %q", rawURL)
	}
	return publicID, resource, nil
}

// Noop stands in for Client when no credentials are configured.
type Noop struct{}

// Destroy does nothing.
func (Noop) Destroy(context.Context, string) error { return nil }

// SignUpload reports ErrNotConfigured.
func (Noop) SignUpload(map[string]string) (UploadSignature, error) {
	return UploadSignature{}, ErrNotConfigured
}
