// Package remote is the HTTP surface between a sync server holding the
// snapshot and update log, and the machine running the player.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/bowmanmike/libsync/internal/app"
)

const (
	defaultTimeout   = 30 * time.Second
	updatesEndpoint  = "updates"
	ackEndpoint      = "updates/ack"
	artworkEndpoint  = "artwork"
	versionEndpoint  = "snapshot/version"
	authHeader       = "Authorization"
	maxErrorBodySize = 512
)

// ErrRemoteRefused is returned when the server rejects the request.
var ErrRemoteRefused = errors.New("remote refused request")

// TokenSource mints bearer tokens for the service identity.
type TokenSource interface {
	IssueService() (string, error)
}

// Config drives Client construction.
type Config struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
}

// Client talks to a sync server. Requests are sequential.
type Client struct {
	baseURL    *url.URL
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient builds a sync server client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token source is required")
	}

	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    parsed,
		tokens:     cfg.Tokens,
		httpClient: cfg.HTTPClient,
	}, nil
}

// FetchUpdates downloads the server's pending updates. A refusal in the
// message is returned as ErrRemoteRefused before any update is surfaced.
func (c *Client) FetchUpdates(ctx context.Context) ([]app.PendingUpdate, error) {
	body, err := c.doRequest(ctx, http.MethodGet, updatesEndpoint, ContentType, nil)
	if err != nil {
		return nil, err
	}

	var msg UpdatesMessage
	if err := msgp.Decode(bytes.NewReader(body), &msg); err != nil {
		return nil, fmt.Errorf("decode updates message: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrRemoteRefused, *msg.Error)
	}
	return msg.Pending()
}

// AcknowledgeUpdate tells the server the update reached the player so it
// leaves the server's update log. A newer edit for the same field survives.
func (c *Client) AcknowledgeUpdate(ctx context.Context, upd app.PendingUpdate) error {
	var buf bytes.Buffer
	if err := msgp.Encode(&buf, NewUpdatesMessage([]app.PendingUpdate{upd})); err != nil {
		return fmt.Errorf("encode acknowledgement: %w", err)
	}
	if _, err := c.doRequest(ctx, http.MethodPost, ackEndpoint, "application/json", &buf); err != nil {
		return err
	}
	return nil
}

// FetchArtwork downloads one artwork file by name.
func (c *Client) FetchArtwork(ctx context.Context, filename string) ([]byte, error) {
	if !app.ValidArtworkFilename(filename) {
		return nil, fmt.Errorf("invalid artwork filename %q", filename)
	}
	return c.doRequest(ctx, http.MethodGet, path.Join(artworkEndpoint, filename), "", nil)
}

// SnapshotVersion returns the server's export marker in Unix nanoseconds,
// 0 while the server has no finished export.
func (c *Client) SnapshotVersion(ctx context.Context) (int64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, versionEndpoint, "application/json", nil)
	if err != nil {
		return 0, err
	}
	var resp versionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return resp.Version, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint, accept string, body io.Reader) ([]byte, error) {
	u := *c.baseURL
	u.Path = ensureLeadingSlash(path.Join(c.baseURL.Path, endpoint))

	token, err := c.tokens.IssueService()
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(authHeader, "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", ContentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		err := fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %v", ErrRemoteRefused, err)
		}
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return data, nil
}

func ensureLeadingSlash(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

type versionResponse struct {
	Version       int64 `json:"version"`
	TotalFileSize int64 `json:"total_file_size"`
}
