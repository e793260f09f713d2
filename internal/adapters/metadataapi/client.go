package metadataapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/manthysbr/metaingest/internal/core/ports"
)

// Client posts node and edge batches to the metadata API.
type Client struct {
	baseURL string
	orgID   string
	token   string
	client  *http.Client
}

// Ensure Client implements Publisher
var _ ports.Publisher = (*Client)(nil)

// NewClient builds a client for {baseURL}/orgs/{orgID}. A nil httpClient
// gets DefaultHTTPClient.
func NewClient(baseURL, orgID, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		orgID:   orgID,
		token:   token,
		client:  httpClient,
	}
}

// DefaultHTTPClient has connect, handshake and response timeouts suitable
// for batch uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   2,
		},
	}
}

// Endpoint returns the URL a resource collection is posted to.
func (c *Client) Endpoint(resource string) string {
	return fmt.Sprintf("%s/orgs/%s/%s", c.baseURL, url.PathEscape(c.orgID), resource)
}

// Headers returns the headers sent with every batch.
func (c *Client) Headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) Publish(ctx context.Context, resource string, batch ports.Batch) (int, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("encode %s batch: %w", resource, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(resource), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", resource, err)
	}
	req.Header = c.Headers()

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("metadata api connection failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, nil
}
