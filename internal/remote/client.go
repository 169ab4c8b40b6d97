// Package remote talks to the order backend: full list fetches for the
// poller and reconciler, plus the mutations mirrored from local actions.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ordersync/internal/orders"
	"github.com/angelmondragon/ordersync/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

// Client wraps the backend order API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds a backend client. The token may be empty for backends
// that authenticate out of band.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "backend base URL is required")
	}

	client := &Client{
		baseURL:    trimmed,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// StatusPatch is the mutation payload for a status change. Items and Total
// are sent only when the change also trims the order's contents.
type StatusPatch struct {
	Status      enums.OrderStatus  `json:"status"`
	Items       []orders.OrderItem `json:"items,omitempty"`
	Total       *decimal.Decimal   `json:"total,omitempty"`
	CancelledAt *time.Time         `json:"cancelledAt,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// FetchOrders retrieves the authoritative order list for the session.
func (c *Client) FetchOrders(ctx context.Context) ([]orders.OrderRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders", nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "build list request")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "execute list request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "list request failed")
	}

	var apiResp struct {
		Orders []orders.OrderRecord `json:"orders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "decode list response")
	}
	return apiResp.Orders, nil
}

// PatchStatus applies a status mutation to the order identified by key.
func (c *Client) PatchStatus(ctx context.Context, key string, patch StatusPatch) error {
	if strings.TrimSpace(key) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order key is required")
	}
	if !patch.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	payload, err := json.Marshal(patch)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteMutation, err, "marshal status patch")
	}

	target := fmt.Sprintf("%s/v1/orders/%s", c.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteMutation, err, "build status patch request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteMutation, err, "execute status patch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp, "status patch failed")
	}
	return nil
}

// DeleteOrder removes the order identified by key from the backend.
func (c *Client) DeleteOrder(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order key is required")
	}

	target := fmt.Sprintf("%s/v1/orders/%s", c.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteMutation, err, "build delete request")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteMutation, err, "execute delete")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		// a 404 means the backend already forgot the order; the local
		// tombstone has done its job
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return statusError(resp, "delete failed")
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func statusError(resp *http.Response, msg string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.Wrap(pkgerrors.CodeTransport, cause, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeRemoteMutation, cause, msg)
}
