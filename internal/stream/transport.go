package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
)

// Conn is one live push connection delivering newline-delimited payloads.
type Conn interface {
	// ReadLine blocks until the next payload line or a connection error.
	ReadLine() ([]byte, error)
	Close() error
}

// Transport opens push connections. The context is cancelled when the
// attempt is abandoned (timeout, Stop); implementations must unblock.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// HTTPTransport reads the backend's long-lived order stream endpoint:
// one JSON envelope per line, with periodic ping keep-alives.
type HTTPTransport struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPTransport builds the production transport. The http client carries
// no overall timeout; the stream is expected to stay open indefinitely and
// the caller bounds the connect phase itself.
func NewHTTPTransport(url, token string) *HTTPTransport {
	return &HTTPTransport{
		url:    url,
		token:  token,
		client: &http.Client{},
	}
}

func (t *HTTPTransport) Connect(ctx context.Context) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "building stream request")
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "opening stream")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, pkgerrors.New(pkgerrors.CodeTransport, fmt.Sprintf("stream endpoint returned %d", resp.StatusCode))
	}

	return &httpConn{
		reader: bufio.NewReader(resp.Body),
		body:   resp.Body,
	}, nil
}

type httpConn struct {
	reader *bufio.Reader
	body   io.ReadCloser
}

func (c *httpConn) ReadLine() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
			// final line without trailing newline
			return bytes.TrimSpace(line), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "reading stream")
	}
	return bytes.TrimSpace(line), nil
}

func (c *httpConn) Close() error {
	return c.body.Close()
}
