package pollrpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"
)

// ErrHTTPStatus is wrapped by [ErrBadResponse] for non 2xx replies.
var ErrHTTPStatus = errors.New("http: response error")

// HTTPSender implements a [RequestSender] that POSTs requests with an [http.Client].
//
// Set the exported fields before first use. HTTPSender is safe for concurrent use.
type HTTPSender struct {
	// Client is used when set; otherwise one is built from Timeout and InsecureSkipVerify.
	Client *http.Client
	client *http.Client
	URL    string
	once   sync.Once
	// Timeout bounds each request, including reading the response.
	Timeout time.Duration
	// MaxResponseSize limits the response body in bytes. Zero selects [DefaultMaxMessageSize];
	// negative disables the limit.
	MaxResponseSize int64
	// InsecureSkipVerify disables certificate verification for https urls.
	InsecureSkipVerify bool
}

// NewHTTPSender returns a [*HTTPSender] that sends requests to url.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{URL: url}
}

func (h *HTTPSender) httpClient() *http.Client {
	if h.Client != nil {
		return h.Client
	}

	h.once.Do(func() {
		transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert //Always a *http.Transport
		if h.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec //Opt in
		}

		h.client = &http.Client{Transport: transport, Timeout: h.Timeout}
	})

	return h.client
}

// SendRequest implements [RequestSender].
//
// Network failures and requests that cannot be built wrap [ErrNoConnection]. Replies that
// are not 2xx, not application/json or larger than MaxResponseSize wrap [ErrBadResponse].
func (h *HTTPSender) SendRequest(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoConnection, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoConnection, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %w (status: %s)", ErrBadResponse, ErrHTTPStatus, resp.Status)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "application/json" {
		return nil, fmt.Errorf("%w: content type %q (status: %s)", ErrBadResponse, resp.Header.Get("Content-Type"), resp.Status)
	}

	limit := h.MaxResponseSize
	if limit == 0 {
		limit = DefaultMaxMessageSize
	}

	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoConnection, err)
	}

	if limit > 0 && int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: %w (limit: %d bytes)", ErrBadResponse, ErrJSONTooLarge, limit)
	}

	return out, nil
}

// CloseIdleConnections closes idle connections of the underlying client.
func (h *HTTPSender) CloseIdleConnections() {
	h.httpClient().CloseIdleConnections()
}
