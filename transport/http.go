package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/probablyarth/connectreq"
)

// Response is the outcome of a fetch. Responses shared between deduplicated
// dispatches are the same value and must be treated as read-only.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FetchFunc performs the request described by cfg. It must honor ctx.
type FetchFunc func(ctx context.Context, cfg connectreq.QueryConfig) (*Response, error)

// StatusError reports an HTTP response with an error status.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= 500:
		return true
	}
	return false
}

// HTTPFetch returns a FetchFunc that performs cfg as an HTTP request with
// client, or http.DefaultClient when client is nil.
//
// The method is taken from Options["method"], defaulting to GET, or POST
// when the config has a body. Options["headers"] may hold a map of header
// values. Responses with a status of 400 or above are returned together with
// a *StatusError.
func HTTPFetch(client *http.Client) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, cfg connectreq.QueryConfig) (*Response, error) {
		method := http.MethodGet
		var body io.Reader
		if len(cfg.Body) > 0 {
			method = http.MethodPost
			body = bytes.NewReader(cfg.Body)
		}
		if m, ok := cfg.Options["method"].(string); ok && m != "" {
			method = strings.ToUpper(m)
		}

		req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		switch headers := cfg.Options["headers"].(type) {
		case map[string]string:
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		case map[string]any:
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprint(v))
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response from %s: %w", cfg.URL, err)
		}

		out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
		if resp.StatusCode >= 400 {
			return out, &StatusError{URL: cfg.URL, StatusCode: resp.StatusCode, Body: data}
		}
		return out, nil
	}
}
