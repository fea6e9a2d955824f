package tsdb

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

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
)

// Response size limits.
const (
	maxErrorBodySize = 64 << 10 // 64 KB
	maxResponseSize  = 10 << 20 // 10 MB
)

// Sender delivers one ordered batch of encoded lines.
//
// A nil error means the whole batch was accepted. Any error means none of
// it is considered delivered and the client re-queues the batch.
type Sender interface {
	Send(ctx context.Context, lines []string) error
}

// HTTPTransport talks to the TSDB over HTTP: newline-delimited line
// protocol POSTed to the write endpoint, and form-encoded PromQL queries.
//
// Thread Safety: safe for concurrent use.
type HTTPTransport struct {
	baseURL    string
	writePath  string
	queryPath  string
	token      string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport from the TSDB config.
// If httpClient is nil a client with cfg.RequestTimeout is used.
func NewHTTPTransport(cfg config.TSDBConfig, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	writePath := cfg.WritePath
	if writePath == "" {
		writePath = config.DefaultWritePath
	}
	queryPath := cfg.QueryPath
	if queryPath == "" {
		queryPath = config.DefaultQueryPath
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		writePath:  writePath,
		queryPath:  queryPath,
		token:      cfg.Token,
		httpClient: httpClient,
	}
}

// Send POSTs the lines joined by newlines. Only 204 No Content counts as
// success; anything else is a *TransportError carrying the response body.
func (t *HTTPTransport) Send(ctx context.Context, lines []string) error {
	body := strings.Join(lines, "\n")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+t.writePath, strings.NewReader(body))
	if err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("%w: %w", ErrWriteFailed, err)}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	t.authorize(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("%w: %w", ErrWriteFailed, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return &TransportError{
			Op:         "write",
			StatusCode: resp.StatusCode,
			Body:       readErrorBody(resp.Body),
			Err:        ErrWriteFailed,
		}
	}

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// HealthCheck verifies the TSDB is reachable via GET /health.
func (t *HTTPTransport) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	t.authorize(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tsdb health check: status %d", resp.StatusCode)
	}
	return nil
}

// Query executes an instant PromQL query.
func (t *HTTPTransport) Query(ctx context.Context, expr string) (*QueryResult, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrQueryFailed)
	}

	params := url.Values{}
	params.Set("query", expr)

	return t.doQuery(ctx, t.queryPath, params)
}

// QueryRange executes a PromQL range query.
func (t *HTTPTransport) QueryRange(ctx context.Context, expr string, start, end time.Time, step time.Duration) (*QueryResult, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrQueryFailed)
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: step must be positive", ErrQueryFailed)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrQueryFailed)
	}

	params := url.Values{}
	params.Set("query", expr)
	params.Set("start", formatUnixSeconds(start))
	params.Set("end", formatUnixSeconds(end))
	params.Set("step", formatStepSeconds(step))

	return t.doQuery(ctx, t.queryPath+"_range", params)
}

// doQuery POSTs a form-encoded query and decodes the JSON envelope.
func (t *HTTPTransport) doQuery(ctx context.Context, path string, params url.Values) (*QueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &TransportError{Op: "query", Err: fmt.Errorf("%w: %w", ErrQueryFailed, err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	t.authorize(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "query", Err: fmt.Errorf("%w: %w", ErrQueryFailed, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Op: "query", StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: reading response: %w", ErrQueryFailed, err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Op:         "query",
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(body)),
			Err:        ErrQueryFailed,
		}
	}

	var result QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &TransportError{Op: "query", StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: decoding response: %w", ErrQueryFailed, err)}
	}
	if result.Status != StatusSuccess {
		return nil, &TransportError{
			Op:         "query",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(result.ErrorType + " " + result.Error),
			Err:        ErrQueryFailed,
		}
	}

	return &result, nil
}

// authorize attaches the bearer token when one is configured.
func (t *HTTPTransport) authorize(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}

// readErrorBody reads a bounded amount of a failed response for diagnostics.
func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	_, _ = io.Copy(io.Discard, r)
	return string(bytes.TrimSpace(body))
}
