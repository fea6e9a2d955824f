package tsdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
)

// writeRecorder is an httptest handler capturing write requests.
type writeRecorder struct {
	mu      sync.Mutex
	bodies  []string
	headers []http.Header
	status  int
	reply   string
}

func (w *writeRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.mu.Lock()
	w.bodies = append(w.bodies, string(body))
	w.headers = append(w.headers, r.Header.Clone())
	status := w.status
	reply := w.reply
	w.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	rw.WriteHeader(status)
	if reply != "" {
		_, _ = rw.Write([]byte(reply))
	}
}

func (w *writeRecorder) Bodies() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.bodies...)
}

func (w *writeRecorder) Headers() []http.Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]http.Header(nil), w.headers...)
}

func newTransport(server *httptest.Server, token string) *HTTPTransport {
	return NewHTTPTransport(config.TSDBConfig{URL: server.URL + "/", Token: token}, server.Client())
}

func TestHTTPTransport_SendJoinsLines(t *testing.T) {
	rec := &writeRecorder{}
	mux := http.NewServeMux()
	mux.Handle("/write", rec)
	server := httptest.NewServer(mux)
	defer server.Close()

	tr := newTransport(server, "s3cret")
	if err := tr.Send(context.Background(), []string{"a v=1", "b v=2"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	bodies := rec.Bodies()
	if len(bodies) != 1 || bodies[0] != "a v=1\nb v=2" {
		t.Fatalf("bodies = %q, want [\"a v=1\\nb v=2\"]", bodies)
	}
	h := rec.Headers()[0]
	if got := h.Get("Authorization"); got != "Bearer s3cret" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer s3cret")
	}
	if got := h.Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/plain; charset=utf-8", got)
	}
}

func TestHTTPTransport_NoTokenNoAuthHeader(t *testing.T) {
	rec := &writeRecorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	tr := newTransport(server, "")
	if err := tr.Send(context.Background(), []string{"a v=1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := rec.Headers()[0].Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want empty", got)
	}
}

func TestHTTPTransport_SendNonNoContentFails(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{name: "ok is not no content", status: http.StatusOK},
		{name: "bad request", status: http.StatusBadRequest, reply: "unable to parse 'bad line'"},
		{name: "server error", status: http.StatusInternalServerError, reply: "overloaded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(&writeRecorder{status: tt.status, reply: tt.reply})
			defer server.Close()

			err := newTransport(server, "").Send(context.Background(), []string{"a v=1"})
			if !errors.Is(err, ErrWriteFailed) {
				t.Fatalf("Send() error = %v, want ErrWriteFailed", err)
			}
			var trErr *TransportError
			if !errors.As(err, &trErr) {
				t.Fatalf("Send() error type = %T, want *TransportError", err)
			}
			if trErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", trErr.StatusCode, tt.status)
			}
			if trErr.Body != tt.reply {
				t.Errorf("Body = %q, want %q", trErr.Body, tt.reply)
			}
		})
	}
}

func TestHTTPTransport_SendNetworkFailure(t *testing.T) {
	server := httptest.NewServer(&writeRecorder{})
	tr := newTransport(server, "")
	server.Close()

	err := tr.Send(context.Background(), []string{"a v=1"})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Send() error = %v, want ErrWriteFailed", err)
	}
	var trErr *TransportError
	if errors.As(err, &trErr) && trErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for network failure", trErr.StatusCode)
	}
}

func TestHTTPTransport_CustomWritePath(t *testing.T) {
	rec := &writeRecorder{}
	mux := http.NewServeMux()
	mux.Handle("/api/v2/write", rec)
	server := httptest.NewServer(mux)
	defer server.Close()

	tr := NewHTTPTransport(config.TSDBConfig{URL: server.URL, WritePath: "/api/v2/write"}, server.Client())
	if err := tr.Send(context.Background(), []string{"a v=1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(rec.Bodies()) != 1 {
		t.Errorf("requests on custom path = %d, want 1", len(rec.Bodies()))
	}
}

func TestHTTPTransport_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := newTransport(server, "").HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newTransport(server, "").HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should return error for cancelled context")
	}
}

// TestClient_EndToEnd drives the client against a real HTTP server: a
// rejected batch is retried in order and delivered once the server recovers.
func TestClient_EndToEnd(t *testing.T) {
	rec := &writeRecorder{status: http.StatusServiceUnavailable, reply: "busy"}
	mux := http.NewServeMux()
	mux.Handle("/write", rec)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := Connect(context.Background(), config.TSDBConfig{
		URL:           server.URL,
		Token:         "tok",
		BatchSize:     2,
		FlushInterval: time.Hour,
	}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	p1 := Point{Measurement: "logs"}
	p1.AddTag("app", "main")
	p1.AddField("level", "info")
	p2 := Point{Measurement: "logs", Timestamp: time.UnixMilli(1700000000000)}
	p2.AddField("count", 2)

	_ = client.WritePoint(p1)
	if err := client.Flush(context.Background()); err == nil {
		t.Fatal("Flush() should fail while server returns 503")
	}
	_ = client.WritePoint(p2)

	rec.mu.Lock()
	rec.status = http.StatusNoContent
	rec.reply = ""
	rec.mu.Unlock()

	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	bodies := rec.Bodies()
	last := bodies[len(bodies)-1]
	want := "logs,app=main level=\"info\"\nlogs count=2 1700000000000000000"
	if last != want {
		t.Errorf("delivered body = %q, want %q", last, want)
	}
	if client.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", client.Pending())
	}
}

func TestConnect_HealthCheckFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := Connect(context.Background(), config.TSDBConfig{URL: server.URL}, WithHTTPClient(server.Client()))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if client != nil {
		t.Error("Connect() should return nil client on failure")
	}
}
