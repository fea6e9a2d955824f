package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/linebuffer/internal/infrastructure/tsdb"
	"github.com/nerrad567/linebuffer/internal/ingest"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Pending int    `json:"pending"`
	Error   string `json:"error,omitempty"`
}

// metricsResponse is the body of GET /metrics.
type metricsResponse struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	Pending       int            `json:"pending"`
	FlushFailures uint64         `json:"flush_failures"`
	Ingest        *ingestMetrics `json:"ingest,omitempty"`
}

type ingestMetrics struct {
	Received uint64 `json:"received"`
	Written  uint64 `json:"written"`
	Rejected uint64 `json:"rejected"`
}

// handleHealth reports whether the TSDB answers its health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		Pending: s.writer.Pending(),
	}
	if err := s.writer.HealthCheck(ctx); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics reports queue depth, failed flushes and ingest counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := metricsResponse{
		UptimeSeconds: int64(time.Since(s.started) / time.Second),
		Pending:       s.writer.Pending(),
	}
	if s.flushFailures != nil {
		resp.FlushFailures = s.flushFailures()
	}
	if s.ingestMetrics != nil {
		m := s.ingestMetrics()
		resp.Ingest = &ingestMetrics{
			Received: m.Received,
			Written:  m.Written,
			Rejected: m.Rejected,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWrite queues every line of the body.
//
// Blank lines and lines starting with '#' are skipped. Lines that fail to
// decode or encode are counted and reported in a 400; the others stay
// queued. A closed client answers 503.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeBadRequest(w, "reading request body")
		return
	}

	jsonBody := isJSON(r.Header.Get("Content-Type"))
	measurement := r.URL.Query().Get("measurement")
	if measurement == "" {
		measurement = s.defaultMeasurement
	}

	var accepted, rejected int
	var firstErr error

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var err error
		if jsonBody {
			err = s.writeJSONLine(line, measurement)
		} else {
			err = s.writer.WriteLine(line)
		}

		switch {
		case errors.Is(err, tsdb.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "writer is shutting down")
			return
		case err != nil:
			rejected++
			if firstErr == nil {
				firstErr = err
			}
		default:
			accepted++
		}
	}
	if err := scanner.Err(); err != nil {
		writeBadRequest(w, fmt.Sprintf("reading request body: %v", err))
		return
	}

	if rejected > 0 {
		s.logger.Warn("write request partially rejected",
			"accepted", accepted,
			"rejected", rejected,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", firstErr,
		)
		writeError(w, http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("%d of %d lines rejected: %v", rejected, accepted+rejected, firstErr))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSONLine decodes one JSON point and queues it.
func (s *Server) writeJSONLine(line, measurement string) error {
	p, err := ingest.Decode("", []byte(line), measurement)
	if err != nil {
		return err
	}
	return s.writer.WritePoint(p)
}

// isJSON reports whether the content type selects JSON points.
func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/json", "application/x-ndjson":
		return true
	}
	return false
}
