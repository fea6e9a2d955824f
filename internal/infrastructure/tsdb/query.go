package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Query response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result types of a query response.
const (
	ResultVector = "vector"
	ResultMatrix = "matrix"
	ResultScalar = "scalar"
	ResultString = "string"
)

// QueryResult is the Prometheus-compatible query API envelope.
type QueryResult struct {
	Status    string    `json:"status"`
	Data      QueryData `json:"data"`
	ErrorType string    `json:"errorType,omitempty"`
	Error     string    `json:"error,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// QueryData holds the result, shaped according to ResultType.
type QueryData struct {
	ResultType string          `json:"resultType"`
	Result     json.RawMessage `json:"result"`
}

// SamplePair is one [timestamp, "value"] pair.
type SamplePair struct {
	Time  time.Time
	Value string
}

// Float parses the sample value.
func (s SamplePair) Float() (float64, error) {
	return strconv.ParseFloat(s.Value, 64)
}

// UnmarshalJSON decodes the [seconds, "value"] array form.
func (s *SamplePair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sample pair: %w", err)
	}
	var seconds float64
	if err := json.Unmarshal(raw[0], &seconds); err != nil {
		return fmt.Errorf("sample timestamp: %w", err)
	}
	if err := json.Unmarshal(raw[1], &s.Value); err != nil {
		return fmt.Errorf("sample value: %w", err)
	}
	s.Time = parseUnixSeconds(seconds)
	return nil
}

// Sample is one element of a vector result.
type Sample struct {
	Metric map[string]string `json:"metric"`
	Value  SamplePair        `json:"value"`
}

// Series is one element of a matrix result.
type Series struct {
	Metric map[string]string `json:"metric"`
	Values []SamplePair      `json:"values"`
}

// Vector decodes a vector result.
func (r *QueryResult) Vector() ([]Sample, error) {
	var out []Sample
	if err := r.decode(ResultVector, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Matrix decodes a matrix result.
func (r *QueryResult) Matrix() ([]Series, error) {
	var out []Series
	if err := r.decode(ResultMatrix, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Scalar decodes a scalar result.
func (r *QueryResult) Scalar() (SamplePair, error) {
	var out SamplePair
	err := r.decode(ResultScalar, &out)
	return out, err
}

// StringValue decodes a string result.
func (r *QueryResult) StringValue() (SamplePair, error) {
	var out SamplePair
	err := r.decode(ResultString, &out)
	return out, err
}

func (r *QueryResult) decode(resultType string, v any) error {
	if r.Data.ResultType != resultType {
		return fmt.Errorf("result type is %q, not %q", r.Data.ResultType, resultType)
	}
	if err := json.Unmarshal(r.Data.Result, v); err != nil {
		return fmt.Errorf("decoding %s result: %w", resultType, err)
	}
	return nil
}

// Query executes an instant PromQL query.
//
// Queries bypass the write buffer: failures are returned directly and are
// never retried.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - expr: PromQL expression
//
// Returns:
//   - *QueryResult: Decoded response envelope
//   - error: *TransportError wrapping ErrQueryFailed on failure
func (c *Client) Query(ctx context.Context, expr string) (*QueryResult, error) {
	if c == nil || c.closed.Load() {
		return nil, ErrClosed
	}
	return c.gateway.Query(ctx, expr)
}

// QueryRange executes a PromQL range query.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - expr: PromQL expression
//   - start: Start time for the range
//   - end: End time for the range
//   - step: Query resolution step
func (c *Client) QueryRange(ctx context.Context, expr string, start, end time.Time, step time.Duration) (*QueryResult, error) {
	if c == nil || c.closed.Load() {
		return nil, ErrClosed
	}
	return c.gateway.QueryRange(ctx, expr, start, end, step)
}

// formatUnixSeconds converts a timestamp to a seconds-since-epoch string.
func formatUnixSeconds(t time.Time) string {
	seconds := float64(t.UnixNano()) / float64(time.Second)
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

// formatStepSeconds converts a step duration to a Prometheus-compatible seconds string.
func formatStepSeconds(step time.Duration) string {
	return strconv.FormatFloat(step.Seconds(), 'f', -1, 64)
}

// parseUnixSeconds converts fractional epoch seconds to a time.
func parseUnixSeconds(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}
