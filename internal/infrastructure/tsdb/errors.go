package tsdb

import (
	"errors"
	"fmt"
)

// Sentinel errors for time-series database operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, tsdb.ErrNoFields) {
//	    // Point was dropped before reaching the buffer
//	}
var (
	// ErrNoFields indicates a point without fields, which cannot be encoded.
	ErrNoFields = errors.New("tsdb: no fields")

	// ErrEmptyMeasurement indicates a point without a measurement name.
	ErrEmptyMeasurement = errors.New("tsdb: empty measurement")

	// ErrInvalidLine indicates a pre-encoded line that is empty or spans several lines.
	ErrInvalidLine = errors.New("tsdb: invalid line")

	// ErrUnsupportedField indicates a field value of a type the encoder cannot render.
	ErrUnsupportedField = errors.New("tsdb: unsupported field value")

	// ErrConnectionFailed indicates the initial health check failed.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteFailed indicates a batch could not be delivered.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrQueryFailed indicates a query could not be executed or was rejected.
	ErrQueryFailed = errors.New("tsdb: query failed")

	// ErrClosed indicates the client has been shut down.
	ErrClosed = errors.New("tsdb: client closed")
)

// EncodingError reports a point that could not be turned into a line.
// The point never enters the buffer.
type EncodingError struct {
	Measurement string
	Err         error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding %q: %v", e.Measurement, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// TransportError reports a failed send or query.
//
// StatusCode is 0 when the request never produced a response.
// Body holds the server's response text, if any, for diagnostics.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body == "":
		return fmt.Sprintf("%s: %v: HTTP %d", e.Op, e.Err, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v: HTTP %d: %s", e.Op, e.Err, e.StatusCode, e.Body)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
