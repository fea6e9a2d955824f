package ingest

import "errors"

// Sentinel errors for the ingest bridge.
var (
	// ErrInvalidPayload is returned when a message is not a JSON point.
	ErrInvalidPayload = errors.New("ingest: invalid payload")

	// ErrNoMeasurement is returned when neither the payload, the topic nor
	// the configured default supply a measurement name.
	ErrNoMeasurement = errors.New("ingest: no measurement")
)
