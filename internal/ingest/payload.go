package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/linebuffer/internal/infrastructure/mqtt"
	"github.com/nerrad567/linebuffer/internal/infrastructure/tsdb"
)

// Message is the JSON body carried on ingest topics.
//
// Example:
//
//	{"measurement":"climate","tags":{"room":"kitchen"},
//	 "fields":{"temperature":21.5,"heating":true},"timestamp":1700000000000}
type Message struct {
	Measurement string            `json:"measurement,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Fields      map[string]any    `json:"fields"`

	// Timestamp is milliseconds since the Unix epoch. Absent means the
	// server assigns the ingest time.
	Timestamp json.Number `json:"timestamp,omitempty"`
}

// Decode turns an MQTT message into a Point.
//
// The measurement comes from the payload, else the last topic level, else
// defaultMeasurement. Numbers are kept as json.Number so integers and
// floats are written exactly as published.
//
// Parameters:
//   - topic: Topic the message arrived on
//   - payload: JSON body (see Message)
//   - defaultMeasurement: Fallback measurement name, may be empty
//
// Returns:
//   - tsdb.Point: Decoded point with tags and fields in key order
//   - error: ErrInvalidPayload or ErrNoMeasurement
func Decode(topic string, payload []byte, defaultMeasurement string) (tsdb.Point, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return tsdb.Point{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	measurement := msg.Measurement
	if measurement == "" {
		measurement = mqtt.LastLevel(topic)
	}
	if measurement == "" || measurement == "+" || measurement == "#" {
		measurement = defaultMeasurement
	}
	if measurement == "" {
		return tsdb.Point{}, ErrNoMeasurement
	}

	p := tsdb.NewPoint(measurement, msg.Tags, msg.Fields)

	if msg.Timestamp != "" {
		ts, err := parseMillis(msg.Timestamp)
		if err != nil {
			return tsdb.Point{}, fmt.Errorf("%w: timestamp: %w", ErrInvalidPayload, err)
		}
		p.SetTime(ts)
	}

	return p, nil
}

// parseMillis accepts integer or fractional epoch milliseconds.
func parseMillis(n json.Number) (time.Time, error) {
	if ms, err := n.Int64(); err == nil {
		return time.UnixMilli(ms), nil
	}
	f, err := n.Float64()
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64/1e6 {
		return time.Time{}, fmt.Errorf("%s out of range", n)
	}
	return time.Unix(0, int64(f*1e6)), nil
}
