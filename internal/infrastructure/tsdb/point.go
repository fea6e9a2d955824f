package tsdb

import (
	"sort"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	protocol "github.com/influxdata/line-protocol"
)

// Tag is an indexed dimension of a point.
type Tag struct {
	Key   string
	Value string
}

// Field is a value carried by a point.
//
// Value must be a string, bool, any Go integer or float type, or json.Number.
type Field struct {
	Key   string
	Value any
}

// Point is one measurement observation.
//
// Tags and fields are encoded in slice order. A zero Timestamp means the
// point carries no timestamp and the server assigns ingest time. Timestamps
// have millisecond resolution on the wire; sub-millisecond digits are
// truncated when encoding.
//
// The client encodes a point synchronously inside WritePoint, so changes
// made to a Point after the call do not affect what is sent.
type Point struct {
	Measurement string
	Tags        []Tag
	Fields      []Field
	Timestamp   time.Time
}

// NewPoint builds a point from maps. Keys are sorted so the encoded line
// is the same on every call.
//
// Example:
//
//	p := tsdb.NewPoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]any{"cpu_percent": 45.2, "memory_mb": 512})
func NewPoint(measurement string, tags map[string]string, fields map[string]any) Point {
	p := Point{Measurement: measurement}

	tagKeys := make([]string, 0, len(tags))
	for k := range tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		p.AddTag(k, tags[k])
	}

	fieldKeys := make([]string, 0, len(fields))
	for k := range fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	for _, k := range fieldKeys {
		p.AddField(k, fields[k])
	}

	return p
}

// NewPointWithTime is NewPoint with an explicit timestamp.
func NewPointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) Point {
	p := NewPoint(measurement, tags, fields)
	p.Timestamp = ts
	return p
}

// AddTag appends a tag.
func (p *Point) AddTag(key, value string) {
	p.Tags = append(p.Tags, Tag{Key: key, Value: value})
}

// AddField appends a field.
func (p *Point) AddField(key string, value any) {
	p.Fields = append(p.Fields, Field{Key: key, Value: value})
}

// SetTime sets the point timestamp.
func (p *Point) SetTime(t time.Time) {
	p.Timestamp = t
}

// FromMetric converts any line-protocol Metric into a Point, keeping
// tag and field order.
func FromMetric(m protocol.Metric) Point {
	p := Point{
		Measurement: m.Name(),
		Timestamp:   m.Time(),
	}
	for _, t := range m.TagList() {
		if t == nil {
			continue
		}
		p.AddTag(t.Key, t.Value)
	}
	for _, f := range m.FieldList() {
		if f == nil {
			continue
		}
		p.AddField(f.Key, f.Value)
	}
	return p
}

// FromInfluxPoint converts a point built with the official InfluxDB v2
// client (influxdb2.NewPoint / write.NewPoint) so existing instrumentation
// can be routed through this client's buffer.
func FromInfluxPoint(wp *write.Point) Point {
	if wp == nil {
		return Point{}
	}
	return FromMetric(wp)
}
