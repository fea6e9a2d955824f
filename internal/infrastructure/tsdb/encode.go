package tsdb

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	protocol "github.com/influxdata/line-protocol"
)

// nanosPerMilli converts the millisecond instant to the nanosecond integer
// written on the wire.
const nanosPerMilli = int64(time.Millisecond)

// measurementEscaper escapes measurement names, tag keys, tag values and
// field keys. Newlines are stripped so one point can never become two lines.
var measurementEscaper = strings.NewReplacer(
	"\n", "",
	"\r", "",
	",", `\,`,
	"=", `\=`,
	" ", `\ `,
)

// stringFieldEscaper escapes the contents of a quoted string field value.
var stringFieldEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
)

// Encode formats a point as one line of line protocol.
//
// Format: measurement[,tag=value...] field=value[,field=value...] [timestamp_ns]
//
// Encode is pure: the same point always yields the same line. It fails with
// an *EncodingError when the point has no measurement, no fields, or a field
// value that has no line protocol representation.
func Encode(p Point) (string, error) {
	if p.Measurement == "" {
		return "", &EncodingError{Measurement: p.Measurement, Err: ErrEmptyMeasurement}
	}
	if len(p.Fields) == 0 {
		return "", &EncodingError{Measurement: p.Measurement, Err: ErrNoFields}
	}

	var b strings.Builder
	b.Grow(len(p.Measurement) + 16*(len(p.Tags)+len(p.Fields)) + 20)

	b.WriteString(measurementEscaper.Replace(p.Measurement))

	for _, t := range p.Tags {
		b.WriteByte(',')
		b.WriteString(measurementEscaper.Replace(t.Key))
		b.WriteByte('=')
		b.WriteString(measurementEscaper.Replace(t.Value))
	}

	b.WriteByte(' ')
	for i, f := range p.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(measurementEscaper.Replace(f.Key))
		b.WriteByte('=')
		if err := appendFieldValue(&b, f.Value); err != nil {
			return "", &EncodingError{
				Measurement: p.Measurement,
				Err:         fmt.Errorf("%w: field %q: %w", ErrUnsupportedField, f.Key, err),
			}
		}
	}

	if !p.Timestamp.IsZero() {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(p.Timestamp.UnixMilli()*nanosPerMilli, 10))
	}

	return b.String(), nil
}

// appendFieldValue renders a single field value.
//
// Strings are double-quoted, booleans become t or f, numbers are written
// as plain decimal literals.
func appendFieldValue(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case string:
		b.WriteByte('"')
		b.WriteString(stringFieldEscaper.Replace(val))
		b.WriteByte('"')
	case bool:
		if val {
			b.WriteByte('t')
		} else {
			b.WriteByte('f')
		}
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case float32:
		return appendFloat(b, float64(val), 32)
	case float64:
		return appendFloat(b, val, 64)
	case json.Number:
		if val == "" {
			return fmt.Errorf("empty number")
		}
		b.WriteString(val.String())
	case nil:
		return fmt.Errorf("nil value")
	default:
		return fmt.Errorf("type %T", v)
	}
	return nil
}

// appendFloat writes the shortest decimal form of f. Very large and very
// small magnitudes use exponent notation, which line protocol also accepts.
func appendFloat(b *strings.Builder, f float64, bitSize int) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite float %v", f)
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs >= 1e21 || (abs != 0 && abs < 1e-6) {
		format = 'e'
	}
	b.WriteString(strconv.FormatFloat(f, format, -1, bitSize))
	return nil
}

// validateLine checks that line is a single well-formed line protocol point.
func validateLine(line string) error {
	if line == "" {
		return fmt.Errorf("empty line")
	}
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("line spans several lines")
	}
	metrics, err := protocol.NewParser(protocol.NewMetricHandler()).Parse([]byte(line))
	if err != nil {
		return err
	}
	if len(metrics) != 1 {
		return fmt.Errorf("expected one point, got %d", len(metrics))
	}
	return nil
}
