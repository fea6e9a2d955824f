package tsdb

import (
	"testing"
	"time"
)

func BenchmarkEncode_Simple(b *testing.B) {
	p := NewPointWithTime("device_metrics",
		map[string]string{"device_id": "light-01", "measurement": "power_watts"},
		map[string]any{"value": 23.5},
		time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(p)
	}
}

func BenchmarkEncode_MultiField(b *testing.B) {
	p := NewPointWithTime("climate",
		map[string]string{"device_id": "thermostat-01"},
		map[string]any{
			"temperature": 21.5,
			"humidity":    45.0,
			"setpoint":    22.0,
			"mode":        "heating",
		},
		time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(p)
	}
}

func BenchmarkEncode_Escaping(b *testing.B) {
	p := Point{Measurement: "net stats"}
	p.AddTag("device id", "light,room=01")
	p.AddField("msg", `quoted "value" with \ backslash`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(p)
	}
}

func BenchmarkClient_WritePoint(b *testing.B) {
	c := &Client{queue: newBuffer(1 << 20), kick: make(chan struct{}, 1)}
	c.cfg.BatchSize = 1 << 30
	p := NewPoint("m", map[string]string{"host": "a"}, map[string]any{"v": 1})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.WritePoint(p)
	}
}
