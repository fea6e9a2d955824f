// Package tsdb provides a buffered time-series write client.
//
// Points are encoded to InfluxDB line protocol as they are written, held
// in an in-memory queue, and sent as one newline-delimited HTTP POST per
// batch. Queries use the Prometheus-compatible HTTP API.
//
// # Usage
//
//	cfg := config.TSDBConfig{
//	    URL:           "http://localhost:8428",
//	    BatchSize:     1000,
//	    FlushInterval: 5 * time.Second,
//	}
//
//	client, err := tsdb.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(context.Background())
//
//	p := tsdb.Point{Measurement: "logs"}
//	p.AddTag("app", "main")
//	p.AddField("level", "info")
//	client.WritePoint(p)
//
// # Flushing
//
// A batch is sent when the queue reaches BatchSize, every FlushInterval,
// on Flush, and once more on Close. Only one batch is in flight at a time.
// A batch that fails to send goes back to the head of the queue in its
// original order and is retried by the next flush. There is no backoff
// and the queue is unbounded, so a line the server always rejects is
// retried forever and holds back everything behind it.
//
// # Error Handling
//
// WritePoint returns encoding errors only. Flush failures are delivered to
// the SetOnError callback and the logger. Query errors are returned to the
// caller and never retried.
package tsdb
