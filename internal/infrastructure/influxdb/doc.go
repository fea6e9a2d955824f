// Package influxdb provides an InfluxDB v2 write backend for the tsdb client.
//
// It wraps the official influxdb-client-go v2 library's blocking write API
// behind the tsdb.Sender interface, so batching, re-queueing and flush
// scheduling stay in tsdb.Client while writes go to /api/v2/write with an
// org and bucket.
//
// # Usage
//
//	sender, err := influxdb.Connect(ctx, cfg.TSDB, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sender.Close()
//
//	client, err := tsdb.New(cfg.TSDB, tsdb.WithSender(sender))
//
// # Error Handling
//
// A failed write is returned as *tsdb.TransportError so callers handle both
// backends the same way. Unlike the plain HTTP backend, any 2xx response
// counts as success here; that rule belongs to the client library.
package influxdb
