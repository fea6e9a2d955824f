// Package api provides the HTTP write relay for linebuffer.
//
// The relay accepts line protocol or newline-delimited JSON points over HTTP
// and queues them on the buffered TSDB client, so producers that cannot hold
// a TSDB connection of their own still get batching and retry.
//
// # Routes
//
//	GET  /health          TSDB reachability and queue depth (no auth)
//	GET  /metrics         Queue depth and ingest counters (no auth)
//	POST /write           Line protocol, or JSON when Content-Type says so
//	POST /api/v2/write    Alias of /write for InfluxDB v2 clients
//
// A write returns 204 once every line is queued. Delivery to the TSDB
// happens later on the client's flush schedule.
//
// # Authentication
//
// When api.token or api.jwt_secret is set, write routes require an
// Authorization header using the Bearer or Token scheme. A static token is
// compared in constant time; otherwise the value must be an HS256 JWT signed
// with api.jwt_secret.
package api
