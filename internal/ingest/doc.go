// Package ingest bridges MQTT telemetry into the buffered TSDB writer.
//
// Each message on a configured topic filter is a JSON object:
//
//	{
//	  "measurement": "climate",
//	  "tags": {"room": "kitchen"},
//	  "fields": {"temperature": 21.5, "heating": true},
//	  "timestamp": 1700000000000
//	}
//
// "measurement" is optional: the last topic level is used instead, then
// ingest.default_measurement. "timestamp" is optional and in milliseconds.
//
// Decoded points go to tsdb.Client.WritePoint, so batching, retries and
// shutdown flushing are the client's concern. A message that cannot be
// decoded or encoded is counted as rejected and its error is returned to
// the MQTT layer, which logs it.
package ingest
