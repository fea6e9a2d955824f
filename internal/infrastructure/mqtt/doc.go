// Package mqtt provides MQTT client connectivity for the ingest path.
//
// It wraps paho.mqtt.golang with:
//   - Auto-reconnect with subscription restoration
//   - Wildcard topic filter validation
//   - A retained status topic (linebuffer/{client_id}/status) with a
//     Last Will so subscribers see when the agent goes away
//   - Panic recovery and logging around message handlers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("sensors/#", 1, func(topic string, payload []byte) error {
//	    return bridge.Handle(topic, payload)
//	})
package mqtt
