// Package mqtt provides the broker connection consumed by the sync core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and backoff
//   - Subscriptions with grant reporting and re-subscription on reconnect
//   - Retained and non-retained publishing
//   - Last Will and Testament (LWT) for offline detection
//   - Fan-out of every inbound message to all registered listeners
//
// # Architecture
//
// The sync core (package mqttsync) consumes this client through its
// Broker interface and never manages the connection itself:
//
//	mqttsync.Sync ↔ mqtt.Client ↔ broker retained store
//
// # Retained-flag caveat
//
// paho.mqtt.golang speaks MQTT 3.1.1, which clears the retain flag on
// live forwards to established subscriptions; only replays from the
// retained store arrive flagged. Deployments where live sync traffic
// must be processed immediately should enable the sync core's
// IgnoreRetain option (sync.ignore_retain in the daemon config).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	core, err := mqttsync.New(mqttsync.Options{Client: client})
package mqtt
