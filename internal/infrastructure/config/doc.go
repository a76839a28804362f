// Package config loads and validates daemon configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by TRANSITIVE_* environment variables. Secrets
// (broker password, JWT secret, InfluxDB token) should come from the
// environment rather than the file.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := mqtt.Connect(cfg.MQTT)
package config
