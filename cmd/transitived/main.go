// transitived - retained-state synchronization daemon
//
// transitived keeps a region of an MQTT broker's retained-message space
// equal to a region of a local hierarchical document, and exposes that
// document to web peers over HTTP/WebSocket. Robots, cloud services and
// browsers cooperating on the same broker see one shared document.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/u3640877/transitive/internal/api"
	"github.com/u3640877/transitive/internal/datacache"
	"github.com/u3640877/transitive/internal/history"
	"github.com/u3640877/transitive/internal/infrastructure/config"
	"github.com/u3640877/transitive/internal/infrastructure/influxdb"
	"github.com/u3640877/transitive/internal/infrastructure/logging"
	"github.com/u3640877/transitive/internal/infrastructure/mqtt"
	"github.com/u3640877/transitive/internal/mqttsync"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// queueSampleInterval is how often the publication queue depth is sampled
// into metrics.
const queueSampleInterval = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting transitived",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	// Connect to the MQTT broker.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional).
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			stats := influxClient.GetStats()
			log.Info("closing InfluxDB connection",
				"write_errors", stats.WriteErrors,
				"dropped_points", stats.DroppedPoints,
			)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The sync core consumes the broker through its collaborator contract;
	// wrap the client so outbound publishes are counted when metrics are on.
	var broker mqttsync.Broker = mqttClient
	if influxClient != nil {
		broker = &meteredBroker{Broker: mqttClient, metrics: influxClient}
	}

	// Inbound changes feed the metrics sink when it is configured.
	var onChange func(changes datacache.ChangeSet)
	if influxClient != nil {
		onChange = func(changes datacache.ChangeSet) {
			for _, ch := range changes {
				influxClient.WriteInbound(ch.Topic)
			}
		}
	}

	readyCh := make(chan struct{})
	core, err := mqttsync.New(mqttsync.Options{
		Client:       broker,
		Logger:       log.Component("mqttsync"),
		QoS:          byte(cfg.MQTT.QoS),
		IgnoreRetain: cfg.Sync.IgnoreRetain,
		SliceTopic:   cfg.Sync.SliceTopic,
		OnChange:     onChange,
		OnReady:      func() { close(readyCh) },
		OnHeartbeatGranted: func() {
			log.Info("broker heartbeat subscription granted")
		},
	})
	if err != nil {
		return fmt.Errorf("creating sync core: %w", err)
	}

	// Register configured selectors.
	for _, entry := range cfg.Sync.Publish {
		if _, pubErr := core.Publish(entry.Selector, mqttsync.PublishOptions{Atomic: entry.Atomic}); pubErr != nil {
			return fmt.Errorf("publishing %s: %w", entry.Selector, pubErr)
		}
		log.Info("publishing selector", "selector", entry.Selector, "atomic", entry.Atomic)
	}
	for _, selector := range cfg.Sync.Subscribe {
		selector := selector
		core.Subscribe(selector, func(subErr error) {
			if subErr != nil {
				log.Error("subscription failed", "selector", selector, "error", subErr)
				return
			}
			log.Info("subscribed", "selector", selector)
		})
	}
	if throttle := cfg.GetThrottle(); throttle > 0 {
		core.SetThrottle(throttle)
		log.Info("publication throttle enabled", "window", throttle)
	}

	// State history recorder (optional).
	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing history", "error", closeErr)
			}
		}()
		recorder.Attach(core.Data, func(err error) {
			log.Error("history record failed", "error", err)
		})
		if cfg.History.RetentionDays > 0 {
			go pruneLoop(ctx, recorder, cfg.History.RetentionDays, log)
		}
		log.Info("history recording enabled", "path", cfg.History.Path)
	}

	// Metrics: queue depth sampler (the inbound counter is wired via OnChange).
	if influxClient != nil {
		go sampleQueueDepth(ctx, core, influxClient)
	}

	// HTTP/WebSocket API (optional).
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.Component("api"),
			Sync:    core,
			History: recorder,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating api server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting api server: %w", startErr)
		}
		defer func() {
			log.Info("stopping api server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing api server", "error", closeErr)
			}
		}()
	}

	go func() {
		select {
		case <-readyCh:
			log.Info("sync core ready")
		case <-ctx.Done():
		}
	}()

	log.Info("transitived running")
	<-ctx.Done()

	log.Info("shutting down")
	core.BeforeDisconnect()

	return nil
}

// pruneLoop deletes old history entries once a day.
func pruneLoop(ctx context.Context, recorder *history.Recorder, retentionDays int, log *logging.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := recorder.Prune(ctx, time.Duration(retentionDays)*24*time.Hour)
			if err != nil {
				log.Error("history prune failed", "error", err)
				continue
			}
			log.Info("history pruned", "deleted", n)
		}
	}
}

// sampleQueueDepth periodically records the publication queue depth.
func sampleQueueDepth(ctx context.Context, core *mqttsync.Sync, metrics *influxdb.Client) {
	ticker := time.NewTicker(queueSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.WriteQueueDepth(core.QueueDepth())
		}
	}
}

// meteredBroker counts outbound publishes into the metrics sink.
type meteredBroker struct {
	mqttsync.Broker
	metrics *influxdb.Client
}

func (m *meteredBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	err := m.Broker.Publish(topic, payload, qos, retained)
	if err == nil && retained {
		m.metrics.WritePublish(topic, len(payload) == 0)
	}
	return err
}

// getConfigPath returns the config file path from argv or the default.
func getConfigPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	return defaultConfigPath
}
