package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/u3640877/transitive/internal/infrastructure/config"
)

// Timing constants.
const (
	// connectTimeout bounds the initial ping.
	connectTimeout = 10 * time.Second

	// pingTimeout bounds health-check pings.
	pingTimeout = 5 * time.Second
)

// Batching defaults. Sync metrics are high-frequency, low-value points
// (one per retained publish); generous batching keeps the sink off the
// publish path entirely.
const (
	defaultBatchSize       = 100
	defaultFlushIntervalMs = 10_000
)

// Client is the sync-metrics sink: a thin wrapper over the InfluxDB v2
// non-blocking write API plus drop/error accounting, so the daemon can
// tell "metrics quiet" from "metrics failing".
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Point writes are non-blocking and batched; the sync path never
//     waits on this client.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	// closed flips once on Close; writes after that are dropped.
	closed atomic.Bool

	// dropped counts points discarded because the sink was closed;
	// writeErrors counts async batch-write failures reported by the API.
	dropped     atomic.Int64
	writeErrors atomic.Int64

	// onError is called for each async write error.
	onError func(err error)
	mu      sync.RWMutex
}

// Stats is a snapshot of the sink's accounting counters.
type Stats struct {
	DroppedPoints int64
	WriteErrors   int64
}

// Connect creates the metrics sink and verifies the server is reachable.
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Sink ready for use
//   - error: ErrDisabled when metrics are off, or a connection failure
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrConnectionFailed)
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	if err := verifyConnection(client); err != nil {
		client.Close()
		return nil, err
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}
	go c.drainWriteErrors()

	return c, nil
}

// writeOptions maps daemon config onto the client's batching knobs,
// falling back to the sync-metrics defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flushMs := cfg.FlushInterval * 1000
	if flushMs <= 0 {
		flushMs = defaultFlushIntervalMs
	}

	// #nosec G115 -- both values forced positive above
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flushMs))
}

// verifyConnection pings the server once with a bounded timeout.
func verifyConnection(client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}
	return nil
}

// drainWriteErrors consumes the write API's async error channel until it
// closes, counting failures and forwarding them to the callback. Batches
// that fail are gone; the accounting is what makes the loss visible.
func (c *Client) drainWriteErrors() {
	for err := range c.writeAPI.Errors() {
		c.writeErrors.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// writePoint hands one point to the batching writer, or counts it as
// dropped once the sink is closed.
func (c *Client) writePoint(p *write.Point) {
	if c.closed.Load() {
		c.dropped.Add(1)
		return
	}
	c.writeAPI.WritePoint(p)
}

// Close flushes pending batches and shuts the sink down. Further writes
// are dropped, not errors.
func (c *Client) Close() error {
	if c.client == nil || c.closed.Swap(true) {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck verifies the server still answers pings.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether the sink is still accepting points.
func (c *Client) IsConnected() bool {
	return c.client != nil && !c.closed.Load()
}

// SetOnError sets a callback invoked for each async write failure.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// GetStats returns the sink's drop and error counters.
func (c *Client) GetStats() Stats {
	return Stats{
		DroppedPoints: c.dropped.Load(),
		WriteErrors:   c.writeErrors.Load(),
	}
}

// Flush forces pending batches out. Safe to call after Close (no-op).
func (c *Client) Flush() {
	if c.writeAPI == nil || c.closed.Load() {
		return
	}
	c.writeAPI.Flush()
}
