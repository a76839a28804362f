package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// Measurement names for sync metrics.
const (
	MeasurementPublish = "sync_publish"
	MeasurementInbound = "sync_inbound"
	MeasurementQueue   = "sync_queue"
)

// WritePublish records one outbound retained publish.
func (c *Client) WritePublish(topic string, cleared bool) {
	c.writePoint(influxdb2.NewPoint(MeasurementPublish,
		map[string]string{"topic": topic},
		map[string]any{"count": 1, "cleared": cleared},
		time.Now().UTC(),
	))
}

// WriteInbound records one inbound sync update that changed the cache.
func (c *Client) WriteInbound(topic string) {
	c.writePoint(influxdb2.NewPoint(MeasurementInbound,
		map[string]string{"topic": topic},
		map[string]any{"count": 1},
		time.Now().UTC(),
	))
}

// WriteQueueDepth samples the publication queue depth.
func (c *Client) WriteQueueDepth(depth int) {
	c.writePoint(influxdb2.NewPoint(MeasurementQueue,
		nil,
		map[string]any{"depth": depth},
		time.Now().UTC(),
	))
}
