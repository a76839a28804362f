// Package influxdb writes sync-layer metrics to InfluxDB v2.
//
// The daemon records publish counts, inbound sync counts, and publication
// queue depth as measurement points. Writes are batched and non-blocking;
// the sync path never waits on the metrics backend. Points lost to a
// closed sink or failed batches are counted and reported at shutdown, so
// silent metric gaps are at least visible.
package influxdb
