// Package logging provides structured logging for the transitive daemon.
//
// It wraps log/slog with the daemon's conventions: JSON output by default,
// a service/version field on every record, per-component child loggers
// (Component), and a level that can be raised or lowered at runtime
// (SetLevel) across the whole logger tree. Core packages do not import
// this package directly; they accept a small Logger interface and the
// daemon passes this one in.
package logging
