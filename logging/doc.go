// Package logging defines the Logger interface and slog-backed
// implementations used across supportflow.
package logging
