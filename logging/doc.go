// Package logging provides a minimal logging interface and adapters for xweb.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the dispatcher, engine and session store use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json", Component: "dispatch"})
//	d := dispatch.New(func(o *dispatch.Options) { o.Logger = logger })
package logging
