// Package logging provides structured logging for Brew Bridge.
//
// Callers use the standard log/slog API through *Logger; records are encoded
// by a go.uber.org/zap core (JSON or console) via the zapslog handler.
//
// Every record carries the service name and build version. Components
// usually derive a child logger:
//
//	log := logging.New(cfg.Logging, version).With("component", "session")
//	log.Info("handshake complete", "firmware", "0.5.3")
//
// Packages that only need to emit messages depend on a narrow
// Debug/Info/Warn/Error interface instead of this type, so tests can pass
// a recording fake.
package logging
