// Package logger wraps zap for plugctl:
//   - a global sugared logger writing a console encoding to stderr,
//   - New for a logger at a given level and writer, ParseLogLevel for flag values,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - key-value functions (DebugKV, InfoKV, WarnKV, ErrorKV).
//
// Stdout is reserved for usage and status output, so every log line goes to stderr.
package logger
