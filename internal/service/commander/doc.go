// Package commander runs a single device request: resolve the nickname,
// connect, optionally switch power, read the status and disconnect.
//
// Run applies the tool's best-effort policy: failures are logged to stderr
// and only fail the process when strict exit is enabled.
package commander
