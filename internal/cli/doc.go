// Package cli turns raw command-line arguments into a plug.Request.
//
// It owns the usage text, the help flag pattern and the process exit codes.
package cli
