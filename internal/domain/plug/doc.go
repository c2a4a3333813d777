// Package plug contains core domain types for talking to a smart plug.
//
// It defines Credentials (how a device is addressed), Registry (nickname to
// credentials lookup), Command and Request (what the user asked for) and
// Status (what the device reported back).
package plug
