// Package tuya speaks the Tuya local network protocol to a single plug.
//
// Dial listens for the UDP broadcast of the plug (ports 6666 and 6667), then
// connects to it on TCP port 6668. Requests and replies are 55AA frames with a
// CRC32 trailer; bodies are JSON, AES-ECB encrypted with the local key.
// Protocol versions 3.1 and 3.3 are supported.
package tuya
