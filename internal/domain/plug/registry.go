package plug

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownDevice is returned when a nickname is not present in the registry.
var ErrUnknownDevice = errors.New("unknown device")

// Credentials identify and unlock a single device on the local network.
type Credentials struct {
	// ID is the device (gateway) identifier broadcast by the plug.
	ID string
	// Key is the local key used to encrypt traffic to the plug.
	Key string
}

// Registry maps user-chosen nicknames to device credentials.
// Nicknames are case-sensitive.
type Registry struct {
	devices map[string]Credentials
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]Credentials),
	}
}

// Add stores credentials under the nickname, replacing any previous entry.
func (r *Registry) Add(name string, creds Credentials) {
	r.devices[name] = creds
}

// Lookup returns the credentials registered for the nickname.
func (r *Registry) Lookup(name string) (Credentials, error) {
	if r == nil {
		return Credentials{}, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}

	creds, ok := r.devices[name]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}

	return creds, nil
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}

	return len(r.devices)
}

// Names returns registered nicknames in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}

	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
