package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oshokin/plugctl/internal/domain/plug"
)

// DeviceListVariable is the environment variable holding the device list.
const DeviceListVariable = "DEVICE_LIST"

const (
	entrySeparator = ";"
	fieldSeparator = ","
	entryFields    = 3
)

var (
	// ErrDeviceListNotSet is returned when DEVICE_LIST is missing or empty.
	ErrDeviceListNotSet = errors.New(DeviceListVariable + " is not set")
	// ErrMalformedDeviceList is returned when an entry is not a "nickname,id,key" triple.
	ErrMalformedDeviceList = errors.New("malformed device list")
)

// RegistryFromEnv builds the registry from the DEVICE_LIST variable.
func RegistryFromEnv() (*plug.Registry, error) {
	value, ok := os.LookupEnv(DeviceListVariable)
	if !ok || strings.TrimSpace(value) == "" {
		return nil, ErrDeviceListNotSet
	}

	return ParseDeviceList(value)
}

// ParseDeviceList parses "name1,id1,key1;name2,id2,key2" into a registry.
// Empty entries are skipped; a later duplicate nickname replaces the earlier one.
func ParseDeviceList(list string) (*plug.Registry, error) {
	registry := plug.NewRegistry()

	for i, entry := range strings.Split(list, entrySeparator) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		fields := strings.Split(entry, fieldSeparator)
		if len(fields) != entryFields {
			return nil, fmt.Errorf("%w: entry %d has %d fields, want nickname,id,key",
				ErrMalformedDeviceList, i+1, len(fields))
		}

		for j := range fields {
			fields[j] = strings.TrimSpace(fields[j])
			if fields[j] == "" {
				return nil, fmt.Errorf("%w: entry %d has an empty field", ErrMalformedDeviceList, i+1)
			}
		}

		registry.Add(fields[0], plug.Credentials{
			ID:  fields[1],
			Key: fields[2],
		})
	}

	return registry, nil
}
