package tuya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/oshokin/plugctl/internal/logger"
)

// Ports used by devices on the local network.
const (
	// discoveryPortPlain receives unencrypted 3.1 broadcasts.
	discoveryPortPlain = 6666
	// discoveryPortEncrypted receives encrypted 3.3 broadcasts.
	discoveryPortEncrypted = 6667
	// devicePort accepts control connections.
	devicePort = "6668"
)

// maxBroadcastSize is larger than any announcement a device sends.
const maxBroadcastSize = 4096

var (
	// errNoListener is returned when no discovery port could be opened.
	errNoListener = errors.New("no discovery port could be opened")
	// errBadBroadcast is returned for announcements without address or id.
	errBadBroadcast = errors.New("broadcast lacks ip or gwId")
)

// Broadcast is the announcement a device sends every few seconds.
type Broadcast struct {
	// IP is the device address on the local network.
	IP string `json:"ip"`
	// GatewayID is the device id.
	GatewayID string `json:"gwId"`
	// Version is the protocol version, for example "3.3".
	Version string `json:"version"`
	// ProductKey identifies the hardware model.
	ProductKey string `json:"productKey"`
}

// Discover listens on both discovery ports until the device announces itself
// or ctx is done.
func Discover(ctx context.Context, id string) (*Broadcast, error) {
	var listenConfig net.ListenConfig

	conns := make([]net.PacketConn, 0, 2)

	for _, port := range []int{discoveryPortPlain, discoveryPortEncrypted} {
		conn, err := listenConfig.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(port))
		if err != nil {
			logger.WarnKV(ctx, "Discovery port unavailable", "port", port, "error", err)
			continue
		}

		conns = append(conns, conn)
	}

	if len(conns) == 0 {
		return nil, errNoListener
	}

	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	return discover(ctx, conns, id)
}

// discover reads every conn in parallel and returns the first matching broadcast.
func discover(ctx context.Context, conns []net.PacketConn, id string) (*Broadcast, error) {
	discoverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reads have no context, so a past deadline is what stops them.
	stop := context.AfterFunc(discoverCtx, func() {
		for _, conn := range conns {
			_ = conn.SetReadDeadline(time.Now())
		}
	})
	defer stop()

	type result struct {
		broadcast *Broadcast
		err       error
	}

	results := make(chan result, len(conns))

	for _, conn := range conns {
		go func() {
			b, err := readBroadcasts(discoverCtx, conn, id)
			results <- result{broadcast: b, err: err}
		}()
	}

	var firstErr error

	for range conns {
		r := <-results
		if r.err == nil {
			return r.broadcast, nil
		}

		if firstErr == nil {
			firstErr = r.err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("device %s did not broadcast: %w", id, err)
	}

	return nil, firstErr
}

// readBroadcasts skips announcements of other devices and garbage.
func readBroadcasts(ctx context.Context, conn net.PacketConn, id string) (*Broadcast, error) {
	buf := make([]byte, maxBroadcastSize)

	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return nil, fmt.Errorf("read broadcast: %w", err)
		}

		b, err := decodeBroadcast(buf[:n])
		if err != nil {
			logger.DebugKV(ctx, "Skipping undecodable broadcast", "from", from.String(), "error", err)
			continue
		}

		if b.GatewayID != id {
			logger.DebugKV(ctx, "Ignoring broadcast from another device", "gateway_id", b.GatewayID)
			continue
		}

		logger.DebugKV(ctx, "Device found", "gateway_id", b.GatewayID, "ip", b.IP, "version", b.Version)

		return b, nil
	}
}

// decodeBroadcast parses a plain or encrypted announcement.
func decodeBroadcast(data []byte) (*Broadcast, error) {
	f, err := parseFrame(data, true)
	if err != nil {
		return nil, err
	}

	// Encrypted on the 3.3 port, plain JSON on the 3.1 one.
	body := f.payload
	if !json.Valid(body) {
		if body, err = decryptECB(udpKey[:], body); err != nil {
			return nil, fmt.Errorf("decrypt broadcast: %w", err)
		}
	}

	var b Broadcast
	if err = json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("unmarshal broadcast: %w", err)
	}

	if b.IP == "" || b.GatewayID == "" {
		return nil, errBadBroadcast
	}

	return &b, nil
}
