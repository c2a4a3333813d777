package tuya

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"maps"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/plugctl/internal/domain/plug"
)

const (
	testDeviceID = "bf0123456789abcdef"
	testLocalKey = "0123456789abcdef"
)

// fakePlug is a device on a loopback listener. It answers control and
// query frames, or stays silent when silent is set.
type fakePlug struct {
	t        *testing.T
	listener net.Listener
	version  string
	silent   bool

	mu     sync.Mutex
	points map[string]any
	// pushFirst makes the plug send an unrelated heartbeat before each reply.
	pushFirst bool
}

func newFakePlug(t *testing.T, version string, points map[string]any, opts ...func(*fakePlug)) *fakePlug {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &fakePlug{
		t:        t,
		listener: listener,
		version:  version,
		points:   points,
	}

	for _, opt := range opts {
		opt(p)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	go p.serve()

	return p
}

func (p *fakePlug) address() string {
	return p.listener.Addr().String()
}

func (p *fakePlug) state() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	return maps.Clone(p.points)
}

func (p *fakePlug) serve() {
	conn, err := p.listener.Accept()
	if err != nil {
		return
	}

	defer conn.Close()

	for {
		request, err := readFrame(conn, false)
		if err != nil {
			return
		}

		if p.silent {
			continue
		}

		body, err := decodePayload(p.version, []byte(testLocalKey), request.payload)
		if err != nil {
			p.t.Errorf("decode request: %v", err)
			return
		}

		var decoded controlRequest
		if err = json.Unmarshal(body, &decoded); err != nil {
			p.t.Errorf("unmarshal request: %v", err)
			return
		}

		if p.pushFirst {
			_, _ = conn.Write(deviceFrame(request.seq, 0x09, 0, nil))
		}

		switch request.command {
		case commandControl:
			p.mu.Lock()
			maps.Copy(p.points, decoded.DPS)
			p.mu.Unlock()

			_, _ = conn.Write(deviceFrame(request.seq, commandControl, 0, nil))
		case commandDPQuery:
			reply, _ := json.Marshal(statusResponse{DevID: testDeviceID, DPS: p.state()})

			if p.version == version33 {
				reply, _ = encryptECB([]byte(testLocalKey), reply)
			}

			_, _ = conn.Write(deviceFrame(request.seq, commandDPQuery, 0, reply))
		}
	}
}

func silentPlug(p *fakePlug) {
	p.silent = true
}

// deviceFrame builds a frame the way devices do, with a return code.
func deviceFrame(seq, command, returnCode uint32, payload []byte) []byte {
	body := make([]byte, returnCodeSize, returnCodeSize+len(payload))
	binary.BigEndian.PutUint32(body, returnCode)

	return encodeFrame(seq, command, append(body, payload...))
}

// TestDial_ValidatesCredentials verifies that Dial rejects bad credentials before touching the network.
func TestDial_ValidatesCredentials(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), plug.Credentials{Key: testLocalKey})
	require.ErrorIs(t, err, errIDRequired)
	require.Nil(t, c)

	c, err = Dial(context.Background(), plug.Credentials{ID: testDeviceID})
	require.ErrorIs(t, err, errKeyRequired)
	require.Nil(t, c)

	c, err = Dial(context.Background(), plug.Credentials{ID: testDeviceID, Key: "short"})
	require.ErrorIs(t, err, errKeySize)
	require.Nil(t, c)

	_, err = Dial(context.Background(),
		plug.Credentials{ID: testDeviceID, Key: testLocalKey},
		WithAddress("127.0.0.1:1"),
		WithVersion("3.4"))
	require.ErrorIs(t, err, errUnsupportedVersion)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	_, ok := ctx.Deadline()
	require.False(t, ok)

	WithCallTimeout(10 * time.Millisecond)(c)

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)

	// Non-positive timeouts are ignored.
	WithCallTimeout(-time.Second)(c)
	require.Equal(t, 10*time.Millisecond, c.callTimeout)
}

// TestClient_StatusAndPower switches a plug and reads it back over both protocol versions.
func TestClient_StatusAndPower(t *testing.T) {
	t.Parallel()

	for _, version := range []string{version31, version33} {
		t.Run(version, func(t *testing.T) {
			t.Parallel()

			device := newFakePlug(t, version, map[string]any{"1": false, "9": float64(0)})

			c, err := Dial(context.Background(),
				plug.Credentials{ID: testDeviceID, Key: testLocalKey},
				WithAddress(device.address()),
				WithVersion(version),
				WithCallTimeout(time.Second))
			require.NoError(t, err)

			defer c.Close()

			require.NoError(t, c.SetPower(context.Background(), true))
			require.Equal(t, true, device.state()["1"])

			status, err := c.Status(context.Background())
			require.NoError(t, err)

			on, known := status.Power()
			require.True(t, known)
			require.True(t, on)
			require.InDelta(t, 0, status.Points["9"], 0)
		})
	}
}

// TestClient_SkipsUnrelatedFrames verifies that pushes before the reply are ignored.
func TestClient_SkipsUnrelatedFrames(t *testing.T) {
	t.Parallel()

	device := newFakePlug(t, version33, map[string]any{"1": true}, func(p *fakePlug) {
		p.pushFirst = true
	})

	c, err := Dial(context.Background(),
		plug.Credentials{ID: testDeviceID, Key: testLocalKey},
		WithAddress(device.address()),
		WithCallTimeout(time.Second))
	require.NoError(t, err)

	defer c.Close()

	status, err := c.Status(context.Background())
	require.NoError(t, err)

	on, known := status.Power()
	require.True(t, known)
	require.True(t, on)
}

// TestClient_StatusErrors covers empty replies and rejected requests.
func TestClient_StatusErrors(t *testing.T) {
	t.Parallel()

	device := newFakePlug(t, version33, map[string]any{})

	c, err := Dial(context.Background(),
		plug.Credentials{ID: testDeviceID, Key: testLocalKey},
		WithAddress(device.address()),
		WithCallTimeout(time.Second))
	require.NoError(t, err)

	defer c.Close()

	_, err = c.Status(context.Background())
	require.ErrorIs(t, err, errEmptyState)

	server, client := net.Pipe()
	defer server.Close()

	rejecting := &Client{conn: client, key: []byte(testLocalKey), version: version33, callTimeout: time.Second}

	go func() {
		request, err := readFrame(server, false)
		if err != nil {
			return
		}

		_, _ = server.Write(deviceFrame(request.seq, commandControl, 1, []byte("{}")))
	}()

	require.ErrorIs(t, rejecting.SetPower(context.Background(), true), errRejected)
}

// TestClient_CallTimeout verifies that a silent device makes the call return on deadline.
func TestClient_CallTimeout(t *testing.T) {
	t.Parallel()

	device := newFakePlug(t, version33, map[string]any{"1": true}, silentPlug)

	c, err := Dial(context.Background(),
		plug.Credentials{ID: testDeviceID, Key: testLocalKey},
		WithAddress(device.address()),
		WithCallTimeout(50*time.Millisecond))
	require.NoError(t, err)

	started := time.Now()

	err = c.SetPower(context.Background(), true)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), time.Second)

	require.NoError(t, c.Close())
}

// TestClient_CloseDuringCall verifies that Close unblocks a call waiting for the device.
func TestClient_CloseDuringCall(t *testing.T) {
	t.Parallel()

	device := newFakePlug(t, version33, map[string]any{"1": true}, silentPlug)

	c, err := Dial(context.Background(),
		plug.Credentials{ID: testDeviceID, Key: testLocalKey},
		WithAddress(device.address()),
		WithCallTimeout(time.Minute))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		_, err := c.Status(context.Background())
		done <- err
	}()

	// Give the call time to block on the read.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err = <-done:
		require.ErrorIs(t, err, errClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not return after Close")
	}

	_, err = c.Status(context.Background())
	require.ErrorIs(t, err, errClosed)
}

// TestClient_Close verifies that Close is nil-safe and idempotent.
func TestClient_Close(t *testing.T) {
	t.Parallel()

	var nilClient *Client
	require.NoError(t, nilClient.Close())

	_, err := nilClient.Status(context.Background())
	require.ErrorIs(t, err, errClosed)

	server, client := net.Pipe()
	defer server.Close()

	c := &Client{conn: client}

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.True(t, c.closed.Load())

	require.ErrorIs(t, new(Client).SetPower(context.Background(), false), errClosed)
	require.True(t, errors.Is(c.SetPower(context.Background(), false), errClosed))
}
