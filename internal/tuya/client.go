package tuya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/plugctl/internal/config"
	"github.com/oshokin/plugctl/internal/domain/plug"
	"github.com/oshokin/plugctl/internal/logger"
)

// localKeySize is the length of a device local key, an AES-128 key.
const localKeySize = 16

// Client is a connection to one device with per-call timeouts.
// Calls are serialized; Close may run concurrently with a call and unblocks it.
type Client struct {
	// conn is the TCP connection to the device.
	conn net.Conn
	// id is the device id sent in every request.
	id string
	// key is the device local key.
	key []byte
	// version is the protocol version spoken to the device.
	version string
	// address overrides discovery when set.
	address string

	// callTimeout is the default timeout for discovery and device calls.
	callTimeout time.Duration

	// mu guards seq and the connection deadline.
	mu  sync.Mutex
	seq uint32

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for discovery and device calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithAddress skips discovery and connects to host or host:port directly.
func WithAddress(address string) Option {
	return func(c *Client) {
		c.address = address
	}
}

// WithVersion fixes the protocol version instead of taking it from the broadcast.
func WithVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

var (
	// errIDRequired is returned when the device id is empty.
	errIDRequired = errors.New("device id must be provided")
	// errKeyRequired is returned when the local key is empty.
	errKeyRequired = errors.New("device key must be provided")
	// errKeySize is returned when the local key is not 16 bytes long.
	errKeySize = errors.New("device key must be 16 characters long")
	// errUnsupportedVersion is returned for protocol versions other than 3.1 and 3.3.
	errUnsupportedVersion = errors.New("unsupported protocol version")
	// errEmptyState is returned when the device reports no data points.
	errEmptyState = errors.New("device returned an empty state")
	// errRejected is returned when the device answers with a non-zero return code.
	errRejected = errors.New("device rejected the request")
	// errClosed is returned for calls on a closed client.
	errClosed = errors.New("client is closed")
)

// Dial finds the device by its broadcast, unless an address was given, and
// connects to it. The context deadline, or the call timeout, bounds the whole sequence.
func Dial(ctx context.Context, creds plug.Credentials, opts ...Option) (*Client, error) {
	if creds.ID == "" {
		return nil, errIDRequired
	}

	if creds.Key == "" {
		return nil, errKeyRequired
	}

	if len(creds.Key) != localKeySize {
		return nil, errKeySize
	}

	client := &Client{
		id:          creds.ID,
		key:         []byte(creds.Key),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialCtx, cancel := client.callContext(ctx)
	defer cancel()

	started := time.Now()

	logger.DebugKV(dialCtx, "Discovering device", "device_id", creds.ID, "timeout", client.callTimeout.String())

	if client.address == "" {
		broadcast, err := Discover(dialCtx, creds.ID)
		if err != nil {
			return nil, fmt.Errorf("discover device %s: %w", creds.ID, err)
		}

		client.address = broadcast.IP

		if client.version == "" {
			client.version = broadcast.Version
		}
	}

	if client.version == "" {
		client.version = version33
	}

	if client.version != version31 && client.version != version33 {
		return nil, fmt.Errorf("%w: %q", errUnsupportedVersion, client.version)
	}

	address := client.address
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, devicePort)
	}

	var dialer net.Dialer

	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect to device %s: %w", creds.ID, err)
	}

	client.conn = conn

	logger.DebugKV(dialCtx, "Connected to device",
		"device_id", creds.ID,
		"address", address,
		"version", client.version,
		"elapsed", time.Since(started).String())

	return client, nil
}

// Close releases the device connection. It is safe to call more than once,
// and from another goroutine while a call is waiting for the device.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.closed.Store(true)

		if c.conn != nil {
			c.closeErr = c.conn.Close()
		}
	})

	return c.closeErr
}

// SetPower switches the plug on or off.
func (c *Client) SetPower(ctx context.Context, on bool) error {
	body, err := json.Marshal(controlRequest{
		DevID:     c.deviceID(),
		UID:       c.deviceID(),
		Timestamp: timestamp(),
		DPS:       map[string]any{plug.PowerPoint: on},
	})
	if err != nil {
		return fmt.Errorf("marshal control request: %w", err)
	}

	_, err = c.roundTrip(ctx, commandControl, body, func(f *frame) bool {
		return f.command == commandControl
	})
	if err != nil {
		return fmt.Errorf("set power: %w", err)
	}

	return nil
}

// Status reads the data points reported by the plug.
func (c *Client) Status(ctx context.Context) (*plug.Status, error) {
	body, err := json.Marshal(queryRequest{
		GwID:      c.deviceID(),
		DevID:     c.deviceID(),
		UID:       c.deviceID(),
		Timestamp: timestamp(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal status query: %w", err)
	}

	reply, err := c.roundTrip(ctx, commandDPQuery, body, func(f *frame) bool {
		return f.command == commandDPQuery || f.command == commandStatus
	})
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	var response statusResponse
	if err = json.Unmarshal(reply, &response); err != nil {
		return nil, fmt.Errorf("get status: unmarshal reply: %w", err)
	}

	if len(response.DPS) == 0 {
		return nil, errEmptyState
	}

	return &plug.Status{Points: response.DPS}, nil
}

// roundTrip sends one request and returns the decoded body of the first
// reply accepted by match. Other frames, such as unsolicited pushes, are skipped.
func (c *Client) roundTrip(ctx context.Context, command uint32, body []byte, match func(*frame) bool) ([]byte, error) {
	if c == nil || c.conn == nil || c.closed.Load() {
		return nil, errClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	deadline, _ := callCtx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.ioError(callCtx, err)
	}

	// Cancellation without a deadline, e.g. an interrupt, still unblocks I/O.
	stop := context.AfterFunc(callCtx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	payload, err := encodePayload(c.version, c.key, command, body)
	if err != nil {
		return nil, err
	}

	c.seq++

	logger.DebugKV(ctx, "Sending request", "command", command, "seq", c.seq)

	if _, err = c.conn.Write(encodeFrame(c.seq, command, payload)); err != nil {
		return nil, c.ioError(callCtx, err)
	}

	for {
		reply, err := readFrame(c.conn, true)
		if err != nil {
			return nil, c.ioError(callCtx, err)
		}

		if !match(reply) {
			logger.DebugKV(ctx, "Skipping frame", "command", reply.command, "seq", reply.seq)
			continue
		}

		if reply.returnCode != 0 {
			return nil, fmt.Errorf("%w: return code %d", errRejected, reply.returnCode)
		}

		decoded, err := decodePayload(c.version, c.key, reply.payload)
		if err != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}

		return decoded, nil
	}
}

// ioError prefers the context error and reports a closed client as such.
func (c *Client) ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	// The connection deadline can fire just before the context timer does.
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}

	if c.closed.Load() {
		return fmt.Errorf("%w: %w", errClosed, err)
	}

	return err
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Client) deviceID() string {
	if c == nil {
		return ""
	}

	return c.id
}

func timestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

// controlRequest sets data points.
type controlRequest struct {
	DevID     string         `json:"devId"`
	UID       string         `json:"uid"`
	Timestamp string         `json:"t"`
	DPS       map[string]any `json:"dps"`
}

// queryRequest asks for all data points.
type queryRequest struct {
	GwID      string `json:"gwId"`
	DevID     string `json:"devId"`
	UID       string `json:"uid"`
	Timestamp string `json:"t"`
}

// statusResponse is the reply to a query and the shape of status pushes.
type statusResponse struct {
	DevID string         `json:"devId"`
	DPS   map[string]any `json:"dps"`
}
