package commander

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oshokin/plugctl/internal/config"
	"github.com/oshokin/plugctl/internal/domain/plug"
	"github.com/oshokin/plugctl/internal/logger"
)

// Device is a connected plug owned by a single request.
type Device interface {
	SetPower(ctx context.Context, on bool) error
	Status(ctx context.Context) (*plug.Status, error)
	Close() error
}

// DialFunc discovers and connects to the device behind the credentials.
type DialFunc func(ctx context.Context, creds plug.Credentials) (Device, error)

var (
	// ErrDeviceCommunication wraps connect, set and get failures.
	ErrDeviceCommunication = errors.New("device communication failed")
	// ErrCommandFailed is returned by Run in strict mode after the failure was logged.
	ErrCommandFailed = errors.New("command failed")

	// errNoStatus is returned when the device answers without a status.
	errNoStatus = errors.New("couldn't get device status")
	// errNoDialer is returned when the service was built without a dialer.
	errNoDialer = errors.New("dialer must be provided")
)

// Options controls how results are reported.
type Options struct {
	// Output receives the rendered status, stdout when nil.
	Output io.Writer
	// Format is config.OutputText or config.OutputJSON.
	Format string
	// Strict makes Run return ErrCommandFailed after logging a failure.
	Strict bool
}

// Service executes requests against devices from a registry.
type Service struct {
	registry *plug.Registry
	dial     DialFunc
	opts     Options
}

// New creates a service for the registry and dialer.
func New(registry *plug.Registry, dial DialFunc, opts *Options) *Service {
	s := &Service{
		registry: registry,
		dial:     dial,
	}

	if opts != nil {
		s.opts = *opts
	}

	if s.opts.Output == nil {
		s.opts.Output = os.Stdout
	}

	if s.opts.Format == "" {
		s.opts.Format = config.OutputText
	}

	return s
}

// Run executes the request and reports the outcome.
// Failures are logged; the returned error is nil unless strict mode is on.
func (s *Service) Run(ctx context.Context, req plug.Request) error {
	ctx = logger.WithKV(logger.WithName(ctx, "commander"), "device", req.DeviceName)

	status, err := s.Execute(ctx, req)
	if err != nil {
		return Fail(ctx, err, s.opts.Strict)
	}

	logger.InfoKV(ctx, "Device status", "command", req.Command.String(), "power", formatPower(status))

	if err = render(s.opts.Output, s.opts.Format, req.DeviceName, status); err != nil {
		return Fail(ctx, fmt.Errorf("render status: %w", err), s.opts.Strict)
	}

	return nil
}

// Execute performs lookup, connect, optional power change and status read.
// The connection is closed on every path once it was opened.
func (s *Service) Execute(ctx context.Context, req plug.Request) (status *plug.Status, err error) {
	creds, err := s.registry.Lookup(req.DeviceName)
	if err != nil {
		return nil, err
	}

	if s.dial == nil {
		return nil, errNoDialer
	}

	logger.DebugKV(ctx, "Connecting", "device_id", creds.ID, "command", req.Command.String())

	device, err := s.dial(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrDeviceCommunication, err)
	}

	defer func() {
		if closeErr := device.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Disconnect failed", "error", closeErr)
		}
	}()

	if on, ok := req.Command.Desired(); ok {
		logger.DebugKV(ctx, "Setting power", "on", on)

		if err = device.SetPower(ctx, on); err != nil {
			return nil, fmt.Errorf("%w: set power: %w", ErrDeviceCommunication, err)
		}
	}

	status, err = device.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get status: %w", ErrDeviceCommunication, err)
	}

	if status == nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceCommunication, errNoStatus)
	}

	return status.Clone(), nil
}

// Fail logs err and decides whether it terminates the process.
func Fail(ctx context.Context, err error, strict bool) error {
	logger.ErrorKV(ctx, describe(err), "error", err)

	if strict {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	return nil
}

// describe picks a human-readable headline for the error kind.
func describe(err error) string {
	switch {
	case errors.Is(err, plug.ErrUnknownDevice):
		return "Device not found in DEVICE_LIST"
	case errors.Is(err, config.ErrDeviceListNotSet), errors.Is(err, config.ErrMalformedDeviceList):
		return "Invalid device configuration"
	case errors.Is(err, ErrDeviceCommunication):
		return "Device communication failed"
	default:
		return "Command failed"
	}
}
