package cli

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/oshokin/plugctl/internal/domain/plug"
)

// Process exit codes.
const (
	// ExitOK is returned on success and when help was shown.
	ExitOK = 0
	// ExitFailure is returned for device or configuration failures in strict mode.
	ExitFailure = 1
	// ExitUsage is returned for argument errors.
	ExitUsage = 9
)

// minPositionalArgs is the device nickname plus the command token.
const minPositionalArgs = 2

var (
	// ErrNotEnoughArguments is returned when the device or command is missing.
	ErrNotEnoughArguments = errors.New("not enough arguments")
	// ErrInvalidArguments is returned when flags cannot be parsed.
	ErrInvalidArguments = errors.New("invalid arguments")

	helpPattern = regexp.MustCompile(`^--?[Hh](?:elp)?$`)
)

// WantsHelp reports whether any argument asks for help.
func WantsHelp(args []string) bool {
	for _, arg := range args {
		if helpPattern.MatchString(arg) {
			return true
		}
	}

	return false
}

// ValidatePositional checks the positional argument count.
func ValidatePositional(args []string) error {
	if len(args) < minPositionalArgs {
		return fmt.Errorf("%w: got %d, want <device> <command>", ErrNotEnoughArguments, len(args))
	}

	return nil
}

// ParseArgs builds a request from positional arguments.
// Arguments after the command token are ignored.
func ParseArgs(args []string) (plug.Request, error) {
	if err := ValidatePositional(args); err != nil {
		return plug.Request{}, err
	}

	return plug.Request{
		DeviceName: args[0],
		Command:    plug.ParseCommand(args[1]),
	}, nil
}

// IsUsageError reports whether err should be answered with usage and ExitUsage.
func IsUsageError(err error) bool {
	return errors.Is(err, ErrNotEnoughArguments) || errors.Is(err, ErrInvalidArguments)
}
