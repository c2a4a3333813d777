package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/plugctl/internal/cli"
	"github.com/oshokin/plugctl/internal/config"
	"github.com/oshokin/plugctl/internal/domain/plug"
	"github.com/oshokin/plugctl/internal/logger"
	"github.com/oshokin/plugctl/internal/service/commander"
	"github.com/oshokin/plugctl/internal/tuya"
	"github.com/oshokin/plugctl/internal/version"
)

// programName is the binary name shown in usage.
const programName = "plugctl"

// rootFlags holds the values bound to command flags.
type rootFlags struct {
	// configPath stores the settings file path.
	configPath string
	// envFile overrides the dotenv file from settings.
	envFile string
	// output overrides the status format from settings.
	output string
	// timeout overrides the discovery and call timeout from settings.
	timeout time.Duration
	// logLevel overrides the log level from settings.
	logLevel string
	// strict makes device failures exit non-zero.
	strict bool
}

// Execute runs the plugctl CLI and exits with the resulting status code.
func Execute() {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, dialTuya)

	stop()
	os.Exit(code)
}

// dialTuya connects through the Tuya local protocol.
func dialTuya(timeout time.Duration) commander.DialFunc {
	return func(ctx context.Context, creds plug.Credentials) (commander.Device, error) {
		client, err := tuya.Dial(ctx, creds, tuya.WithCallTimeout(timeout))
		if err != nil {
			return nil, err
		}

		return client, nil
	}
}

// run executes one invocation and returns the process exit code.
func run(
	ctx context.Context,
	args []string,
	stdout, stderr io.Writer,
	dialer func(timeout time.Duration) commander.DialFunc,
) int {
	usage := cli.Usage(programName)

	// Help wins over everything else, including malformed arguments.
	if cli.WantsHelp(args) {
		_, _ = fmt.Fprintln(stdout, usage)
		return cli.ExitOK
	}

	rootCmd := newRootCommand(dialer)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)

	switch {
	case err == nil:
		return cli.ExitOK
	case cli.IsUsageError(err):
		_, _ = fmt.Fprintln(stderr, usage)
		return cli.ExitUsage
	case errors.Is(err, commander.ErrCommandFailed):
		// Already logged.
		return cli.ExitFailure
	default:
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return cli.ExitFailure
	}
}

// newRootCommand builds the cobra command tree.
func newRootCommand(dialer func(timeout time.Duration) commander.DialFunc) *cobra.Command {
	flags := new(rootFlags)

	rootCmd := &cobra.Command{
		Use:   programName + " <device> [on|off]",
		Short: "Switch a Tuya smart plug on or off and print its status.",
		Long: `Looks up the device nickname in DEVICE_LIST, finds the plug on the local
network, optionally switches it on or off and prints the resulting status.

DEVICE_LIST holds "nickname,id,key" triples separated by semicolons and is
usually provided through a .env file. Any command other than 'on' or 'off'
only reads the current status.`,
		Args: func(_ *cobra.Command, args []string) error {
			return cli.ValidatePositional(args)
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := cli.ParseArgs(args)
			if err != nil {
				return err
			}

			return runRequest(cmd, flags, req, dialer)
		},
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.Usage(programName))
	})

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", cli.ErrInvalidArguments, err)
	})

	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&flags.configPath, "config", "c", config.DefaultSettingsFilename, "path to settings file")
	rootCmd.Flags().StringVarP(&flags.envFile, "env-file", "e", config.DefaultEnvFilename, "dotenv file with DEVICE_LIST")
	rootCmd.Flags().StringVarP(&flags.output, "output", "o", config.OutputText, "status format: text or json")
	rootCmd.Flags().DurationVarP(&flags.timeout, "timeout", "t", config.DefaultTimeout, "discovery and call timeout")
	rootCmd.Flags().StringVarP(&flags.logLevel, "log-level", "l", config.DefaultLogLevel, "minimum log level")
	rootCmd.Flags().BoolVar(&flags.strict, "strict", false, "exit with code 1 when the device cannot be reached")

	// No subcommands: every positional, "version" and "help" included, is a nickname or command.
	version.AttachCobraVersionFlag(rootCmd)

	return rootCmd
}

// runRequest loads configuration and hands the request to the commander.
// Configuration failures follow the same log-and-stop policy as device failures.
func runRequest(
	cmd *cobra.Command,
	flags *rootFlags,
	req plug.Request,
	dialer func(timeout time.Duration) commander.DialFunc,
) error {
	ctx := logger.ToContext(cmd.Context(), logger.New(nil, cmd.ErrOrStderr()))

	settings, err := config.LoadSettings(flags.configPath)
	if err != nil {
		return commander.Fail(ctx, fmt.Errorf("load settings: %w", err), flags.strict)
	}

	if err = applyFlags(cmd, flags, settings); err != nil {
		return commander.Fail(ctx, err, settings.StrictExit)
	}

	level, _ := logger.ParseLogLevel(settings.LogLevel)
	ctx = logger.ToContext(cmd.Context(), logger.New(level, cmd.ErrOrStderr()))
	ctx = logger.WithName(ctx, programName)

	logger.DebugKV(ctx, "Settings loaded",
		"env_file", settings.EnvFile,
		"timeout", settings.Timeout.String(),
		"output", settings.Output,
		"strict", settings.StrictExit,
	)

	if err = config.LoadEnvFile(settings.EnvFile); err != nil {
		return commander.Fail(ctx, err, settings.StrictExit)
	}

	registry, err := config.RegistryFromEnv()
	if err != nil {
		return commander.Fail(ctx, err, settings.StrictExit)
	}

	logger.DebugKV(ctx, "Devices registered", "count", registry.Len(), "names", registry.Names())

	service := commander.New(registry, dialer(settings.Timeout), &commander.Options{
		Output: cmd.OutOrStdout(),
		Format: settings.Output,
		Strict: settings.StrictExit,
	})

	return service.Run(ctx, req)
}

// applyFlags lets explicitly set flags override the settings file.
func applyFlags(cmd *cobra.Command, flags *rootFlags, settings *config.Settings) error {
	changed := cmd.Flags().Changed

	if changed("env-file") {
		settings.EnvFile = flags.envFile
	}

	if changed("output") {
		settings.Output = flags.output
	}

	if changed("timeout") {
		settings.Timeout = flags.timeout
	}

	if changed("log-level") {
		settings.LogLevel = flags.logLevel
	}

	if changed("strict") {
		settings.StrictExit = flags.strict
	}

	return config.ValidateSettings(settings)
}
