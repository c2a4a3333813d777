package cli

import "fmt"

const usageTemplate = `Usage: %s <device> [ command ] [flags]

Simple CLI for controlling Tuya-enabled smart plugs and switches.

Arguments:
  device     Device nickname (set in DEVICE_LIST, usually in a .env file)
  command    Either 'on' or 'off', anything else just prints the current status.

Options:
  -h, --help              Show this usage text
  -v, --version           Print version information
  -c, --config string     Settings file (default "plugctl-settings.yaml")
  -e, --env-file string   Dotenv file with DEVICE_LIST (default ".env")
  -o, --output string     Status format: text or json
  -t, --timeout duration  Discovery and call timeout
  -l, --log-level string  Minimum log level written to stderr
      --strict            Exit with code 1 when the device cannot be reached`

// Usage renders the usage text for the program name.
func Usage(program string) string {
	return fmt.Sprintf(usageTemplate, program)
}
