package plug

// Command is the optional power change requested on the command line.
type Command int

const (
	// CommandNone only queries the device status.
	CommandNone Command = iota
	// CommandOn switches the device on.
	CommandOn
	// CommandOff switches the device off.
	CommandOff
)

// ParseCommand maps the exact tokens "on" and "off".
// Any other token is a status query.
func ParseCommand(token string) Command {
	switch token {
	case "on":
		return CommandOn
	case "off":
		return CommandOff
	default:
		return CommandNone
	}
}

// Desired returns the power state to set and whether a change was requested.
func (c Command) Desired() (bool, bool) {
	switch c {
	case CommandOn:
		return true, true
	case CommandOff:
		return false, true
	default:
		return false, false
	}
}

// String implements fmt.Stringer.
func (c Command) String() string {
	switch c {
	case CommandOn:
		return "on"
	case CommandOff:
		return "off"
	default:
		return "status"
	}
}

// Request is a single invocation of the tool.
type Request struct {
	// DeviceName is the nickname to resolve in the Registry.
	DeviceName string
	// Command is the optional power change.
	Command Command
}
