package motor

import "strings"

// Command is the wire code of a motor command.
type Command uint8

// Codes are fixed; stored presets encode commands by these values.
const (
	CommandStop Command = iota
	CommandSetSpeed
	CommandSetPosition
	CommandSetAngle
	CommandMoveRelative
	CommandBrake
	CommandCoast
	CommandEnable
	CommandDisable
	CommandHome
)

var commandNames = [...]string{
	CommandStop:         "stop",
	CommandSetSpeed:     "speed",
	CommandSetPosition:  "position",
	CommandSetAngle:     "angle",
	CommandMoveRelative: "relative",
	CommandBrake:        "brake",
	CommandCoast:        "coast",
	CommandEnable:       "enable",
	CommandDisable:      "disable",
	CommandHome:         "home",
}

// String returns the name the API layer uses for the command.
func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "unknown"
}

// Valid reports whether c is a known code.
func (c Command) Valid() bool {
	return int(c) < len(commandNames)
}

// Moves reports whether the command can put a motor in motion. Stop, brake, coast and disable
// only take motion away.
func (c Command) Moves() bool {
	switch c {
	case CommandStop, CommandBrake, CommandCoast, CommandDisable:
		return false
	case CommandSetSpeed, CommandSetPosition, CommandSetAngle, CommandMoveRelative, CommandEnable, CommandHome:
		return true
	default:
		return true
	}
}

// CommandFromName parses an API command name, case-insensitively.
func CommandFromName(name string) (Command, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for code, n := range commandNames {
		if n == lower {
			return Command(code), nil
		}
	}
	return CommandStop, NewUnknownCommandError(name)
}

// A CommandRequest addresses one command at one slot. Value is interpreted per command: speed,
// absolute or relative position in steps, or angle in degrees. Duration is the sweep time in
// milliseconds for angle commands.
type CommandRequest struct {
	Slot     uint8   `json:"slot"`
	Command  Command `json:"command"`
	Value    int32   `json:"value"`
	Duration uint16  `json:"duration"`
}
