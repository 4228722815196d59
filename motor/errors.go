package motor

import "github.com/pkg/errors"

var (
	// ErrInvalidSlot is returned for a slot index outside [0, MaxSlots).
	ErrInvalidSlot = errors.New("invalid motor slot")
	// ErrUnknownType is returned for a motor type code with no driver.
	ErrUnknownType = errors.New("unknown motor type")
	// ErrUnknownCommand is returned for a command name or code that does not exist.
	ErrUnknownCommand = errors.New("unknown motor command")
	// ErrNotConfigured is returned when addressing an empty slot.
	ErrNotConfigured = errors.New("motor slot not configured")
	// ErrUnsupportedCommand is returned when a command does not apply to the slot's motor.
	ErrUnsupportedCommand = errors.New("command not supported by motor")
)

// NewInvalidSlotError returns ErrInvalidSlot annotated with slot.
func NewInvalidSlotError(slot int) error {
	return errors.Wrapf(ErrInvalidSlot, "slot %d", slot)
}

// NewUnknownTypeError returns ErrUnknownType annotated with the code.
func NewUnknownTypeError(code int) error {
	return errors.Wrapf(ErrUnknownType, "type code %d", code)
}

// NewUnknownCommandError returns ErrUnknownCommand annotated with the name.
func NewUnknownCommandError(name string) error {
	return errors.Wrapf(ErrUnknownCommand, "command %q", name)
}

// NewNotConfiguredError returns ErrNotConfigured annotated with slot.
func NewNotConfiguredError(slot int) error {
	return errors.Wrapf(ErrNotConfigured, "slot %d", slot)
}

// NewUnsupportedCommandError returns ErrUnsupportedCommand for cmd on a motor of type t.
func NewUnsupportedCommandError(cmd Command, t Type) error {
	return errors.Wrapf(ErrUnsupportedCommand, "%s on %s", cmd, t)
}
