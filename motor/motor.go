// Package motor defines the driver contract shared by every motor the controller can run, the
// motor type and command codes used on the wire, and the bookkeeping common to all drivers.
package motor

import (
	"context"
	"fmt"
)

// MaxSlots is the number of motor attachment points on the controller.
const MaxSlots = 4

// DefaultCurrentLimit is the informational current limit in amps given to new drivers.
const DefaultCurrentLimit = 2.0

// A Driver is one concrete motor driver owned by a registry slot. Update is called once per
// control cycle and must not block. EmergencyStop must never block.
type Driver interface {
	// Init configures the hardware outputs and leaves the motor in a safe idle state.
	Init(ctx context.Context) error
	// Update advances any time based motion and rewrites outputs.
	Update(ctx context.Context) error
	// Stop requests a graceful stop.
	Stop(ctx context.Context) error
	// EmergencyStop forces zero motion and de-energizes outputs, bypassing any ramp.
	EmergencyStop()

	IsMoving() bool
	IsEnabled() bool
	// Position is the absolute position in the driver's units, 0 when it has none.
	Position() int32
	Speed() float64

	Type() Type
	Slot() int
	Limits() *Limits
	LastError() string
	ClearError()
	Status() Status
}

// Type is the wire code of a motor driver kind.
type Type uint8

// Codes are fixed; the configuration store and the API layer use them.
const (
	TypeNone Type = iota
	TypeDCL298N
	TypeDCL9110S
	TypeServo
	TypeStepperA4988
	TypeStepperDRV8825
	TypeStepperULN2003
)

var typeNames = [...]string{
	TypeNone:           "None",
	TypeDCL298N:        "DC (L298N)",
	TypeDCL9110S:       "DC (L9110S)",
	TypeServo:          "Servo",
	TypeStepperA4988:   "Stepper (A4988)",
	TypeStepperDRV8825: "Stepper (DRV8825)",
	TypeStepperULN2003: "Stepper (ULN2003)",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Valid reports whether t is a known code.
func (t Type) Valid() bool {
	return int(t) < len(typeNames)
}

// TypeFromCode converts an integer code from the outside into a Type.
func TypeFromCode(code int) (Type, error) {
	if code < 0 || code >= len(typeNames) {
		return TypeNone, NewUnknownTypeError(code)
	}
	return Type(code), nil
}

// Family groups types that share a driver implementation.
type Family int

// The closed set of driver families.
const (
	FamilyNone Family = iota
	FamilyDC
	FamilyServo
	FamilyStepDir
	FamilyUnipolar
)

func (f Family) String() string {
	switch f {
	case FamilyNone:
		return "none"
	case FamilyDC:
		return "dc"
	case FamilyServo:
		return "servo"
	case FamilyStepDir:
		return "stepdir"
	case FamilyUnipolar:
		return "unipolar"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Family returns the driver family implementing t.
func (t Type) Family() Family {
	switch t {
	case TypeDCL298N, TypeDCL9110S:
		return FamilyDC
	case TypeServo:
		return FamilyServo
	case TypeStepperA4988, TypeStepperDRV8825:
		return FamilyStepDir
	case TypeStepperULN2003:
		return FamilyUnipolar
	case TypeNone:
		return FamilyNone
	default:
		return FamilyNone
	}
}

// ValidSlot reports whether slot indexes a motor slot.
func ValidSlot(slot int) bool {
	return slot >= 0 && slot < MaxSlots
}
