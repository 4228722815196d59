package registry

import (
	"github.com/benbjohnson/clock"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/motor/dc"
	"go.viam.com/motorctl/motor/servo"
	"go.viam.com/motorctl/motor/stepdir"
	"go.viam.com/motorctl/motor/unipolar"
)

// A Constructor builds the driver of type t for slot. The returned driver is not yet
// initialized.
type Constructor func(b board.Board, slot int, t motor.Type, pins motor.PinAssignment, clk clock.Clock) (motor.Driver, error)

var defaultConstructors = map[motor.Type]Constructor{
	motor.TypeDCL298N:        newDC,
	motor.TypeDCL9110S:       newDC,
	motor.TypeServo:          newServo,
	motor.TypeStepperA4988:   newStepDir,
	motor.TypeStepperDRV8825: newStepDir,
	motor.TypeStepperULN2003: newUnipolar,
}

func newDC(b board.Board, slot int, t motor.Type, pins motor.PinAssignment, _ clock.Clock) (motor.Driver, error) {
	wiring := dc.WiringL298N
	if t == motor.TypeDCL9110S {
		wiring = dc.WiringL9110S
		pins.Enable = board.NoPin
	}
	pins.Extra = board.NoPin
	return dc.New(b, dc.NewConfig(slot, wiring, pins))
}

func newServo(b board.Board, slot int, _ motor.Type, pins motor.PinAssignment, clk clock.Clock) (motor.Driver, error) {
	return servo.New(b, servo.Config{Slot: slot, Pin: pins.Primary, Clock: clk})
}

func newStepDir(b board.Board, slot int, t motor.Type, pins motor.PinAssignment, clk clock.Clock) (motor.Driver, error) {
	variant := stepdir.VariantA4988
	if t == motor.TypeStepperDRV8825 {
		variant = stepdir.VariantDRV8825
	}
	pins.Extra = board.NoPin
	return stepdir.New(b, stepdir.Config{Slot: slot, Variant: variant, Pins: pins, Clock: clk})
}

func newUnipolar(b board.Board, slot int, _ motor.Type, pins motor.PinAssignment, clk clock.Clock) (motor.Driver, error) {
	return unipolar.New(b, unipolar.Config{Slot: slot, Pins: pins, Clock: clk})
}
