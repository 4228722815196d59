// Package stepdir implements a stepper motor behind a step/direction driver chip (A4988 or
// DRV8825), with trapezoidal motion profiles and selectable microstepping.
package stepdir

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/motor/profile"
)

// Variant is the driver chip.
type Variant int

const (
	// VariantA4988 supports up to 1/16 microstepping.
	VariantA4988 Variant = iota
	// VariantDRV8825 supports up to 1/32 microstepping.
	VariantDRV8825
)

func (v Variant) String() string {
	if v == VariantDRV8825 {
		return "DRV8825"
	}
	return "A4988"
}

// Microstep is a microstepping divisor.
type Microstep uint8

// Supported microstep modes.
const (
	MicrostepFull         Microstep = 1
	MicrostepHalf         Microstep = 2
	MicrostepQuarter      Microstep = 4
	MicrostepEighth       Microstep = 8
	MicrostepSixteenth    Microstep = 16
	MicrostepThirtySecond Microstep = 32
)

// msPattern returns the MS1, MS2, MS3 levels selecting mode.
func msPattern(mode Microstep) [3]bool {
	switch mode {
	case MicrostepHalf:
		return [3]bool{true, false, false}
	case MicrostepQuarter:
		return [3]bool{false, true, false}
	case MicrostepEighth:
		return [3]bool{true, true, false}
	case MicrostepSixteenth:
		return [3]bool{true, true, true}
	case MicrostepThirtySecond:
		return [3]bool{false, false, true}
	case MicrostepFull:
		return [3]bool{}
	default:
		return [3]bool{}
	}
}

const (
	// FullStepsPerRev is the step count of one revolution in full step mode.
	FullStepsPerRev = 200
	// DefaultSpeed is the initial max speed in steps per second.
	DefaultSpeed = 1000
	// DefaultAcceleration is the initial acceleration in steps per second squared.
	DefaultAcceleration = 500
	// MaxSpeed bounds SetSpeed.
	MaxSpeed = 4000
)

// LimitReachedMessage is recorded when the next step would leave the limit window.
const LimitReachedMessage = "Position limit reached"

// Config describes one step/dir stepper.
type Config struct {
	Slot    int
	Variant Variant
	// Pins are step (Primary), direction (Secondary), and the active low enable (Enable).
	Pins motor.PinAssignment
	// MicrostepPins are MS1, MS2, MS3 when wired; nil when the mode is set by jumpers.
	MicrostepPins []board.PinNumber
	Microsteps    Microstep
	// Clock drives step timing; nil means the wall clock.
	Clock clock.Clock
}

// Motor is a step/dir stepper. It is not safe for concurrent use.
type Motor struct {
	motor.Base

	variant Variant
	pins    motor.PinAssignment
	stepPin board.GPIOPin
	dirPin  board.GPIOPin
	enPin   board.GPIOPin
	msPins  []board.GPIOPin
	clk     clock.Clock
	gen     *profile.Generator
	stepErr error
	stepCtx context.Context
	lastDir int // 0 unknown, 1 forward, -1 reverse

	maxSpeed      float64
	acceleration  float64
	microsteps    Microstep
	driverEnabled bool
	constantSpeed bool
}

var _ motor.Driver = (*Motor)(nil)

// New resolves the stepper's pins on b.
func New(b board.Board, cfg Config) (*Motor, error) {
	if !cfg.Pins.Primary.Valid() || !cfg.Pins.Secondary.Valid() {
		return nil, errors.New("step/dir stepper needs step and direction pins")
	}
	if len(cfg.MicrostepPins) != 0 && len(cfg.MicrostepPins) != 3 {
		return nil, errors.Errorf("expected 3 microstep pins, got %d", len(cfg.MicrostepPins))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Microsteps == 0 {
		cfg.Microsteps = MicrostepFull
	}
	t := motor.TypeStepperA4988
	if cfg.Variant == VariantDRV8825 {
		t = motor.TypeStepperDRV8825
	}
	m := &Motor{
		Base:         motor.NewBase(cfg.Slot, t),
		variant:      cfg.Variant,
		pins:         cfg.Pins,
		clk:          cfg.Clock,
		maxSpeed:     DefaultSpeed,
		acceleration: DefaultAcceleration,
		stepCtx:      context.Background(),
	}
	m.microsteps = m.supported(cfg.Microsteps)
	m.gen = profile.New(m.maxSpeed, m.acceleration, m.pulse)

	var err error
	if m.stepPin, err = board.PinByNumber(b, cfg.Pins.Primary); err != nil {
		return nil, err
	}
	if m.dirPin, err = board.PinByNumber(b, cfg.Pins.Secondary); err != nil {
		return nil, err
	}
	if m.enPin, err = board.PinByNumber(b, cfg.Pins.Enable); err != nil {
		return nil, err
	}
	for _, p := range cfg.MicrostepPins {
		pin, err := board.PinByNumber(b, p)
		if err != nil {
			return nil, err
		}
		m.msPins = append(m.msPins, pin)
	}
	return m, nil
}

// Init leaves the driver disabled at position 0 with the default profile.
func (m *Motor) Init(ctx context.Context) error {
	err := m.stepPin.Set(ctx, false, nil)
	if m.enPin != nil {
		err = multierr.Combine(err, m.enPin.Set(ctx, true, nil))
		m.driverEnabled = false
	} else {
		m.driverEnabled = true
	}
	err = multierr.Combine(err, m.applyMicrosteps(ctx))
	if err != nil {
		return errors.Wrapf(err, "cannot init %s stepper in slot %d", m.variant, m.Slot())
	}
	m.gen.SetMaxSpeed(m.maxSpeed)
	m.gen.SetAcceleration(m.acceleration)
	m.gen.SetCurrentPosition(0)
	m.constantSpeed = false
	m.SetEnabled(true)
	return nil
}

// Update takes at most one step. A step that would leave the limit window halts the motor and
// records an error instead.
func (m *Motor) Update(ctx context.Context) error {
	if !m.IsEnabled() {
		return nil
	}
	now := m.clk.Now()
	if m.Limits().Enabled() {
		if next, due := m.gen.NextPosition(now); due && !m.Limits().Contains(next) {
			m.constantSpeed = false
			m.gen.Halt()
			m.SetError(LimitReachedMessage)
			return nil
		}
	}
	m.stepCtx = ctx
	m.stepErr = nil
	if m.constantSpeed {
		m.gen.RunSpeed(now)
	} else {
		m.gen.Run(now)
	}
	m.stepCtx = context.Background()
	return m.stepErr
}

// Stop decelerates to a stop.
func (m *Motor) Stop(ctx context.Context) error {
	m.constantSpeed = false
	m.gen.Stop()
	return nil
}

// EmergencyStop halts where the motor is. The driver stays enabled so the rotor holds.
func (m *Motor) EmergencyStop() {
	m.constantSpeed = false
	m.gen.Halt()
	goutils.UncheckedError(m.stepPin.Set(context.Background(), false, nil))
}

// MoveTo sets an absolute target, clamped to the limit window.
func (m *Motor) MoveTo(position int32) {
	m.constantSpeed = false
	m.gen.MoveTo(m.Limits().Clamp(position))
}

// MoveRelative sets a target relative to the current position, clamped to the limit window.
func (m *Motor) MoveRelative(steps int32) {
	m.MoveTo(m.gen.CurrentPosition() + steps)
}

// SetSpeed sets the max speed in steps per second, clamped to [0, MaxSpeed]. It is also the
// constant speed used by RunSpeed. Zero stops the motor where it stands until a non-zero speed
// resumes the move.
func (m *Motor) SetSpeed(stepsPerSecond float64) {
	m.maxSpeed = max(0, min(MaxSpeed, stepsPerSecond))
	m.gen.SetMaxSpeed(m.maxSpeed)
	if m.constantSpeed {
		m.gen.SetSpeed(m.maxSpeed)
	}
}

// SetAcceleration sets the acceleration in steps per second squared.
func (m *Motor) SetAcceleration(stepsPerSecondSquared float64) {
	if stepsPerSecondSquared <= 0 {
		return
	}
	m.acceleration = stepsPerSecondSquared
	m.gen.SetAcceleration(stepsPerSecondSquared)
}

// RunSpeed switches to constant speed rotation at the last SetSpeed value, ignoring the target.
func (m *Motor) RunSpeed() {
	m.constantSpeed = true
	m.gen.SetSpeed(m.maxSpeed)
}

// SetCurrentPosition redefines the current position and ends any motion.
func (m *Motor) SetCurrentPosition(position int32) {
	m.gen.SetCurrentPosition(position)
}

// Enable energizes the driver. Without an enable pin the driver is always enabled.
func (m *Motor) Enable(ctx context.Context) error {
	if m.enPin == nil {
		return nil
	}
	if err := m.enPin.Set(ctx, false, nil); err != nil {
		return err
	}
	m.driverEnabled = true
	return nil
}

// Disable de-energizes the driver.
func (m *Motor) Disable(ctx context.Context) error {
	if m.enPin == nil {
		return nil
	}
	if err := m.enPin.Set(ctx, true, nil); err != nil {
		return err
	}
	m.driverEnabled = false
	return nil
}

// SetMicrosteps selects a microstep mode. The A4988 tops out at 1/16.
func (m *Motor) SetMicrosteps(ctx context.Context, mode Microstep) error {
	m.microsteps = m.supported(mode)
	return m.applyMicrosteps(ctx)
}

// Close halts and disables the driver.
func (m *Motor) Close(ctx context.Context) error {
	m.EmergencyStop()
	return m.Disable(ctx)
}

// Microsteps returns the active microstep mode.
func (m *Motor) Microsteps() Microstep { return m.microsteps }

// StepsPerRevolution accounts for microstepping.
func (m *Motor) StepsPerRevolution() int { return FullStepsPerRev * int(m.microsteps) }

// IsDriverEnabled reports the state of the enable output.
func (m *Motor) IsDriverEnabled() bool { return m.driverEnabled }

// IsConstantSpeed reports whether RunSpeed mode is active.
func (m *Motor) IsConstantSpeed() bool { return m.constantSpeed }

// DistanceToGo returns the signed steps left to the target.
func (m *Motor) DistanceToGo() int32 { return m.gen.DistanceToGo() }

// TargetPosition returns the target in steps.
func (m *Motor) TargetPosition() int32 { return m.gen.TargetPosition() }

// MaxSpeed returns the configured max speed.
func (m *Motor) MaxSpeed() float64 { return m.maxSpeed }

// IsMoving reports whether the profile still has speed or distance.
func (m *Motor) IsMoving() bool { return m.gen.IsRunning() }

// Position returns the current position in steps.
func (m *Motor) Position() int32 { return m.gen.CurrentPosition() }

// Speed returns the signed speed in steps per second.
func (m *Motor) Speed() float64 { return m.gen.Speed() }

// Status returns a snapshot of the stepper.
func (m *Motor) Status() motor.Status {
	st := m.BaseStatus(m.IsMoving(), m.Position(), m.Speed())
	st.Fields = map[string]interface{}{
		"driverType":        m.variant.String(),
		"targetPosition":    m.gen.TargetPosition(),
		"distanceToGo":      m.gen.DistanceToGo(),
		"maxSpeed":          m.maxSpeed,
		"acceleration":      m.acceleration,
		"microsteps":        uint8(m.microsteps),
		"stepsPerRev":       m.StepsPerRevolution(),
		"driverEnabled":     m.driverEnabled,
		"constantSpeedMode": m.constantSpeed,
		"stepPin":           uint8(m.pins.Primary),
		"dirPin":            uint8(m.pins.Secondary),
		"enablePin":         uint8(m.pins.Enable),
	}
	return st
}

func (m *Motor) supported(mode Microstep) Microstep {
	switch mode {
	case MicrostepFull, MicrostepHalf, MicrostepQuarter, MicrostepEighth, MicrostepSixteenth:
		return mode
	case MicrostepThirtySecond:
		if m.variant == VariantA4988 {
			return MicrostepSixteenth
		}
		return mode
	default:
		return MicrostepFull
	}
}

func (m *Motor) applyMicrosteps(ctx context.Context) error {
	if len(m.msPins) == 0 {
		return nil
	}
	levels := msPattern(m.microsteps)
	var err error
	for i, pin := range m.msPins {
		if pin != nil {
			err = multierr.Combine(err, pin.Set(ctx, levels[i], nil))
		}
	}
	return err
}

// pulse emits one step: direction first, then a high-low edge on the step pin.
func (m *Motor) pulse(forward bool, _ int32) {
	dir := -1
	if forward {
		dir = 1
	}
	if dir != m.lastDir {
		if err := m.dirPin.Set(m.stepCtx, forward, nil); err != nil {
			m.stepErr = multierr.Combine(m.stepErr, err)
			return
		}
		m.lastDir = dir
	}
	m.stepErr = multierr.Combine(m.stepErr,
		m.stepPin.Set(m.stepCtx, true, nil),
		m.stepPin.Set(m.stepCtx, false, nil),
	)
}
