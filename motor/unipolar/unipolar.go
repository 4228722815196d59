// Package unipolar implements a 28BYJ-48 style 4-phase unipolar stepper driven through a
// ULN2003 darlington array, half stepping with the coils driven directly from four pins.
package unipolar

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

const (
	// StepsPerRev is the half step count of one output shaft revolution.
	StepsPerRev = 2048
	// DefaultRPM is the initial speed.
	DefaultRPM = 10
	// MinRPM and MaxRPM bound SetSpeedRPM.
	MinRPM = 0.1
	MaxRPM = 15
	// DefaultAcceleration is in steps per second squared.
	DefaultAcceleration = 500
)

// LimitReachedMessage is recorded when the next step would leave the limit window.
const LimitReachedMessage = "Position limit reached"

// halfStep lists the in1..in4 levels of the eight half step phases.
var halfStep = [8][4]bool{
	{true, false, false, false},
	{true, true, false, false},
	{false, true, false, false},
	{false, true, true, false},
	{false, false, true, false},
	{false, false, true, true},
	{false, false, false, true},
	{true, false, false, true},
}

// RPMToStepsPerSecond converts a shaft speed to a step rate.
func RPMToStepsPerSecond(rpm float64) float64 {
	return rpm * StepsPerRev / 60
}

// StepsPerSecondToRPM converts a step rate to a shaft speed.
func StepsPerSecondToRPM(sps float64) float64 {
	return sps * 60 / StepsPerRev
}

// Config describes one 4-phase stepper.
type Config struct {
	Slot int
	// Pins are in1 (Primary), in2 (Secondary), in3 (Enable), in4 (Extra).
	Pins motor.PinAssignment
	// Clock drives step timing; nil means the wall clock.
	Clock clock.Clock
}

// Motor is a 4-phase stepper. It is not safe for concurrent use.
type Motor struct {
	motor.Base

	pins    motor.PinAssignment
	coils   [4]board.GPIOPin
	clk     clock.Clock
	gen     *profile.Generator
	stepCtx context.Context
	stepErr error

	speedRPM     float64
	acceleration float64
	energized    bool
}

var _ motor.Driver = (*Motor)(nil)

// New resolves the four coil pins on b.
func New(b board.Board, cfg Config) (*Motor, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	m := &Motor{
		Base:         motor.NewBase(cfg.Slot, motor.TypeStepperULN2003),
		pins:         cfg.Pins,
		clk:          cfg.Clock,
		stepCtx:      context.Background(),
		speedRPM:     DefaultRPM,
		acceleration: DefaultAcceleration,
	}
	for i, p := range cfg.Pins.All() {
		if !p.Valid() {
			return nil, errors.Errorf("4-phase stepper needs pin in%d", i+1)
		}
		pin, err := board.PinByNumber(b, p)
		if err != nil {
			return nil, err
		}
		m.coils[i] = pin
	}
	m.gen = profile.New(RPMToStepsPerSecond(m.speedRPM), m.acceleration, m.energize)
	return m, nil
}

// Init sets the default speed and leaves every coil off at position 0.
func (m *Motor) Init(ctx context.Context) error {
	if err := m.release(ctx); err != nil {
		return errors.Wrapf(err, "cannot init 4-phase stepper in slot %d", m.Slot())
	}
	m.SetSpeedRPM(m.speedRPM)
	m.gen.SetAcceleration(m.acceleration)
	m.gen.SetCurrentPosition(0)
	m.SetEnabled(true)
	return nil
}

// Update takes at most one step, halting instead if that step would leave the limit window. The
// coils are released as soon as the motor comes to rest.
func (m *Motor) Update(ctx context.Context) error {
	if !m.IsEnabled() {
		return nil
	}
	now := m.clk.Now()
	if m.Limits().Enabled() {
		if next, due := m.gen.NextPosition(now); due && !m.Limits().Contains(next) {
			m.gen.Halt()
			m.SetError(LimitReachedMessage)
			return m.release(ctx)
		}
	}
	m.stepCtx = ctx
	m.stepErr = nil
	running := m.gen.Run(now)
	m.stepCtx = context.Background()
	if !running && m.energized {
		m.stepErr = multierr.Combine(m.stepErr, m.release(ctx))
	}
	return m.stepErr
}

// Stop decelerates to a stop.
func (m *Motor) Stop(ctx context.Context) error {
	m.gen.Stop()
	return nil
}

// EmergencyStop halts and turns every coil off.
func (m *Motor) EmergencyStop() {
	m.gen.Halt()
	goutils.UncheckedError(m.release(context.Background()))
}

// Close halts and releases the coils.
func (m *Motor) Close(ctx context.Context) error {
	m.gen.Halt()
	return m.release(ctx)
}

// MoveTo sets an absolute target, clamped to the limit window.
func (m *Motor) MoveTo(position int32) {
	m.gen.MoveTo(m.Limits().Clamp(position))
}

// MoveRelative sets a target relative to the current position, clamped to the limit window.
func (m *Motor) MoveRelative(steps int32) {
	m.MoveTo(m.gen.CurrentPosition() + steps)
}

// MoveRevolutions moves by a number of output shaft revolutions.
func (m *Motor) MoveRevolutions(revs float64) {
	m.MoveRelative(int32(revs * StepsPerRev))
}

// SetSpeedRPM sets the max speed, clamped to [MinRPM, MaxRPM].
func (m *Motor) SetSpeedRPM(rpm float64) {
	m.speedRPM = max(MinRPM, min(MaxRPM, rpm))
	m.gen.SetMaxSpeed(RPMToStepsPerSecond(m.speedRPM))
}

// SetSpeedSteps sets the max speed in steps per second, clamped to the MaxRPM step rate. Zero
// stops the motor where it stands until a non-zero speed resumes the move.
func (m *Motor) SetSpeedSteps(stepsPerSecond float64) {
	sps := max(0, min(RPMToStepsPerSecond(MaxRPM), stepsPerSecond))
	m.gen.SetMaxSpeed(sps)
	m.speedRPM = StepsPerSecondToRPM(sps)
}

// SetAcceleration sets the acceleration in steps per second squared.
func (m *Motor) SetAcceleration(stepsPerSecondSquared float64) {
	if stepsPerSecondSquared <= 0 {
		return
	}
	m.acceleration = stepsPerSecondSquared
	m.gen.SetAcceleration(stepsPerSecondSquared)
}

// SetCurrentPosition redefines the current position and ends any motion.
func (m *Motor) SetCurrentPosition(position int32) {
	m.gen.SetCurrentPosition(position)
}

// SpeedRPM returns the configured max speed.
func (m *Motor) SpeedRPM() float64 { return m.speedRPM }

// CurrentSpeedRPM returns the signed current speed.
func (m *Motor) CurrentSpeedRPM() float64 { return StepsPerSecondToRPM(m.gen.Speed()) }

// Revolutions returns the position in output shaft revolutions.
func (m *Motor) Revolutions() float64 { return float64(m.gen.CurrentPosition()) / StepsPerRev }

// IsEnergized reports whether any coil is driven.
func (m *Motor) IsEnergized() bool { return m.energized }

// DistanceToGo returns the signed steps left to the target.
func (m *Motor) DistanceToGo() int32 { return m.gen.DistanceToGo() }

// TargetPosition returns the target in steps.
func (m *Motor) TargetPosition() int32 { return m.gen.TargetPosition() }

// IsMoving reports whether the profile still has speed or distance.
func (m *Motor) IsMoving() bool { return m.gen.IsRunning() }

// Position returns the current position in steps.
func (m *Motor) Position() int32 { return m.gen.CurrentPosition() }

// Speed returns the signed speed in steps per second.
func (m *Motor) Speed() float64 { return m.gen.Speed() }

// Status returns a snapshot of the stepper.
func (m *Motor) Status() motor.Status {
	st := m.BaseStatus(m.IsMoving(), m.Position(), m.Speed())
	all := m.pins.All()
	st.Fields = map[string]interface{}{
		"targetPosition":  m.gen.TargetPosition(),
		"distanceToGo":    m.gen.DistanceToGo(),
		"speedRPM":        m.speedRPM,
		"currentSpeedRPM": m.CurrentSpeedRPM(),
		"acceleration":    m.acceleration,
		"stepsPerRev":     StepsPerRev,
		"revolutions":     m.Revolutions(),
		"pins":            []uint8{uint8(all[0]), uint8(all[1]), uint8(all[2]), uint8(all[3])},
	}
	return st
}

// energize drives the coils for the phase of position.
func (m *Motor) energize(_ bool, position int32) {
	phase := halfStep[position&7]
	for i, coil := range m.coils {
		m.stepErr = multierr.Combine(m.stepErr, coil.Set(m.stepCtx, phase[i], nil))
	}
	m.energized = true
}

func (m *Motor) release(ctx context.Context) error {
	var err error
	for _, coil := range m.coils {
		err = multierr.Combine(err, coil.Set(ctx, false, nil))
	}
	m.energized = false
	return err
}
