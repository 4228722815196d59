// Package dc implements a brushed DC motor driven through an H-bridge. Two wirings are
// supported: L298N style (two direction pins plus a PWM enable pin) and L9110S style (both legs
// driven with PWM, no enable pin).
package dc

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/motor"
)

// Wiring selects the H-bridge output convention.
type Wiring int

const (
	// WiringL298N drives A/B as direction levels and EN as the PWM speed output.
	WiringL298N Wiring = iota
	// WiringL9110S drives A and B as PWM outputs.
	WiringL9110S
)

func (w Wiring) String() string {
	if w == WiringL9110S {
		return "L9110S"
	}
	return "L298N"
}

// DeadbandMode decides what happens to speeds below the minimum magnitude.
type DeadbandMode int

const (
	// SnapToMin raises small non-zero speeds to the minimum magnitude.
	SnapToMin DeadbandMode = iota
	// SnapToZero drops small speeds to 0.
	SnapToZero
)

const (
	// MaxSpeed is the largest speed magnitude; it maps to a 100% duty cycle.
	MaxSpeed = 255
	// DefaultRampRate is the speed change applied per update.
	DefaultRampRate = 10
	// DefaultMinSpeed is the default dead-band threshold.
	DefaultMinSpeed = 20
	// DefaultDirectionSpeed is the speed SetDirection uses from standstill.
	DefaultDirectionSpeed = 128
	// PWMFrequency is the output frequency in Hz.
	PWMFrequency = 1000
)

// Config describes one DC motor.
type Config struct {
	Slot     int
	Wiring   Wiring
	Pins     motor.PinAssignment
	MinSpeed int
	Deadband DeadbandMode
	RampRate int
}

// NewConfig returns the default configuration for a slot.
func NewConfig(slot int, wiring Wiring, pins motor.PinAssignment) Config {
	return Config{
		Slot:     slot,
		Wiring:   wiring,
		Pins:     pins,
		MinSpeed: DefaultMinSpeed,
		Deadband: SnapToMin,
		RampRate: DefaultRampRate,
	}
}

// Motor is a DC motor. It is not safe for concurrent use.
type Motor struct {
	motor.Base

	wiring            Wiring
	pins              motor.PinAssignment
	pinA, pinB, pinEn board.GPIOPin

	targetSpeed  int
	currentSpeed int
	braking      bool

	minSpeed int
	deadband DeadbandMode
	rampRate int
}

var _ motor.Driver = (*Motor)(nil)

// New resolves the motor's pins on b. The motor is inert until Init.
func New(b board.Board, cfg Config) (*Motor, error) {
	t := motor.TypeDCL298N
	if cfg.Wiring == WiringL9110S {
		t = motor.TypeDCL9110S
	}
	if !cfg.Pins.Primary.Valid() || !cfg.Pins.Secondary.Valid() {
		return nil, errors.Errorf("%s motor needs pins A and B", cfg.Wiring)
	}
	if cfg.RampRate <= 0 {
		cfg.RampRate = DefaultRampRate
	}
	m := &Motor{
		Base:     motor.NewBase(cfg.Slot, t),
		wiring:   cfg.Wiring,
		pins:     cfg.Pins,
		minSpeed: clamp(cfg.MinSpeed, 0, MaxSpeed),
		deadband: cfg.Deadband,
		rampRate: cfg.RampRate,
	}

	var err error
	if m.pinA, err = board.PinByNumber(b, cfg.Pins.Primary); err != nil {
		return nil, err
	}
	if m.pinB, err = board.PinByNumber(b, cfg.Pins.Secondary); err != nil {
		return nil, err
	}
	if cfg.Wiring == WiringL298N {
		if m.pinEn, err = board.PinByNumber(b, cfg.Pins.Enable); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Init sets up PWM and leaves the bridge de-energized.
func (m *Motor) Init(ctx context.Context) error {
	var err error
	switch m.wiring {
	case WiringL298N:
		err = multierr.Combine(
			m.pinA.Set(ctx, false, nil),
			m.pinB.Set(ctx, false, nil),
		)
		if m.pinEn != nil {
			err = multierr.Combine(err,
				m.pinEn.SetPWMFreq(ctx, PWMFrequency, nil),
				m.pinEn.SetPWM(ctx, 0, nil),
			)
		}
	case WiringL9110S:
		err = multierr.Combine(
			m.pinA.SetPWMFreq(ctx, PWMFrequency, nil),
			m.pinB.SetPWMFreq(ctx, PWMFrequency, nil),
			m.pinA.SetPWM(ctx, 0, nil),
			m.pinB.SetPWM(ctx, 0, nil),
		)
	}
	if err != nil {
		return errors.Wrapf(err, "cannot init DC motor in slot %d", m.Slot())
	}
	m.targetSpeed = 0
	m.currentSpeed = 0
	m.braking = false
	m.SetEnabled(true)
	return nil
}

// Update ramps the applied speed toward the target by at most the ramp rate and rewrites the
// outputs. While braking the outputs are left alone.
func (m *Motor) Update(ctx context.Context) error {
	if !m.IsEnabled() {
		return nil
	}
	if m.currentSpeed < m.targetSpeed {
		m.currentSpeed = min(m.currentSpeed+m.rampRate, m.targetSpeed)
	} else if m.currentSpeed > m.targetSpeed {
		m.currentSpeed = max(m.currentSpeed-m.rampRate, m.targetSpeed)
	}
	return m.apply(ctx)
}

// Stop ramps down to zero over the following updates.
func (m *Motor) Stop(ctx context.Context) error {
	m.targetSpeed = 0
	return nil
}

// EmergencyStop zeroes the speed and turns every output off immediately.
func (m *Motor) EmergencyStop() {
	m.targetSpeed = 0
	m.currentSpeed = 0
	m.braking = false
	goutils.UncheckedError(m.outputsOff(context.Background()))
}

// SetSpeed sets a target speed in [-255, 255] and clears any brake. Magnitudes below the
// minimum speed follow the dead-band mode.
func (m *Motor) SetSpeed(speed int) {
	m.braking = false
	speed = clamp(speed, -MaxSpeed, MaxSpeed)
	if speed != 0 && abs(speed) < m.minSpeed {
		switch m.deadband {
		case SnapToZero:
			speed = 0
		case SnapToMin:
			if speed > 0 {
				speed = m.minSpeed
			} else {
				speed = -m.minSpeed
			}
		}
	}
	m.targetSpeed = speed
}

// SetDirection keeps the target magnitude and sets its sign. From standstill it runs at half
// speed.
func (m *Motor) SetDirection(forward bool) {
	m.braking = false
	speed := abs(m.targetSpeed)
	if speed == 0 {
		speed = DefaultDirectionSpeed
	}
	if !forward {
		speed = -speed
	}
	m.targetSpeed = speed
}

// Brake drives the bridge to its braking pattern and holds it until the next speed or coast
// command.
func (m *Motor) Brake(ctx context.Context) error {
	m.braking = true
	m.targetSpeed = 0
	m.currentSpeed = 0
	var err error
	switch m.wiring {
	case WiringL298N:
		err = multierr.Combine(
			m.pinA.Set(ctx, true, nil),
			m.pinB.Set(ctx, true, nil),
		)
		if m.pinEn != nil {
			err = multierr.Combine(err, m.pinEn.SetPWM(ctx, 1, nil))
		}
	case WiringL9110S:
		err = multierr.Combine(
			m.pinA.SetPWM(ctx, 0, nil),
			m.pinB.SetPWM(ctx, 0, nil),
		)
	}
	return err
}

// Coast de-energizes the bridge and lets the motor spin down freely.
func (m *Motor) Coast(ctx context.Context) error {
	m.braking = false
	m.targetSpeed = 0
	m.currentSpeed = 0
	return m.outputsOff(ctx)
}

// SetDeadband changes the minimum speed magnitude and what happens below it.
func (m *Motor) SetDeadband(minSpeed int, mode DeadbandMode) {
	m.minSpeed = clamp(minSpeed, 0, MaxSpeed)
	m.deadband = mode
}

// SetRampRate changes the per-update speed step. Non-positive rates are ignored.
func (m *Motor) SetRampRate(rate int) {
	if rate > 0 {
		m.rampRate = rate
	}
}

// TargetSpeed returns the commanded speed.
func (m *Motor) TargetSpeed() int { return m.targetSpeed }

// CurrentSpeed returns the applied speed.
func (m *Motor) CurrentSpeed() int { return m.currentSpeed }

// IsBraking reports whether the brake pattern is held.
func (m *Motor) IsBraking() bool { return m.braking }

// IsMoving reports whether a non-zero speed is applied.
func (m *Motor) IsMoving() bool { return m.currentSpeed != 0 }

// Position is always 0; a DC motor without feedback has no position.
func (m *Motor) Position() int32 { return 0 }

// Speed returns the applied speed.
func (m *Motor) Speed() float64 { return float64(m.currentSpeed) }

// Status returns a snapshot of the motor.
func (m *Motor) Status() motor.Status {
	st := m.BaseStatus(m.IsMoving(), 0, m.Speed())
	direction := "forward"
	if m.currentSpeed < 0 {
		direction = "reverse"
	}
	st.Fields = map[string]interface{}{
		"driverType":   m.wiring.String(),
		"targetSpeed":  m.targetSpeed,
		"currentSpeed": m.currentSpeed,
		"braking":      m.braking,
		"direction":    direction,
		"pinA":         uint8(m.pins.Primary),
		"pinB":         uint8(m.pins.Secondary),
		"pinEn":        uint8(m.pins.Enable),
	}
	return st
}

func (m *Motor) apply(ctx context.Context) error {
	if m.braking {
		return nil
	}
	duty := float64(abs(m.currentSpeed)) / MaxSpeed
	switch m.wiring {
	case WiringL298N:
		err := multierr.Combine(
			m.pinA.Set(ctx, m.currentSpeed > 0, nil),
			m.pinB.Set(ctx, m.currentSpeed < 0, nil),
		)
		if m.pinEn != nil {
			err = multierr.Combine(err, m.pinEn.SetPWM(ctx, duty, nil))
		}
		return err
	case WiringL9110S:
		dutyA, dutyB := 0.0, 0.0
		if m.currentSpeed > 0 {
			dutyA = duty
		} else if m.currentSpeed < 0 {
			dutyB = duty
		}
		return multierr.Combine(
			m.pinA.SetPWM(ctx, dutyA, nil),
			m.pinB.SetPWM(ctx, dutyB, nil),
		)
	}
	return nil
}

func (m *Motor) outputsOff(ctx context.Context) error {
	switch m.wiring {
	case WiringL298N:
		err := multierr.Combine(
			m.pinA.Set(ctx, false, nil),
			m.pinB.Set(ctx, false, nil),
		)
		if m.pinEn != nil {
			err = multierr.Combine(err, m.pinEn.SetPWM(ctx, 0, nil))
		}
		return err
	case WiringL9110S:
		return multierr.Combine(
			m.pinA.SetPWM(ctx, 0, nil),
			m.pinB.SetPWM(ctx, 0, nil),
		)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
