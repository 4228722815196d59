// Package servo implements a hobby servo driven by a single PWM pin, with instant moves and
// timed linear sweeps.
package servo

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/motor"
)

const (
	// MinAngle and MaxAngle bound every commanded angle in degrees.
	MinAngle = 0
	MaxAngle = 180
	// CenterAngle is where the servo starts and where homing sends it.
	CenterAngle = 90

	// Frequency is the PWM frequency in Hz.
	Frequency = 50
	// DefaultMinPulseUs and DefaultMaxPulseUs are the pulse widths at 0 and 180 degrees.
	DefaultMinPulseUs = 500
	DefaultMaxPulseUs = 2400
)

// Config describes one servo.
type Config struct {
	Slot       int
	Pin        board.PinNumber
	MinPulseUs uint
	MaxPulseUs uint
	// Clock drives sweeps; nil means the wall clock.
	Clock clock.Clock
}

// Motor is a servo. It is not safe for concurrent use.
type Motor struct {
	motor.Base

	pinNum     board.PinNumber
	pin        board.GPIOPin
	minPulseUs uint
	maxPulseUs uint
	clk        clock.Clock

	attached     bool
	currentAngle int
	targetAngle  int

	smooth     bool
	sweepStart int
	sweepAt    int64 // ms on clk
	sweepMs    int64
}

var _ motor.Driver = (*Motor)(nil)

// New resolves the servo pin on b.
func New(b board.Board, cfg Config) (*Motor, error) {
	if !cfg.Pin.Valid() {
		return nil, errors.New("servo needs a signal pin")
	}
	if cfg.MinPulseUs == 0 {
		cfg.MinPulseUs = DefaultMinPulseUs
	}
	if cfg.MaxPulseUs == 0 {
		cfg.MaxPulseUs = DefaultMaxPulseUs
	}
	if cfg.MinPulseUs >= cfg.MaxPulseUs {
		return nil, errors.Errorf("servo pulse range [%d, %d] is empty", cfg.MinPulseUs, cfg.MaxPulseUs)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	pin, err := board.PinByNumber(b, cfg.Pin)
	if err != nil {
		return nil, err
	}
	return &Motor{
		Base:         motor.NewBase(cfg.Slot, motor.TypeServo),
		pinNum:       cfg.Pin,
		pin:          pin,
		minPulseUs:   cfg.MinPulseUs,
		maxPulseUs:   cfg.MaxPulseUs,
		clk:          cfg.Clock,
		currentAngle: CenterAngle,
		targetAngle:  CenterAngle,
	}, nil
}

// Init attaches the output and centers the servo.
func (m *Motor) Init(ctx context.Context) error {
	if err := m.pin.SetPWMFreq(ctx, Frequency, nil); err != nil {
		return errors.Wrapf(err, "cannot init servo in slot %d", m.Slot())
	}
	m.attached = true
	m.smooth = false
	m.currentAngle = CenterAngle
	m.targetAngle = CenterAngle
	if err := m.write(ctx, CenterAngle); err != nil {
		m.attached = false
		return errors.Wrapf(err, "cannot init servo in slot %d", m.Slot())
	}
	m.SetEnabled(true)
	return nil
}

// Update advances a sweep. A sweep ends only once the written angle equals the target.
func (m *Motor) Update(ctx context.Context) error {
	if !m.IsEnabled() || !m.attached || !m.smooth {
		return nil
	}
	m.currentAngle = m.sweepAngle()
	err := m.write(ctx, m.currentAngle)
	if m.currentAngle == m.targetAngle {
		m.smooth = false
	}
	return err
}

// Stop ends any sweep where the servo is.
func (m *Motor) Stop(ctx context.Context) error {
	m.hold()
	return nil
}

// EmergencyStop ends any sweep where the servo is. The output stays live to hold position.
func (m *Motor) EmergencyStop() {
	m.hold()
}

func (m *Motor) hold() {
	m.smooth = false
	m.targetAngle = m.currentAngle
}

// SetAngle moves to angle at once, clamped to [0, 180] and then to the limit window.
func (m *Motor) SetAngle(ctx context.Context, angle int) error {
	angle = m.clampAngle(angle)
	m.smooth = false
	m.currentAngle = angle
	m.targetAngle = angle
	if !m.attached {
		return nil
	}
	return m.write(ctx, angle)
}

// SetAngleSmooth sweeps linearly to angle over durationMs. A zero duration is SetAngle.
func (m *Motor) SetAngleSmooth(ctx context.Context, angle int, durationMs uint16) error {
	angle = m.clampAngle(angle)
	if durationMs == 0 {
		return m.SetAngle(ctx, angle)
	}
	m.targetAngle = angle
	m.sweepStart = m.currentAngle
	m.sweepAt = m.nowMs()
	m.sweepMs = int64(durationMs)
	m.smooth = true
	return nil
}

// SetPulseWidth writes a raw pulse width, clamped to the pulse range, and updates the angle
// estimate.
func (m *Motor) SetPulseWidth(ctx context.Context, us uint) error {
	us = max(m.minPulseUs, min(m.maxPulseUs, us))
	m.currentAngle = int((us - m.minPulseUs) * MaxAngle / (m.maxPulseUs - m.minPulseUs))
	m.targetAngle = m.currentAngle
	m.smooth = false
	if !m.attached {
		return nil
	}
	return m.pin.SetPWM(ctx, m.dutyForPulse(float64(us)), nil)
}

// Detach stops the output. The remembered angle is kept.
func (m *Motor) Detach(ctx context.Context) error {
	if !m.attached {
		return nil
	}
	m.attached = false
	m.SetEnabled(false)
	return m.pin.Set(ctx, false, nil)
}

// Attach restarts the output at the remembered angle.
func (m *Motor) Attach(ctx context.Context) error {
	if m.attached {
		return nil
	}
	m.attached = true
	m.SetEnabled(true)
	return m.write(ctx, m.currentAngle)
}

// Close detaches the servo.
func (m *Motor) Close(ctx context.Context) error {
	return m.Detach(ctx)
}

// IsAttached reports whether the output is live.
func (m *Motor) IsAttached() bool { return m.attached }

// Angle returns the last written angle.
func (m *Motor) Angle() int { return m.currentAngle }

// TargetAngle returns the angle being moved to.
func (m *Motor) TargetAngle() int { return m.targetAngle }

// IsMoving reports whether a sweep is still short of its target.
func (m *Motor) IsMoving() bool {
	return m.smooth && m.currentAngle != m.targetAngle
}

// Position is the current angle in degrees.
func (m *Motor) Position() int32 { return int32(m.currentAngle) }

// Speed is the sweep rate in degrees per second, 0 when not sweeping.
func (m *Motor) Speed() float64 {
	if !m.smooth || m.sweepMs == 0 {
		return 0
	}
	diff := m.targetAngle - m.sweepStart
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) * 1000 / float64(m.sweepMs)
}

// Status returns a snapshot of the servo.
func (m *Motor) Status() motor.Status {
	st := m.BaseStatus(m.IsMoving(), m.Position(), m.Speed())
	st.Fields = map[string]interface{}{
		"currentAngle": m.currentAngle,
		"targetAngle":  m.targetAngle,
		"minPulse":     m.minPulseUs,
		"maxPulse":     m.maxPulseUs,
		"attached":     m.attached,
		"smoothMode":   m.smooth,
		"pin":          uint8(m.pinNum),
	}
	return st
}

func (m *Motor) sweepAngle() int {
	elapsed := m.nowMs() - m.sweepAt
	if elapsed >= m.sweepMs {
		return m.targetAngle
	}
	progress := float64(elapsed) / float64(m.sweepMs)
	return m.sweepStart + int(float64(m.targetAngle-m.sweepStart)*progress)
}

// clampAngle clamps to the servo range, then the limit window. A window outside the servo range
// cannot push the result past it.
func (m *Motor) clampAngle(angle int) int {
	angle = max(MinAngle, min(MaxAngle, angle))
	angle = int(m.Limits().Clamp(int32(angle)))
	return max(MinAngle, min(MaxAngle, angle))
}

func (m *Motor) nowMs() int64 {
	return m.clk.Now().UnixMilli()
}

func (m *Motor) write(ctx context.Context, angle int) error {
	return m.pin.SetPWM(ctx, mapDegToDutyCyclePct(m.minPulseUs, m.maxPulseUs, float64(angle)), nil)
}

func (m *Motor) dutyForPulse(us float64) float64 {
	return us * Frequency / 1e6
}

// mapDegToDutyCyclePct converts an angle to the duty cycle of its pulse at Frequency.
func mapDegToDutyCyclePct(minUs, maxUs uint, deg float64) float64 {
	period := 1.0 / float64(Frequency)
	scale := float64(maxUs-minUs) / (MaxAngle - MinAngle)
	pwmWidthUs := float64(minUs) + (deg-MinAngle)*scale
	return (pwmWidthUs / (1000 * 1000)) / period
}

