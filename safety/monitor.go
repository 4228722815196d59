// Package safety implements the emergency stop state machine of the controller: a debounced
// trigger input, the global stop cascade and its validated reset, the status LED, and access to
// the per-slot position limits.
package safety

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/logging"
)

const (
	// DefaultEstopPin is the trigger input, active low with a pull up.
	DefaultEstopPin board.PinNumber = 0
	// DefaultLEDPin is the status LED output.
	DefaultLEDPin board.PinNumber = 2
	// DefaultDebounce is the minimum spacing of accepted trigger edges.
	DefaultDebounce = 50 * time.Millisecond
)

// ErrTriggerStillActive is returned by ResetEstop while the trigger input is still pressed.
var ErrTriggerStillActive = errors.New("cannot reset: emergency stop trigger still active")

// Motors is what the monitor needs from the motor registry.
type Motors interface {
	EmergencyStopAll()
	SetPositionLimits(slot int, min, max int32) error
	ClearPositionLimits(slot int) error
	WithinLimits(slot int, position int32) bool
}

// Config describes the monitor's hardware.
type Config struct {
	// EstopPin is the trigger input; NoPin leaves only software triggering.
	EstopPin board.PinNumber
	// LEDPin is the status LED; NoPin disables it.
	LEDPin   board.PinNumber
	Debounce time.Duration
	// Clock times debouncing, the LED and trigger timestamps; nil means the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns the board wiring.
func DefaultConfig() Config {
	return Config{EstopPin: DefaultEstopPin, LEDPin: DefaultLEDPin, Debounce: DefaultDebounce}
}

// Monitor is the safety monitor. Its methods are safe for concurrent use.
type Monitor struct {
	motors   Motors
	logger   logging.Logger
	clk      clock.Clock
	estopPin board.PinNumber
	trigger  board.DigitalInterrupt
	led      board.GPIOPin
	debounce time.Duration

	// written from the interrupt path
	triggered  atomic.Bool
	lastEdgeAt atomic.Int64

	mu            sync.Mutex
	state         State
	estopCount    uint32
	lastEstopTime time.Time
	onEstop       func()
	onReset       func()
}

// NewMonitor sets up the trigger input and the LED on b, starting in StateNormal with the LED
// off.
func NewMonitor(ctx context.Context, b board.Board, motors Motors, cfg Config, logger logging.Logger) (*Monitor, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	m := &Monitor{
		motors:   motors,
		logger:   logger,
		clk:      cfg.Clock,
		estopPin: cfg.EstopPin,
		debounce: cfg.Debounce,
	}
	m.lastEdgeAt.Store(m.clk.Now().Add(-cfg.Debounce - time.Nanosecond).UnixNano())

	var err error
	if m.led, err = board.PinByNumber(b, cfg.LEDPin); err != nil {
		return nil, err
	}
	if m.led != nil {
		if err := m.led.Set(ctx, false, nil); err != nil {
			return nil, errors.Wrap(err, "cannot turn status led off")
		}
	}
	if cfg.EstopPin.Valid() {
		m.trigger, err = b.DigitalInterruptByName(cfg.EstopPin.Name(), board.FallingEdge, board.PullUp)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot watch emergency stop pin %s", cfg.EstopPin)
		}
		m.trigger.SetHandler(m.HandleInterrupt)
	}
	logger.Infow("safety monitor initialized", "estop_pin", cfg.EstopPin.String())
	return m, nil
}

// HandleInterrupt records a trigger edge. Edges closer than the debounce interval to the last
// accepted one are dropped. It only touches atomics and is safe to call from the board's
// event goroutine.
func (m *Monitor) HandleInterrupt() {
	now := m.clk.Now().UnixNano()
	last := m.lastEdgeAt.Load()
	if now-last <= m.debounce.Nanoseconds() {
		return
	}
	if !m.lastEdgeAt.CompareAndSwap(last, now) {
		return
	}
	m.triggered.Store(true)
}

// Check turns a pending trigger into an emergency stop and refreshes the status LED. It is
// called periodically from the control context.
func (m *Monitor) Check(ctx context.Context) {
	if m.triggered.Swap(false) && !m.IsEstopActive() {
		m.TriggerEstop(ctx)
	}
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if m.led != nil {
		if err := m.led.Set(ctx, LEDLevel(state, m.clk.Now()), nil); err != nil {
			m.logger.Debugw("cannot set status led", "error", err)
		}
	}
}

// TriggerEstop enters StateEstopActive and then emergency stops every motor. Triggering while
// already active stops the motors again but is not counted as a new emergency stop.
func (m *Monitor) TriggerEstop(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateEstopActive {
		m.mu.Unlock()
		m.motors.EmergencyStopAll()
		return
	}
	m.state = StateEstopActive
	m.estopCount++
	m.lastEstopTime = m.clk.Now()
	count := m.estopCount
	cb := m.onEstop
	m.mu.Unlock()

	m.motors.EmergencyStopAll()
	m.logger.Warnw("EMERGENCY STOP triggered", "count", count)
	if cb != nil {
		cb()
	}
}

// ResetEstop returns to StateNormal. It fails with ErrTriggerStillActive, changing nothing,
// while the trigger input still reads pressed. Resetting outside StateEstopActive does
// nothing.
func (m *Monitor) ResetEstop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateEstopActive {
		m.mu.Unlock()
		return nil
	}
	if m.trigger != nil {
		high, err := m.trigger.Get(ctx)
		if err != nil {
			m.mu.Unlock()
			return errors.Wrap(err, "cannot read emergency stop pin")
		}
		if !high {
			m.mu.Unlock()
			m.logger.Warn("emergency stop reset refused, trigger still active")
			return ErrTriggerStillActive
		}
	}
	m.state = StateNormal
	cb := m.onReset
	m.mu.Unlock()

	m.logger.Info("emergency stop reset")
	if cb != nil {
		cb()
	}
	return nil
}

// IsEstopActive reports whether the controller is emergency stopped.
func (m *Monitor) IsEstopActive() bool {
	return m.State() == StateEstopActive
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EstopCount returns the number of entries into StateEstopActive.
func (m *Monitor) EstopCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estopCount
}

// SetEstopCallback installs fn to run after each entry into StateEstopActive.
func (m *Monitor) SetEstopCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEstop = fn
}

// SetResetCallback installs fn to run after each successful reset.
func (m *Monitor) SetResetCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReset = fn
}

// SetPositionLimits restricts the motor in slot to [min, max].
func (m *Monitor) SetPositionLimits(slot int, min, max int32) error {
	if err := m.motors.SetPositionLimits(slot, min, max); err != nil {
		return err
	}
	m.logger.Infow("position limits set", "slot", slot, "min", min, "max", max)
	return nil
}

// ClearPositionLimits removes the limits of the motor in slot.
func (m *Monitor) ClearPositionLimits(slot int) error {
	if err := m.motors.ClearPositionLimits(slot); err != nil {
		return err
	}
	m.logger.Infow("position limits cleared", "slot", slot)
	return nil
}

// CheckPositionLimits reports whether position is allowed in slot. Empty slots allow
// everything.
func (m *Monitor) CheckPositionLimits(slot int, position int32) bool {
	return m.motors.WithinLimits(slot, position)
}

// Snapshot is the externally reported safety state.
type Snapshot struct {
	State         State     `json:"state"`
	StateName     string    `json:"stateName"`
	EstopActive   bool      `json:"estopActive"`
	EstopCount    uint32    `json:"estopCount"`
	LastEstopTime time.Time `json:"lastEstopTime"`
	EstopPin      uint8     `json:"estopPin"`
	// EstopPinState is the raw trigger level; high is released.
	EstopPinState bool `json:"estopPinState"`
}

// Snapshot reports the current state.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		State:         m.state,
		StateName:     m.state.String(),
		EstopActive:   m.state == StateEstopActive,
		EstopCount:    m.estopCount,
		LastEstopTime: m.lastEstopTime,
		EstopPin:      uint8(m.estopPin),
	}
	m.mu.Unlock()
	if m.trigger != nil {
		if high, err := m.trigger.Get(ctx); err == nil {
			snap.EstopPinState = high
		}
	}
	return snap
}

// Close stops watching the trigger input.
func (m *Monitor) Close() error {
	if m.trigger == nil {
		return nil
	}
	return m.trigger.Close()
}
