// Package registry owns the motor slots of the controller. It builds drivers through a
// constructor table keyed by motor type, dispatches commands to them, advances them from the
// motor loop, and persists the slot configuration.
//
// Every operation except EmergencyStopAll is serialized by one lock. EmergencyStopAll reads
// per-slot atomic handles instead and never waits; an emergency stop that races a
// reconfiguration of the same slot is an accepted hazard.
package registry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/storage/kv"
	"go.viam.com/motorctl/utils"
)

// DefaultLockTimeout bounds how long UpdateAll waits for the registry lock.
const DefaultLockTimeout = time.Millisecond

type slot struct {
	driver motor.Driver
	typ    motor.Type
	pins   motor.PinAssignment

	// updateErr is the last update failure logged for the slot.
	updateErr string
}

type handle struct {
	motor.Driver
}

// closer is implemented by drivers that release their outputs on removal.
type closer interface {
	Close(ctx context.Context) error
}

// Registry is the set of motor slots.
type Registry struct {
	mu           *utils.TimedMutex
	board        board.Board
	logger       logging.Logger
	clk          clock.Clock
	store        kv.Store
	constructors map[motor.Type]Constructor
	lockTimeout  time.Duration
	gate         func(motor.CommandRequest) error

	slots   [motor.MaxSlots]slot
	handles [motor.MaxSlots]atomic.Pointer[handle]
	skipped atomic.Int64
}

// An Option changes how a Registry is built.
type Option func(*Registry)

// WithStore persists slot configuration in s.
func WithStore(s kv.Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithClock gives the drivers a clock other than the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(r *Registry) { r.clk = clk }
}

// WithConstructor replaces the constructor of one motor type.
func WithConstructor(t motor.Type, c Constructor) Option {
	return func(r *Registry) { r.constructors[t] = c }
}

// WithLockTimeout changes how long UpdateAll waits for the lock before skipping a cycle.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Registry) { r.lockTimeout = d }
}

// WithCommandGate checks every command under the registry lock before it reaches a driver. A
// non-nil error from gate refuses the command.
func WithCommandGate(gate func(motor.CommandRequest) error) Option {
	return func(r *Registry) { r.gate = gate }
}

// WithSlotPins sets the pins a slot starts with instead of the board default.
func WithSlotPins(slot int, pins motor.PinAssignment) Option {
	return func(r *Registry) {
		if motor.ValidSlot(slot) {
			r.slots[slot].pins = pins
		}
	}
}

// New returns a registry with every slot empty and holding its default pins.
func New(b board.Board, logger logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		mu:           utils.NewTimedMutex(),
		board:        b,
		logger:       logger,
		clk:          clock.New(),
		constructors: lo.Assign(defaultConstructors),
		lockTimeout:  DefaultLockTimeout,
	}
	for i := range r.slots {
		r.slots[i].pins = motor.DefaultPins[i]
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConfigureSlot replaces whatever occupies slot with a new driver of type t on pins and
// initializes it. TypeNone empties the slot and only records the pins. A driver that fails to
// build or initialize leaves the slot empty.
func (r *Registry) ConfigureSlot(ctx context.Context, slot int, t motor.Type, pins motor.PinAssignment) error {
	if !motor.ValidSlot(slot) {
		return motor.NewInvalidSlotError(slot)
	}
	if !t.Valid() {
		return motor.NewUnknownTypeError(int(t))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configureLocked(ctx, slot, t, pins)
}

func (r *Registry) configureLocked(ctx context.Context, slot int, t motor.Type, pins motor.PinAssignment) error {
	destroyErr := r.destroyLocked(ctx, slot)
	r.slots[slot].pins = pins
	if t == motor.TypeNone {
		r.logger.Infow("slot cleared", "slot", slot)
		return destroyErr
	}

	construct, ok := r.constructors[t]
	if !ok {
		return multierr.Combine(destroyErr, motor.NewUnknownTypeError(int(t)))
	}
	driver, err := construct(r.board, slot, t, pins, r.clk)
	if err != nil {
		return multierr.Combine(destroyErr, errors.Wrapf(err, "cannot build %s in slot %d", t, slot))
	}
	if err := driver.Init(ctx); err != nil {
		driver.EmergencyStop()
		return multierr.Combine(destroyErr, errors.Wrapf(err, "cannot init %s in slot %d", t, slot))
	}
	r.slots[slot].driver = driver
	r.slots[slot].typ = t
	r.handles[slot].Store(&handle{driver})
	r.logger.Infow("slot configured", "slot", slot, "type", t.String(), "pins", pins.All())
	return destroyErr
}

// destroyLocked emergency stops and drops the driver in slot.
func (r *Registry) destroyLocked(ctx context.Context, slot int) error {
	s := &r.slots[slot]
	s.typ = motor.TypeNone
	s.updateErr = ""
	if s.driver == nil {
		return nil
	}
	r.handles[slot].Store(nil)
	s.driver.EmergencyStop()
	var err error
	if c, ok := s.driver.(closer); ok {
		err = c.Close(ctx)
	}
	s.driver = nil
	return err
}

// RemoveMotor empties slot and keeps its pins.
func (r *Registry) RemoveMotor(ctx context.Context, slot int) error {
	if !motor.ValidSlot(slot) {
		return motor.NewInvalidSlotError(slot)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyLocked(ctx, slot)
}

// Motor returns the driver in slot. The driver must only be read; commands go through
// SendCommand.
func (r *Registry) Motor(slot int) (motor.Driver, bool) {
	if !motor.ValidSlot(slot) {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.slots[slot].driver
	return d, d != nil
}

// MotorType returns the type configured in slot, TypeNone when empty or out of range.
func (r *Registry) MotorType(slot int) motor.Type {
	if !motor.ValidSlot(slot) {
		return motor.TypeNone
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[slot].typ
}

// IsSlotConfigured reports whether slot holds a driver.
func (r *Registry) IsSlotConfigured(slot int) bool {
	_, ok := r.Motor(slot)
	return ok
}

// ConfiguredCount returns the number of slots holding a driver.
func (r *Registry) ConfiguredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configuredCountLocked()
}

func (r *Registry) configuredCountLocked() int {
	return lo.CountBy(r.slots[:], func(s slot) bool { return s.driver != nil })
}

// Pins returns the pins recorded for slot.
func (r *Registry) Pins(slot int) (motor.PinAssignment, error) {
	if !motor.ValidSlot(slot) {
		return motor.NoPins, motor.NewInvalidSlotError(slot)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[slot].pins, nil
}

// UpdateAll advances every configured driver by one control cycle. When the lock is not free
// within the lock timeout the whole cycle is skipped. A failing driver is logged when its
// failure changes and does not keep the other slots from updating.
func (r *Registry) UpdateAll(ctx context.Context) {
	if !r.mu.TryLockFor(r.lockTimeout) {
		r.skipped.Inc()
		return
	}
	defer r.mu.Unlock()
	for i := range r.slots {
		s := &r.slots[i]
		if s.driver == nil {
			continue
		}
		err := s.driver.Update(ctx)
		switch {
		case err != nil && err.Error() != s.updateErr:
			s.updateErr = err.Error()
			r.logger.Warnw("motor update failed", "slot", i, "type", s.typ.String(), "error", err)
		case err == nil && s.updateErr != "":
			s.updateErr = ""
			r.logger.Infow("motor update recovered", "slot", i)
		}
	}
}

// SkippedUpdates returns the number of UpdateAll cycles skipped on a busy lock.
func (r *Registry) SkippedUpdates() int64 {
	return r.skipped.Load()
}

// StopAll asks every configured driver for a graceful stop.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for i := range r.slots {
		if d := r.slots[i].driver; d != nil {
			err = multierr.Combine(err, errors.Wrapf(d.Stop(ctx), "slot %d", i))
		}
	}
	return err
}

// EmergencyStopAll emergency stops every configured driver without taking the lock.
func (r *Registry) EmergencyStopAll() {
	for i := range r.handles {
		if h := r.handles[i].Load(); h != nil {
			h.EmergencyStop()
		}
	}
}

// ReassertEmergencyStop waits for any command or update holding the lock to finish and then
// emergency stops every driver again. Outputs written by work that was in flight during
// EmergencyStopAll are dropped.
func (r *Registry) ReassertEmergencyStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if d := r.slots[i].driver; d != nil {
			d.EmergencyStop()
		}
	}
}

// Close empties every slot.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for i := range r.slots {
		err = multierr.Combine(err, r.destroyLocked(ctx, i))
	}
	return err
}

// SetPositionLimits restricts the motor in slot to [min, max].
func (r *Registry) SetPositionLimits(slot int, min, max int32) error {
	return r.withDriver(slot, func(d motor.Driver) { d.Limits().Set(min, max) })
}

// ClearPositionLimits removes the limit window of the motor in slot.
func (r *Registry) ClearPositionLimits(slot int) error {
	return r.withDriver(slot, func(d motor.Driver) { d.Limits().Clear() })
}

// WithinLimits reports whether position is allowed for the motor in slot. An empty slot
// allows every position.
func (r *Registry) WithinLimits(slot int, position int32) bool {
	ok := true
	//nolint:errcheck
	r.withDriver(slot, func(d motor.Driver) { ok = d.Limits().Contains(position) })
	return ok
}

func (r *Registry) withDriver(slot int, fn func(motor.Driver)) error {
	if !motor.ValidSlot(slot) {
		return motor.NewInvalidSlotError(slot)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.slots[slot].driver
	if d == nil {
		return motor.NewNotConfiguredError(slot)
	}
	fn(d)
	return nil
}
