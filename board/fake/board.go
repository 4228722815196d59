// Package fake implements a fake board that records every pin write.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/motorctl/board"
)

var _ = board.Board(&Board{})

// A Board is a fake board whose pins and interrupts are created on first use.
type Board struct {
	mu         sync.Mutex
	GPIOPins   map[string]*GPIOPin
	Interrupts map[string]*DigitalInterrupt
	closed     bool
}

// NewBoard returns a fake board with no pins.
func NewBoard() *Board {
	return &Board{
		GPIOPins:   map[string]*GPIOPin{},
		Interrupts: map[string]*DigitalInterrupt{},
	}
}

// GPIOPinByName returns the GPIO pin by the given name, creating it if needed.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	return b.Pin(name), nil
}

// Pin returns the concrete fake pin for name so tests can inspect it.
func (b *Board) Pin(name string) *GPIOPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.GPIOPins[name]
	if !ok {
		p = &GPIOPin{}
		b.GPIOPins[name] = p
	}
	return p
}

// PinNumber is Pin keyed by number.
func (b *Board) PinNumber(p board.PinNumber) *GPIOPin {
	return b.Pin(p.Name())
}

// DigitalInterruptByName returns the interrupt on the named pin, creating it if needed. A new
// pulled up interrupt reads high.
func (b *Board) DigitalInterruptByName(name string, edge board.Edge, pull board.Pull) (board.DigitalInterrupt, error) {
	return b.Interrupt(name, pull), nil
}

// Interrupt returns the concrete fake interrupt for name.
func (b *Board) Interrupt(name string, pull board.Pull) *DigitalInterrupt {
	b.mu.Lock()
	defer b.mu.Unlock()
	di, ok := b.Interrupts[name]
	if !ok {
		di = &DigitalInterrupt{high: pull == board.PullUp}
		b.Interrupts[name] = di
	}
	return di
}

// Close marks the board closed.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Board) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// A GPIOPin reflects the last level or PWM written to it.
type GPIOPin struct {
	high        bool
	pwm         float64
	pwmFreq     uint
	risingEdges int
	writes      int
	failWith    error

	mu sync.Mutex
}

// Set sets the pin to either low or high.
func (gp *GPIOPin) Set(ctx context.Context, high bool, extra map[string]interface{}) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.failWith != nil {
		return gp.failWith
	}
	if high && !gp.high {
		gp.risingEdges++
	}
	gp.writes++
	gp.high = high
	gp.pwm = 0
	return nil
}

// Get gets the high/low state of the pin.
func (gp *GPIOPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.high, nil
}

// PWM gets the pin's given duty cycle.
func (gp *GPIOPin) PWM(ctx context.Context, extra map[string]interface{}) (float64, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.pwm, nil
}

// SetPWM sets the pin to the given duty cycle.
func (gp *GPIOPin) SetPWM(ctx context.Context, dutyCyclePct float64, extra map[string]interface{}) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.failWith != nil {
		return gp.failWith
	}
	if dutyCyclePct < 0 || dutyCyclePct > 1 {
		return errors.Errorf("duty cycle %.3f out of range [0, 1]", dutyCyclePct)
	}
	gp.writes++
	gp.pwm = dutyCyclePct
	gp.high = dutyCyclePct > 0
	return nil
}

// PWMFreq gets the PWM frequency of the pin.
func (gp *GPIOPin) PWMFreq(ctx context.Context, extra map[string]interface{}) (uint, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.pwmFreq, nil
}

// SetPWMFreq sets the given pin to the given PWM frequency.
func (gp *GPIOPin) SetPWMFreq(ctx context.Context, freqHz uint, extra map[string]interface{}) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.pwmFreq = freqHz
	return nil
}

// High returns the last level written.
func (gp *GPIOPin) High() bool {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.high
}

// Duty returns the last duty cycle written, 0 after a level write.
func (gp *GPIOPin) Duty() float64 {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.pwm
}

// RisingEdges counts low to high level writes, i.e. step pulses on a step pin.
func (gp *GPIOPin) RisingEdges() int {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.risingEdges
}

// Writes counts successful level and duty writes.
func (gp *GPIOPin) Writes() int {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.writes
}

// FailWith makes every following write return err. A nil err clears the failure.
func (gp *GPIOPin) FailWith(err error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.failWith = err
}

// DigitalInterrupt is a fake digital interrupt driven by the test.
type DigitalInterrupt struct {
	mu      sync.Mutex
	high    bool
	handler func()
	closed  bool
}

// Get reads the simulated level.
func (di *DigitalInterrupt) Get(ctx context.Context) (bool, error) {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.high, nil
}

// SetHandler installs the edge handler.
func (di *DigitalInterrupt) SetHandler(fn func()) {
	di.mu.Lock()
	defer di.mu.Unlock()
	di.handler = fn
}

// SetLevel changes the simulated level without reporting an edge.
func (di *DigitalInterrupt) SetLevel(high bool) {
	di.mu.Lock()
	defer di.mu.Unlock()
	di.high = high
}

// Fall drives the level low and reports the edge to the handler, like a pressed active low
// switch.
func (di *DigitalInterrupt) Fall() {
	di.mu.Lock()
	di.high = false
	handler := di.handler
	closed := di.closed
	di.mu.Unlock()
	if handler != nil && !closed {
		handler()
	}
}

// Close stops edge delivery.
func (di *DigitalInterrupt) Close() error {
	di.mu.Lock()
	defer di.mu.Unlock()
	di.closed = true
	return nil
}
