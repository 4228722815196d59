// Package board defines the hardware abstraction the motor drivers write to: numbered GPIO pins
// with optional PWM, and edge-triggered digital interrupts.
package board

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
)

// PinNumber identifies a GPIO line on the board by its number.
type PinNumber uint8

// NoPin marks an unused pin in a pin assignment.
const NoPin PinNumber = 255

// Valid reports whether the pin refers to a line rather than NoPin.
func (p PinNumber) Valid() bool {
	return p != NoPin
}

// Name returns the pin name boards are looked up by.
func (p PinNumber) Name() string {
	return strconv.Itoa(int(p))
}

func (p PinNumber) String() string {
	if !p.Valid() {
		return "none"
	}
	return p.Name()
}

// Edge selects which transitions a DigitalInterrupt reports.
type Edge int

const (
	// FallingEdge reports high to low transitions.
	FallingEdge Edge = iota
	// RisingEdge reports low to high transitions.
	RisingEdge
	// BothEdges reports every transition.
	BothEdges
)

// Pull selects the input bias of an interrupt pin.
type Pull int

const (
	// PullNone leaves the input floating.
	PullNone Pull = iota
	// PullUp biases the input high.
	PullUp
	// PullDown biases the input low.
	PullDown
)

// A DigitalInterrupt delivers edge events from an input pin to a handler.
type DigitalInterrupt interface {
	// Get reads the current level of the pin.
	Get(ctx context.Context) (bool, error)

	// SetHandler installs fn to run on every reported edge, replacing any previous handler. fn
	// runs on the board's event goroutine and must return quickly.
	SetHandler(fn func())

	// Close stops delivering events.
	Close() error
}

// A Board hands out the pins and interrupts of a controller board.
type Board interface {
	// GPIOPinByName returns the pin with the given name.
	GPIOPinByName(name string) (GPIOPin, error)

	// DigitalInterruptByName configures the named pin as an input with the given bias and edge
	// reporting.
	DigitalInterruptByName(name string, edge Edge, pull Pull) (DigitalInterrupt, error)

	// Close releases all pins and stops background workers.
	Close(ctx context.Context) error
}

// PinByNumber returns the pin for p, or nil without error when p is NoPin.
func PinByNumber(b Board, p PinNumber) (GPIOPin, error) {
	if !p.Valid() {
		return nil, nil
	}
	pin, err := b.GPIOPinByName(p.Name())
	if err != nil {
		return nil, errors.Wrapf(err, "cannot get pin %s", p)
	}
	return pin, nil
}
