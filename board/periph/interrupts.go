package periph

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"

	"go.viam.com/motorctl/board"
)

type digitalInterrupt struct {
	pin        gpio.PinIO
	cancelFunc func()

	mu      sync.Mutex
	handler func()
}

// DigitalInterruptByName configures the named line as an edge reporting input and starts a
// monitor goroutine that calls the installed handler per edge.
func (b *Board) DigitalInterruptByName(name string, edge board.Edge, pull board.Pull) (board.DigitalInterrupt, error) {
	pin, err := b.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := pin.In(toPeriphPull(pull), toPeriphEdge(edge)); err != nil {
		return nil, errors.Wrapf(err, "cannot configure interrupt on pin %s", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelCtx.Err() != nil {
		return nil, errors.New("board is closed")
	}
	cancelCtx, cancelFunc := context.WithCancel(b.cancelCtx)
	di := &digitalInterrupt{pin: pin, cancelFunc: cancelFunc}
	b.interrupts = append(b.interrupts, di)

	b.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		di.monitor(cancelCtx)
	}, b.activeBackgroundWorkers.Done)
	return di, nil
}

func (di *digitalInterrupt) monitor(ctx context.Context) {
	for ctx.Err() == nil {
		if !di.pin.WaitForEdge(edgePollTimeout) {
			continue
		}
		di.mu.Lock()
		handler := di.handler
		di.mu.Unlock()
		if handler != nil {
			handler()
		}
	}
}

func (di *digitalInterrupt) Get(ctx context.Context) (bool, error) {
	return di.pin.Read() == gpio.High, nil
}

func (di *digitalInterrupt) SetHandler(fn func()) {
	di.mu.Lock()
	defer di.mu.Unlock()
	di.handler = fn
}

// Close stops the monitor. It does not wait for it; the monitor exits within one edge poll.
func (di *digitalInterrupt) Close() error {
	di.cancelFunc()
	return nil
}

func toPeriphPull(pull board.Pull) gpio.Pull {
	switch pull {
	case board.PullUp:
		return gpio.PullUp
	case board.PullDown:
		return gpio.PullDown
	case board.PullNone:
		return gpio.Float
	default:
		return gpio.PullNoChange
	}
}

func toPeriphEdge(edge board.Edge) gpio.Edge {
	switch edge {
	case board.RisingEdge:
		return gpio.RisingEdge
	case board.BothEdges:
		return gpio.BothEdges
	case board.FallingEdge:
		return gpio.FallingEdge
	default:
		return gpio.NoEdge
	}
}
