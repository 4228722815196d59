// Package periph implements a board on top of periph.io GPIO drivers. Pins are looked up in the
// periph GPIO registry by name, e.g. "25" or "GPIO25". PWM uses the hardware PWM of the line when
// the driver supports it and falls back to a software PWM loop otherwise.
package periph

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/logging"
)

var _ = board.Board(&Board{})

// DefaultPWMFrequency is used when a duty cycle is set before any frequency.
const DefaultPWMFrequency = 1000 * physic.Hertz

// edgePollTimeout bounds how long an interrupt monitor blocks before rechecking for shutdown.
const edgePollTimeout = 100 * time.Millisecond

// Board is a periph.io backed board.
type Board struct {
	mu         sync.RWMutex
	pwms       map[string]pwmSetting
	softPWM    map[string]bool
	interrupts []*digitalInterrupt
	logger     logging.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

type pwmSetting struct {
	dutyCycle gpio.Duty
	frequency physic.Frequency
}

// NewBoard initializes the periph host drivers and returns a board using them.
func NewBoard(logger logging.Logger) (*Board, error) {
	state, err := host.Init()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host drivers")
	}
	for _, failure := range state.Failed {
		logger.Debugw("periph driver failed to load", "driver", failure.D.String(), "error", failure.Err)
	}
	return newBoard(logger), nil
}

func newBoard(logger logging.Logger) *Board {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Board{
		pwms:       map[string]pwmSetting{},
		softPWM:    map[string]bool{},
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

func (b *Board) lookup(pinName string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		pin = gpioreg.ByName("GPIO" + pinName)
	}
	if pin == nil {
		return nil, errors.Errorf("no global pin found for %q", pinName)
	}
	return pin, nil
}

// GPIOPinByName returns the GPIO line with the given name.
func (b *Board) GPIOPinByName(pinName string) (board.GPIOPin, error) {
	pin, err := b.lookup(pinName)
	if err != nil {
		return nil, err
	}
	return gpioPin{b, pin, pinName}, nil
}

// Close stops PWM loops and interrupt monitors and halts every touched line.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	b.cancelFunc()
	interrupts := b.interrupts
	b.interrupts = nil
	names := make([]string, 0, len(b.pwms))
	for name := range b.pwms {
		names = append(names, name)
	}
	b.mu.Unlock()
	b.activeBackgroundWorkers.Wait()

	var err error
	for _, di := range interrupts {
		err = multierr.Combine(err, di.pin.Halt())
	}
	for _, name := range names {
		if pin, lookupErr := b.lookup(name); lookupErr == nil {
			err = multierr.Combine(err, pin.Out(gpio.Low))
		}
	}
	return err
}

type gpioPin struct {
	b       *Board
	pin     gpio.PinIO
	pinName string
}

func (gp gpioPin) Set(ctx context.Context, high bool, extra map[string]interface{}) error {
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()

	delete(gp.b.pwms, gp.pinName)

	return gp.set(high)
}

func (gp gpioPin) set(high bool) error {
	l := gpio.Low
	if high {
		l = gpio.High
	}
	return gp.pin.Out(l)
}

func (gp gpioPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	return gp.pin.Read() == gpio.High, nil
}

func (gp gpioPin) PWM(ctx context.Context, extra map[string]interface{}) (float64, error) {
	gp.b.mu.RLock()
	defer gp.b.mu.RUnlock()

	pwm, ok := gp.b.pwms[gp.pinName]
	if !ok {
		return 0, nil
	}
	return float64(pwm.dutyCycle) / float64(gpio.DutyMax), nil
}

func (gp gpioPin) SetPWM(ctx context.Context, dutyCyclePct float64, extra map[string]interface{}) error {
	if dutyCyclePct < 0 || dutyCyclePct > 1 {
		return errors.Errorf("duty cycle %.3f out of range [0, 1]", dutyCyclePct)
	}
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()

	last, alreadySet := gp.b.pwms[gp.pinName]
	if last.frequency == 0 {
		last.frequency = DefaultPWMFrequency
	}
	last.dutyCycle = gpio.Duty(dutyCyclePct * float64(gpio.DutyMax))
	gp.b.pwms[gp.pinName] = last

	return gp.apply(last, alreadySet)
}

func (gp gpioPin) PWMFreq(ctx context.Context, extra map[string]interface{}) (uint, error) {
	gp.b.mu.RLock()
	defer gp.b.mu.RUnlock()

	return uint(gp.b.pwms[gp.pinName].frequency / physic.Hertz), nil
}

func (gp gpioPin) SetPWMFreq(ctx context.Context, freqHz uint, extra map[string]interface{}) error {
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()

	last, alreadySet := gp.b.pwms[gp.pinName]
	last.frequency = physic.Hertz * physic.Frequency(freqHz)
	if freqHz == 0 {
		last.frequency = DefaultPWMFrequency
	}
	gp.b.pwms[gp.pinName] = last

	return gp.apply(last, alreadySet)
}

// apply expects the board lock to be held.
func (gp gpioPin) apply(setting pwmSetting, alreadySet bool) error {
	if !gp.b.softPWM[gp.pinName] {
		if err := gp.pin.PWM(setting.dutyCycle, setting.frequency); err == nil {
			return nil
		}
		gp.b.logger.Debugw("hardware pwm unavailable; using software pwm", "pin", gp.pinName)
		gp.b.softPWM[gp.pinName] = true
		alreadySet = false
	}
	if !alreadySet {
		gp.b.startSoftwarePWMLoop(gp)
	}
	return nil
}

// expects to already have lock acquired.
func (b *Board) startSoftwarePWMLoop(gp gpioPin) {
	b.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		b.softwarePWMLoop(b.cancelCtx, gp)
	}, b.activeBackgroundWorkers.Done)
}

func (b *Board) softwarePWMLoop(ctx context.Context, gp gpioPin) {
	for {
		cont := func() bool {
			b.mu.RLock()
			defer b.mu.RUnlock()
			pwmSetting, ok := b.pwms[gp.pinName]
			if !ok {
				b.logger.Debug("pwm setting deleted; stopping")
				return false
			}

			onPeriod := time.Duration(
				int64((float64(pwmSetting.dutyCycle) / float64(gpio.DutyMax)) * float64(pwmSetting.frequency.Period())),
			)
			if onPeriod > 0 {
				if err := gp.set(true); err != nil {
					b.logger.Errorw("error setting pin", "pin_name", gp.pinName, "error", err)
					return true
				}
				if !goutils.SelectContextOrWait(ctx, onPeriod) {
					return false
				}
			}
			if err := gp.set(false); err != nil {
				b.logger.Errorw("error setting pin", "pin_name", gp.pinName, "error", err)
				return true
			}
			offPeriod := pwmSetting.frequency.Period() - onPeriod

			return goutils.SelectContextOrWait(ctx, offPeriod)
		}()
		if !cont {
			return
		}
	}
}
