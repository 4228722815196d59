package tasks

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/utils"
)

// Updater advances every configured motor by one iteration. ReassertEmergencyStop stops every
// motor again once nothing else holds the motors.
type Updater interface {
	UpdateAll(ctx context.Context)
	ReassertEmergencyStop()
}

// EstopState reports whether the controller is emergency stopped.
type EstopState interface {
	IsEstopActive() bool
}

// MotorLoop calls UpdateAll once per period until stopped. It idles while the emergency stop is
// active or while suspended.
type MotorLoop struct {
	spec   Spec
	motors Updater
	safety EstopState
	clk    clock.Clock
	logger logging.Logger

	mu      sync.Mutex
	workers utils.StoppableWorkers

	suspended  atomic.Bool
	iterations atomic.Int64
}

// NewMotorLoop returns a stopped loop with period MotorLoopSpec.Period. A nil clk means the wall
// clock.
func NewMotorLoop(motors Updater, safety EstopState, clk clock.Clock, logger logging.Logger) *MotorLoop {
	if clk == nil {
		clk = clock.New()
	}
	return &MotorLoop{spec: MotorLoopSpec, motors: motors, safety: safety, clk: clk, logger: logger}
}

// Start launches the loop. Starting a running loop does nothing.
func (l *MotorLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers != nil {
		return
	}
	l.workers = utils.NewStoppableWorkers(l.run)
	l.logger.Infow("motor loop started", "period", l.spec.Period)
}

// Stop ends the loop and waits for it to return.
func (l *MotorLoop) Stop() {
	l.mu.Lock()
	workers := l.workers
	l.workers = nil
	l.mu.Unlock()
	if workers == nil {
		return
	}
	workers.Stop()
	l.logger.Info("motor loop stopped")
}

// Suspend pauses motor updates without stopping the loop.
func (l *MotorLoop) Suspend() {
	if !l.suspended.Swap(true) {
		l.logger.Info("motor loop suspended")
	}
}

// Resume continues motor updates after Suspend.
func (l *MotorLoop) Resume() {
	if l.suspended.Swap(false) {
		l.logger.Info("motor loop resumed")
	}
}

// IsRunning reports whether the loop is started and not suspended.
func (l *MotorLoop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workers != nil && !l.suspended.Load()
}

// Iterations returns the number of UpdateAll calls made so far.
func (l *MotorLoop) Iterations() int64 {
	return l.iterations.Load()
}

func (l *MotorLoop) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var halted bool
	for ctx.Err() == nil {
		if l.safety != nil && l.safety.IsEstopActive() {
			if !halted {
				l.motors.ReassertEmergencyStop()
				halted = true
				l.logger.Debug("motor loop idling during emergency stop")
			}
			l.wait(ctx, EstopBackoff)
			continue
		}
		halted = false
		if l.suspended.Load() {
			l.wait(ctx, l.spec.Period)
			continue
		}
		start := l.clk.Now()
		l.motors.UpdateAll(ctx)
		l.iterations.Inc()
		if rest := l.spec.Period - l.clk.Since(start); rest > 0 {
			l.wait(ctx, rest)
		}
	}
}

func (l *MotorLoop) wait(ctx context.Context, d time.Duration) {
	timer := l.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
