package safety

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/board/fake"
	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/registry"
)

type fakeMotors struct {
	estops  int
	limits  map[int][2]int32
	onEstop func()
}

func (f *fakeMotors) EmergencyStopAll() {
	f.estops++
	if f.onEstop != nil {
		f.onEstop()
	}
}

func (f *fakeMotors) SetPositionLimits(slot int, min, max int32) error {
	if !motor.ValidSlot(slot) {
		return motor.NewInvalidSlotError(slot)
	}
	f.limits[slot] = [2]int32{min, max}
	return nil
}

func (f *fakeMotors) ClearPositionLimits(slot int) error {
	delete(f.limits, slot)
	return nil
}

func (f *fakeMotors) WithinLimits(slot int, position int32) bool {
	l, ok := f.limits[slot]
	return !ok || (position >= l[0] && position <= l[1])
}

func newTestMonitor(t *testing.T) (*Monitor, *fakeMotors, *fake.Board, *clock.Mock) {
	t.Helper()
	b := fake.NewBoard()
	clk := clock.NewMock()
	clk.Add(time.Hour)
	motors := &fakeMotors{limits: map[int][2]int32{}}
	cfg := DefaultConfig()
	cfg.Clock = clk
	m, err := NewMonitor(context.Background(), b, motors, cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return m, motors, b, clk
}

func TestStateNames(t *testing.T) {
	test.That(t, StateNormal.String(), test.ShouldEqual, "Normal")
	test.That(t, StateEstopActive.String(), test.ShouldEqual, "E-Stop Active")
	test.That(t, StateLimitReached.String(), test.ShouldEqual, "Limit Reached")
	test.That(t, StateOvercurrent.String(), test.ShouldEqual, "Overcurrent")
	test.That(t, StateFault.String(), test.ShouldEqual, "Fault")
	test.That(t, State(9).String(), test.ShouldEqual, "Unknown")
}

func TestLEDPatterns(t *testing.T) {
	test.That(t, LEDPattern(StateNormal), test.ShouldEqual, PatternOff)
	test.That(t, LEDPattern(StateEstopActive), test.ShouldEqual, PatternBlinkFast)
	test.That(t, LEDPattern(StateLimitReached), test.ShouldEqual, PatternBlinkSlow)
	test.That(t, LEDPattern(StateOvercurrent), test.ShouldEqual, PatternBlinkSlow)
	test.That(t, LEDPattern(StateFault), test.ShouldEqual, PatternSolid)

	at := func(ms int64) time.Time { return time.UnixMilli(ms) }
	test.That(t, LEDLevel(StateNormal, at(150)), test.ShouldBeFalse)
	test.That(t, LEDLevel(StateFault, at(0)), test.ShouldBeTrue)
	test.That(t, LEDLevel(StateEstopActive, at(50)), test.ShouldBeFalse)
	test.That(t, LEDLevel(StateEstopActive, at(150)), test.ShouldBeTrue)
	test.That(t, LEDLevel(StateEstopActive, at(250)), test.ShouldBeFalse)
	test.That(t, LEDLevel(StateLimitReached, at(400)), test.ShouldBeFalse)
	test.That(t, LEDLevel(StateLimitReached, at(600)), test.ShouldBeTrue)
}

func TestInterruptTriggersOnce(t *testing.T) {
	m, motors, b, clk := newTestMonitor(t)
	ctx := context.Background()
	trigger := b.Interrupt(DefaultEstopPin.Name(), board.PullUp)

	var callbacks int
	m.SetEstopCallback(func() { callbacks++ })

	trigger.Fall()
	// the interrupt path only latches the flag
	test.That(t, m.IsEstopActive(), test.ShouldBeFalse)
	test.That(t, motors.estops, test.ShouldEqual, 0)

	m.Check(ctx)
	test.That(t, m.IsEstopActive(), test.ShouldBeTrue)
	test.That(t, m.State(), test.ShouldEqual, StateEstopActive)
	test.That(t, motors.estops, test.ShouldEqual, 1)
	test.That(t, m.EstopCount(), test.ShouldEqual, 1)
	test.That(t, callbacks, test.ShouldEqual, 1)

	// a second accepted edge while active changes nothing
	clk.Add(time.Second)
	trigger.Fall()
	m.Check(ctx)
	test.That(t, m.EstopCount(), test.ShouldEqual, 1)
	test.That(t, callbacks, test.ShouldEqual, 1)

	// so does another software trigger, apart from stopping the motors again
	m.TriggerEstop(ctx)
	test.That(t, m.EstopCount(), test.ShouldEqual, 1)
	test.That(t, motors.estops, test.ShouldEqual, 2)
}

func TestTriggerEntersStateBeforeStopping(t *testing.T) {
	m, motors, _, _ := newTestMonitor(t)
	var activeWhileStopping []bool
	motors.onEstop = func() { activeWhileStopping = append(activeWhileStopping, m.IsEstopActive()) }

	m.TriggerEstop(context.Background())
	m.TriggerEstop(context.Background())
	test.That(t, activeWhileStopping, test.ShouldResemble, []bool{true, true})
}

func TestInterruptDebounce(t *testing.T) {
	m, _, b, clk := newTestMonitor(t)
	trigger := b.Interrupt(DefaultEstopPin.Name(), board.PullUp)

	trigger.Fall()
	test.That(t, m.triggered.Load(), test.ShouldBeTrue)
	m.triggered.Store(false)

	// bounces inside the window are dropped
	clk.Add(20 * time.Millisecond)
	trigger.Fall()
	clk.Add(30 * time.Millisecond)
	trigger.Fall()
	test.That(t, m.triggered.Load(), test.ShouldBeFalse)

	clk.Add(time.Millisecond)
	trigger.Fall()
	test.That(t, m.triggered.Load(), test.ShouldBeTrue)
}

func TestResetRequiresReleasedTrigger(t *testing.T) {
	m, _, b, _ := newTestMonitor(t)
	ctx := context.Background()
	trigger := b.Interrupt(DefaultEstopPin.Name(), board.PullUp)

	var resets int
	m.SetResetCallback(func() { resets++ })

	// resetting while normal is a no-op
	test.That(t, m.ResetEstop(ctx), test.ShouldBeNil)
	test.That(t, resets, test.ShouldEqual, 0)

	trigger.Fall()
	m.Check(ctx)
	test.That(t, m.IsEstopActive(), test.ShouldBeTrue)

	err := m.ResetEstop(ctx)
	test.That(t, errors.Is(err, ErrTriggerStillActive), test.ShouldBeTrue)
	test.That(t, m.IsEstopActive(), test.ShouldBeTrue)
	test.That(t, resets, test.ShouldEqual, 0)

	trigger.SetLevel(true)
	test.That(t, m.ResetEstop(ctx), test.ShouldBeNil)
	test.That(t, m.State(), test.ShouldEqual, StateNormal)
	test.That(t, resets, test.ShouldEqual, 1)
	test.That(t, m.EstopCount(), test.ShouldEqual, 1)

	m.TriggerEstop(ctx)
	test.That(t, m.EstopCount(), test.ShouldEqual, 2)
}

func TestStatusLED(t *testing.T) {
	m, _, b, clk := newTestMonitor(t)
	ctx := context.Background()
	led := b.PinNumber(DefaultLEDPin)

	m.Check(ctx)
	test.That(t, led.High(), test.ShouldBeFalse)

	m.TriggerEstop(ctx)
	levels := map[bool]int{}
	for i := 0; i < 10; i++ {
		m.Check(ctx)
		levels[led.High()]++
		clk.Add(100 * time.Millisecond)
	}
	test.That(t, levels[true], test.ShouldEqual, 5)
	test.That(t, levels[false], test.ShouldEqual, 5)
}

func TestSnapshot(t *testing.T) {
	m, _, _, clk := newTestMonitor(t)
	ctx := context.Background()

	snap := m.Snapshot(ctx)
	test.That(t, snap.State, test.ShouldEqual, StateNormal)
	test.That(t, snap.EstopActive, test.ShouldBeFalse)
	test.That(t, snap.EstopPinState, test.ShouldBeTrue)
	test.That(t, snap.LastEstopTime.IsZero(), test.ShouldBeTrue)

	m.TriggerEstop(ctx)
	snap = m.Snapshot(ctx)
	test.That(t, snap.StateName, test.ShouldEqual, "E-Stop Active")
	test.That(t, snap.EstopActive, test.ShouldBeTrue)
	test.That(t, snap.EstopCount, test.ShouldEqual, 1)
	test.That(t, snap.LastEstopTime, test.ShouldResemble, clk.Now())
	test.That(t, snap.EstopPin, test.ShouldEqual, 0)

	data, err := json.Marshal(snap)
	test.That(t, err, test.ShouldBeNil)
	var decoded map[string]interface{}
	test.That(t, json.Unmarshal(data, &decoded), test.ShouldBeNil)
	test.That(t, decoded["state"], test.ShouldEqual, 1)
	test.That(t, decoded["estopActive"], test.ShouldBeTrue)
}

func TestWithoutTriggerPin(t *testing.T) {
	b := fake.NewBoard()
	motors := &fakeMotors{limits: map[int][2]int32{}}
	m, err := NewMonitor(context.Background(), b, motors,
		Config{EstopPin: board.NoPin, LEDPin: board.NoPin}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	ctx := context.Background()
	m.TriggerEstop(ctx)
	test.That(t, m.ResetEstop(ctx), test.ShouldBeNil)
	test.That(t, m.IsEstopActive(), test.ShouldBeFalse)
	test.That(t, b.Interrupts, test.ShouldBeEmpty)
	test.That(t, m.Close(), test.ShouldBeNil)
}

func TestPositionLimits(t *testing.T) {
	m, motors, _, _ := newTestMonitor(t)
	test.That(t, m.SetPositionLimits(1, -10, 10), test.ShouldBeNil)
	test.That(t, motors.limits[1], test.ShouldResemble, [2]int32{-10, 10})
	test.That(t, m.CheckPositionLimits(1, 11), test.ShouldBeFalse)
	test.That(t, m.CheckPositionLimits(1, -10), test.ShouldBeTrue)
	test.That(t, m.CheckPositionLimits(2, 1000), test.ShouldBeTrue)
	test.That(t, m.ClearPositionLimits(1), test.ShouldBeNil)
	test.That(t, m.CheckPositionLimits(1, 11), test.ShouldBeTrue)
	test.That(t, m.SetPositionLimits(5, 0, 1), test.ShouldNotBeNil)
}

func TestCascadeStopsRegistry(t *testing.T) {
	b := fake.NewBoard()
	clk := clock.NewMock()
	logger := logging.NewTestLogger(t)
	r := registry.New(b, logger, registry.WithClock(clk))
	ctx := context.Background()
	test.That(t, r.ConfigureSlot(ctx, 2, motor.TypeStepperA4988, motor.DefaultPins[2]), test.ShouldBeNil)
	test.That(t, r.SendCommand(ctx, motor.CommandRequest{Slot: 2, Command: motor.CommandSetPosition, Value: 10000}), test.ShouldBeNil)
	for i := 0; i < 300; i++ {
		r.UpdateAll(ctx)
		clk.Add(time.Millisecond)
	}
	stepper, _ := r.Motor(2)
	test.That(t, stepper.IsMoving(), test.ShouldBeTrue)

	cfg := DefaultConfig()
	cfg.Clock = clk
	m, err := NewMonitor(ctx, b, r, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.SetPositionLimits(2, 0, 50), test.ShouldBeNil)
	test.That(t, m.CheckPositionLimits(2, 51), test.ShouldBeFalse)
	test.That(t, errors.Is(m.SetPositionLimits(0, 0, 1), motor.ErrNotConfigured), test.ShouldBeTrue)

	m.TriggerEstop(ctx)
	test.That(t, stepper.IsMoving(), test.ShouldBeFalse)
}
