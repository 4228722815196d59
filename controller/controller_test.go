package controller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/memfs"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/board/fake"
	"go.viam.com/motorctl/config"
	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/preset"
	"go.viam.com/motorctl/safety"
	mtestutils "go.viam.com/motorctl/testutils"
)

func TestMain(m *testing.M) {
	mtestutils.VerifyTestMain(m)
}

func intPtr(v int) *int { return &v }

func newTestController(t *testing.T, cfg *config.Config, fs billy.Filesystem) (*Controller, *fake.Board, *clock.Mock) {
	t.Helper()
	b := fake.NewBoard()
	clk := clock.NewMock()
	clk.Add(time.Hour)
	c, err := New(context.Background(), cfg, b, logging.NewTestLogger(t), WithFilesystem(fs), WithClock(clk))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	})
	return c, b, clk
}

// slotStatus reads the motor in slot under the registry lock.
func slotStatus(tb testing.TB, c *Controller, slot int) motor.Status {
	tb.Helper()
	snap, err := c.Motors().SlotSnapshot(slot)
	test.That(tb, err, test.ShouldBeNil)
	test.That(tb, snap.Motor, test.ShouldNotBeNil)
	return *snap.Motor
}

func TestNewAppliesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Slots = []config.SlotConfig{
		{Slot: 0, Type: intPtr(int(motor.TypeDCL298N))},
		{Slot: 2, Type: intPtr(int(motor.TypeStepperA4988)), Pins: map[string]interface{}{"stepPin": 21}},
		{Slot: 3, Pins: map[string]interface{}{"in4": 23}},
	}
	c, _, _ := newTestController(t, &cfg, memfs.New())

	test.That(t, c.Motors().MotorType(0), test.ShouldEqual, motor.TypeDCL298N)
	test.That(t, c.Motors().MotorType(2), test.ShouldEqual, motor.TypeStepperA4988)
	pins, err := c.Motors().Pins(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pins.Primary, test.ShouldEqual, board.PinNumber(21))

	// pins without a type only move the pins of the empty slot
	test.That(t, c.Motors().IsSlotConfigured(3), test.ShouldBeFalse)
	pins, err = c.Motors().Pins(3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pins.Extra, test.ShouldEqual, board.PinNumber(23))

	snap := c.Snapshot(context.Background())
	test.That(t, snap.Motors.ConfiguredCount, test.ShouldEqual, 2)
	test.That(t, snap.Safety.State, test.ShouldEqual, safety.StateNormal)
	test.That(t, snap.MotorLoopRunning, test.ShouldBeFalse)
	test.That(t, snap.Presets.Presets, test.ShouldBeEmpty)

	data, err := json.Marshal(snap)
	test.That(t, err, test.ShouldBeNil)
	var decoded map[string]interface{}
	test.That(t, json.Unmarshal(data, &decoded), test.ShouldBeNil)
	test.That(t, decoded, test.ShouldContainKey, "motors")
	test.That(t, decoded, test.ShouldContainKey, "safety")
	test.That(t, decoded, test.ShouldContainKey, "presets")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.EstopPin = 1000
	_, err := New(context.Background(), &cfg, fake.NewBoard(), logging.NewTestLogger(t), WithFilesystem(memfs.New()))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSlotConfigurationPersists(t *testing.T) {
	fs := memfs.New()
	ctx := context.Background()

	first, _, _ := newTestController(t, nil, fs)
	test.That(t, first.ConfigureSlot(ctx, 1, motor.TypeServo, map[string]interface{}{"pin": 22}), test.ShouldBeNil)
	test.That(t, first.ConfigureSlot(ctx, 3, motor.TypeStepperULN2003, nil), test.ShouldBeNil)
	test.That(t, first.RemoveMotor(ctx, 3), test.ShouldBeNil)
	test.That(t, first.ConfigureSlot(ctx, 9, motor.TypeServo, nil), test.ShouldNotBeNil)

	second, _, _ := newTestController(t, nil, fs)
	test.That(t, second.Motors().MotorType(1), test.ShouldEqual, motor.TypeServo)
	pins, err := second.Motors().Pins(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pins.Primary, test.ShouldEqual, board.PinNumber(22))
	test.That(t, second.Motors().IsSlotConfigured(3), test.ShouldBeFalse)
}

func TestSendCommandDuringEstop(t *testing.T) {
	cfg := config.Default()
	cfg.Slots = []config.SlotConfig{{Slot: 0, Type: intPtr(int(motor.TypeDCL298N))}}
	c, b, _ := newTestController(t, &cfg, memfs.New())
	ctx := context.Background()

	test.That(t, c.SendCommand(ctx, motor.CommandRequest{Slot: 0, Command: motor.CommandSetSpeed, Value: 150}), test.ShouldBeNil)
	c.TriggerEstop(ctx)
	test.That(t, c.Safety().IsEstopActive(), test.ShouldBeTrue)
	dcMotor, ok := c.Motors().Motor(0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, dcMotor.Speed(), test.ShouldEqual, 0)

	for _, cmd := range []motor.Command{motor.CommandSetSpeed, motor.CommandEnable, motor.CommandHome} {
		err := c.SendCommand(ctx, motor.CommandRequest{Slot: 0, Command: cmd, Value: 150})
		test.That(t, errors.Is(err, ErrEstopActive), test.ShouldBeTrue)
	}
	test.That(t, c.SendCommand(ctx, motor.CommandRequest{Slot: 0, Command: motor.CommandStop}), test.ShouldBeNil)
	test.That(t, c.SendCommand(ctx, motor.CommandRequest{Slot: 0, Command: motor.CommandBrake}), test.ShouldBeNil)

	// a software trigger leaves the input released, so the reset goes through
	released, err := b.Interrupt(safety.DefaultEstopPin.Name(), board.PullUp).Get(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, released, test.ShouldBeTrue)
	test.That(t, c.ResetEstop(ctx), test.ShouldBeNil)
	test.That(t, c.SendCommand(ctx, motor.CommandRequest{Slot: 0, Command: motor.CommandSetSpeed, Value: 150}), test.ShouldBeNil)
}

func TestStartRunsTasks(t *testing.T) {
	cfg := config.Default()
	cfg.Slots = []config.SlotConfig{{Slot: 2, Type: intPtr(int(motor.TypeStepperA4988))}}
	c, b, clk := newTestController(t, &cfg, memfs.New())
	ctx := context.Background()

	test.That(t, c.Start(ctx), test.ShouldBeNil)
	test.That(t, c.Start(ctx), test.ShouldNotBeNil)
	test.That(t, c.MotorLoop().IsRunning(), test.ShouldBeTrue)

	test.That(t, c.SendCommand(ctx, motor.CommandRequest{Slot: 2, Command: motor.CommandSetPosition, Value: 200}), test.ShouldBeNil)
	testutils.WaitForAssertionWithSleep(t, time.Millisecond, 5000, func(tb testing.TB) {
		tb.Helper()
		clk.Add(time.Millisecond)
		test.That(tb, slotStatus(tb, c, 2).Position, test.ShouldBeGreaterThan, 0)
	})

	// the scheduled safety check picks up the hardware trigger
	b.Interrupt(safety.DefaultEstopPin.Name(), board.PullUp).Fall()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, c.Safety().IsEstopActive(), test.ShouldBeTrue)
	})
	test.That(t, slotStatus(t, c, 2).Moving, test.ShouldBeFalse)
	test.That(t, c.Snapshot(ctx).Safety.EstopCount, test.ShouldEqual, 1)
}

func TestPlaybackThroughController(t *testing.T) {
	cfg := config.Default()
	cfg.Slots = []config.SlotConfig{{Slot: 1, Type: intPtr(int(motor.TypeServo))}}
	c, _, clk := newTestController(t, &cfg, memfs.New())
	ctx := context.Background()

	p := preset.Preset{Name: "nod", Loop: true, Steps: []preset.Step{
		{DelayAfter: 50, Commands: []motor.CommandRequest{{Slot: 1, Command: motor.CommandSetAngle, Value: 45}}},
		{DelayAfter: 50, Commands: []motor.CommandRequest{{Slot: 1, Command: motor.CommandSetAngle, Value: 135}}},
	}}
	test.That(t, c.Sequencer().PlayPresetValue(ctx, p), test.ShouldBeNil)

	testutils.WaitForAssertionWithSleep(t, 5*time.Millisecond, 1000, func(tb testing.TB) {
		tb.Helper()
		clk.Add(10 * time.Millisecond)
		test.That(tb, slotStatus(tb, c, 1).Position, test.ShouldEqual, 135)
	})

	test.That(t, c.PrepareForUpdate(ctx), test.ShouldBeNil)
	test.That(t, c.Sequencer().IsPlaying(), test.ShouldBeFalse)
	test.That(t, c.Snapshot(ctx).Presets.Playing, test.ShouldBeFalse)
}
