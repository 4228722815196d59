package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/motorctl/logging"
	mtestutils "go.viam.com/motorctl/testutils"
)

func TestMain(m *testing.M) {
	mtestutils.VerifyTestMain(m)
}

type countingUpdater struct {
	updates   atomic.Int64
	reasserts atomic.Int64
}

func (u *countingUpdater) UpdateAll(ctx context.Context) { u.updates.Inc() }

func (u *countingUpdater) ReassertEmergencyStop() { u.reasserts.Inc() }

type fakeEstop struct {
	active atomic.Bool
}

func (f *fakeEstop) IsEstopActive() bool { return f.active.Load() }

func TestSpecs(t *testing.T) {
	test.That(t, MotorLoopSpec.Period, test.ShouldEqual, time.Millisecond)
	test.That(t, MotorLoopSpec.Priority, test.ShouldBeGreaterThan, SafetyCheckSpec.Priority)
	test.That(t, SafetyCheckSpec.Period, test.ShouldEqual, 10*time.Millisecond)
	test.That(t, HousekeepingSpec.Period, test.ShouldEqual, 100*time.Millisecond)
	test.That(t, PlaybackSpec.Core, test.ShouldNotEqual, MotorLoopSpec.Core)
}

func TestMotorLoop(t *testing.T) {
	updater := &countingUpdater{}
	estop := &fakeEstop{}
	clk := clock.NewMock()
	l := NewMotorLoop(updater, estop, clk, logging.NewTestLogger(t))
	test.That(t, l.IsRunning(), test.ShouldBeFalse)

	l.Start()
	l.Start()
	defer l.Stop()
	test.That(t, l.IsRunning(), test.ShouldBeTrue)

	testutils.WaitForAssertionWithSleep(t, time.Millisecond, 2000, func(tb testing.TB) {
		tb.Helper()
		clk.Add(time.Millisecond)
		test.That(tb, updater.updates.Load(), test.ShouldBeGreaterThanOrEqualTo, 5)
	})
	test.That(t, l.Iterations(), test.ShouldEqual, updater.updates.Load())

	l.Suspend()
	test.That(t, l.IsRunning(), test.ShouldBeFalse)
	// let an iteration in flight finish
	clk.Add(time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	suspendedAt := updater.updates.Load()
	for i := 0; i < 20; i++ {
		clk.Add(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	test.That(t, updater.updates.Load(), test.ShouldBeLessThanOrEqualTo, suspendedAt+1)

	l.Resume()
	test.That(t, l.IsRunning(), test.ShouldBeTrue)
	resumedAt := updater.updates.Load()
	testutils.WaitForAssertionWithSleep(t, time.Millisecond, 2000, func(tb testing.TB) {
		tb.Helper()
		clk.Add(time.Millisecond)
		test.That(tb, updater.updates.Load(), test.ShouldBeGreaterThan, resumedAt+3)
	})

	l.Stop()
	test.That(t, l.IsRunning(), test.ShouldBeFalse)
	stoppedAt := updater.updates.Load()
	clk.Add(time.Second)
	test.That(t, updater.updates.Load(), test.ShouldEqual, stoppedAt)
}

func TestMotorLoopIdlesDuringEstop(t *testing.T) {
	updater := &countingUpdater{}
	estop := &fakeEstop{}
	estop.active.Store(true)
	clk := clock.NewMock()
	l := NewMotorLoop(updater, estop, clk, logging.NewTestLogger(t))
	l.Start()
	defer l.Stop()

	// one backoff period in small increments never updates
	for i := 0; i < 9; i++ {
		clk.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	test.That(t, updater.updates.Load(), test.ShouldEqual, 0)
	// motors are stopped again once on entering the idle
	test.That(t, updater.reasserts.Load(), test.ShouldEqual, 1)

	estop.active.Store(false)
	testutils.WaitForAssertionWithSleep(t, time.Millisecond, 2000, func(tb testing.TB) {
		tb.Helper()
		clk.Add(10 * time.Millisecond)
		test.That(tb, updater.updates.Load(), test.ShouldBeGreaterThan, 0)
	})

	estop.active.Store(true)
	testutils.WaitForAssertionWithSleep(t, time.Millisecond, 2000, func(tb testing.TB) {
		tb.Helper()
		clk.Add(time.Millisecond)
		test.That(tb, updater.reasserts.Load(), test.ShouldEqual, 2)
	})
}

func TestScheduler(t *testing.T) {
	s, err := NewScheduler(logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	var checks, housekeeping atomic.Int64
	test.That(t, s.Add(SafetyCheckSpec, func(ctx context.Context) { checks.Inc() }), test.ShouldBeNil)
	test.That(t, s.Add(HousekeepingSpec, func(ctx context.Context) { housekeeping.Inc() }), test.ShouldBeNil)
	test.That(t, s.Add(SafetyCheckSpec, func(ctx context.Context) {}), test.ShouldNotBeNil)
	test.That(t, s.Add(PlaybackSpec, func(ctx context.Context) {}), test.ShouldNotBeNil)
	test.That(t, s.Jobs(), test.ShouldHaveLength, 2)
	test.That(t, s.Jobs(), test.ShouldContain, "safety_check")

	probe := Spec{Name: "probe", Period: time.Hour}
	test.That(t, s.Add(probe, func(ctx context.Context) {}), test.ShouldBeNil)
	test.That(t, s.Jobs(), test.ShouldHaveLength, 3)
	test.That(t, s.Remove("probe"), test.ShouldBeNil)
	test.That(t, s.Remove("probe"), test.ShouldNotBeNil)
	test.That(t, s.Jobs(), test.ShouldHaveLength, 2)

	s.Start()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, checks.Load(), test.ShouldBeGreaterThan, 3)
		test.That(tb, housekeeping.Load(), test.ShouldBeGreaterThan, 0)
	})
	test.That(t, s.Shutdown(), test.ShouldBeNil)

	stoppedAt := checks.Load()
	time.Sleep(50 * time.Millisecond)
	test.That(t, checks.Load(), test.ShouldEqual, stoppedAt)
}
