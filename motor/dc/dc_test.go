package dc

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/motorctl/board/fake"
	"go.viam.com/motorctl/motor"
)

var testPins = motor.PinAssignment{Primary: 25, Secondary: 26, Enable: 27, Extra: 2}

func newTestMotor(t *testing.T, wiring Wiring) (*Motor, *fake.Board) {
	t.Helper()
	b := fake.NewBoard()
	m, err := New(b, NewConfig(0, wiring, testPins))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Init(context.Background()), test.ShouldBeNil)
	return m, b
}

func TestInit(t *testing.T) {
	m, b := newTestMotor(t, WiringL298N)
	test.That(t, m.IsEnabled(), test.ShouldBeTrue)
	test.That(t, m.Type(), test.ShouldEqual, motor.TypeDCL298N)
	test.That(t, b.PinNumber(25).High(), test.ShouldBeFalse)
	test.That(t, b.PinNumber(26).High(), test.ShouldBeFalse)
	freq, err := b.PinNumber(27).PWMFreq(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, freq, test.ShouldEqual, PWMFrequency)

	_, err = New(b, NewConfig(1, WiringL298N, motor.NoPins))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInitFailure(t *testing.T) {
	b := fake.NewBoard()
	b.PinNumber(26).FailWith(errors.New("bus fault"))
	m, err := New(b, NewConfig(0, WiringL298N, testPins))
	test.That(t, err, test.ShouldBeNil)
	err = m.Init(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bus fault")
	test.That(t, m.IsEnabled(), test.ShouldBeFalse)
}

func TestSetSpeedClampAndDeadband(t *testing.T) {
	m, _ := newTestMotor(t, WiringL298N)

	m.SetSpeed(300)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, 255)
	m.SetSpeed(-1000)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, -255)

	m.SetSpeed(5)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, DefaultMinSpeed)
	m.SetSpeed(-5)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, -DefaultMinSpeed)
	m.SetSpeed(0)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, 0)

	m.SetDeadband(30, SnapToZero)
	m.SetSpeed(25)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, 0)
	m.SetSpeed(30)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, 30)
}

func TestRampNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	m, b := newTestMotor(t, WiringL298N)

	m.SetSpeed(25)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, 10)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, 20)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, 25)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, 25)
	test.That(t, m.IsMoving(), test.ShouldBeTrue)

	test.That(t, b.PinNumber(25).High(), test.ShouldBeTrue)
	test.That(t, b.PinNumber(26).High(), test.ShouldBeFalse)
	test.That(t, b.PinNumber(27).Duty(), test.ShouldAlmostEqual, 25.0/255)

	m.SetSpeed(-15)
	for i := 0; i < 3; i++ {
		test.That(t, m.Update(ctx), test.ShouldBeNil)
	}
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, -5)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, -15)
	test.That(t, b.PinNumber(25).High(), test.ShouldBeFalse)
	test.That(t, b.PinNumber(26).High(), test.ShouldBeTrue)
}

func TestUpdateRewritesOutputs(t *testing.T) {
	ctx := context.Background()
	m, b := newTestMotor(t, WiringL298N)
	en := b.PinNumber(27)

	before := en.Writes()
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, en.Writes(), test.ShouldEqual, before+2)
}

func TestBrakeHeldAcrossUpdates(t *testing.T) {
	ctx := context.Background()
	m, b := newTestMotor(t, WiringL298N)
	m.SetSpeed(200)
	test.That(t, m.Update(ctx), test.ShouldBeNil)

	test.That(t, m.Brake(ctx), test.ShouldBeNil)
	test.That(t, m.IsBraking(), test.ShouldBeTrue)
	for i := 0; i < 5; i++ {
		test.That(t, m.Update(ctx), test.ShouldBeNil)
	}
	test.That(t, b.PinNumber(25).High(), test.ShouldBeTrue)
	test.That(t, b.PinNumber(26).High(), test.ShouldBeTrue)
	test.That(t, b.PinNumber(27).Duty(), test.ShouldEqual, 1)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, 0)

	m.SetSpeed(50)
	test.That(t, m.IsBraking(), test.ShouldBeFalse)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, b.PinNumber(26).High(), test.ShouldBeFalse)
}

func TestCoastAndEmergencyStop(t *testing.T) {
	ctx := context.Background()
	m, b := newTestMotor(t, WiringL298N)
	m.SetSpeed(100)
	test.That(t, m.Update(ctx), test.ShouldBeNil)

	test.That(t, m.Coast(ctx), test.ShouldBeNil)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, 0)
	test.That(t, b.PinNumber(25).High(), test.ShouldBeFalse)
	test.That(t, b.PinNumber(27).Duty(), test.ShouldEqual, 0)

	m.SetSpeed(100)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.Brake(ctx), test.ShouldBeNil)
	m.EmergencyStop()
	test.That(t, m.IsBraking(), test.ShouldBeFalse)
	test.That(t, m.IsMoving(), test.ShouldBeFalse)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, 0)
	test.That(t, b.PinNumber(25).High(), test.ShouldBeFalse)
	test.That(t, b.PinNumber(26).High(), test.ShouldBeFalse)
	test.That(t, b.PinNumber(27).Duty(), test.ShouldEqual, 0)
}

func TestStopRampsDown(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMotor(t, WiringL298N)
	m.SetSpeed(30)
	for i := 0; i < 3; i++ {
		test.That(t, m.Update(ctx), test.ShouldBeNil)
	}
	test.That(t, m.Stop(ctx), test.ShouldBeNil)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, 20)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.IsMoving(), test.ShouldBeFalse)
}

func TestL9110S(t *testing.T) {
	ctx := context.Background()
	m, b := newTestMotor(t, WiringL9110S)
	test.That(t, m.Type(), test.ShouldEqual, motor.TypeDCL9110S)

	m.SetSpeed(-255)
	for i := 0; i < 30; i++ {
		test.That(t, m.Update(ctx), test.ShouldBeNil)
	}
	test.That(t, b.PinNumber(25).Duty(), test.ShouldEqual, 0)
	test.That(t, b.PinNumber(26).Duty(), test.ShouldEqual, 1)

	test.That(t, m.Brake(ctx), test.ShouldBeNil)
	test.That(t, b.PinNumber(25).Duty(), test.ShouldEqual, 0)
	test.That(t, b.PinNumber(26).Duty(), test.ShouldEqual, 0)
	test.That(t, m.Status().Fields["driverType"], test.ShouldEqual, "L9110S")
}

func TestSetDirectionAndDisabled(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMotor(t, WiringL298N)
	m.SetDirection(false)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, -DefaultDirectionSpeed)
	m.SetSpeed(60)
	m.SetDirection(false)
	test.That(t, m.TargetSpeed(), test.ShouldEqual, -60)

	m.SetEnabled(false)
	test.That(t, m.Update(ctx), test.ShouldBeNil)
	test.That(t, m.CurrentSpeed(), test.ShouldEqual, 0)

	st := m.Status()
	test.That(t, st.Position, test.ShouldEqual, 0)
	test.That(t, st.Fields["direction"], test.ShouldEqual, "forward")
	test.That(t, st.Fields["targetSpeed"], test.ShouldEqual, -60)
}
