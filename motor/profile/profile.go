// Package profile implements a trapezoidal step generator for stepper motors. Speeds are in
// steps per second and accelerations in steps per second squared. Step intervals follow the
// recursive approximation from "Generate stepper-motor speed profiles in real time" (D. Austin),
// which needs no square root per step.
package profile

import (
	"math"
	"time"
)

// StepFunc is called once for every step the generator takes, with the position after the step.
type StepFunc func(forward bool, position int32)

// A Generator tracks the position, target, and speed of one stepper and decides when the next
// step is due. It is not safe for concurrent use.
type Generator struct {
	step StepFunc

	current int32
	target  int32

	speed        float64 // signed, steps per second
	maxSpeed     float64
	acceleration float64

	// step counter within the ramp; negative while decelerating
	n int64
	// intervals in microseconds
	c0   float64
	cn   float64
	cmin float64

	stepInterval time.Duration
	lastStep     time.Time
	forward      bool
}

// New returns a stopped generator at position 0. A zero acceleration is taken as 1.
func New(maxSpeed, acceleration float64, step StepFunc) *Generator {
	if acceleration == 0 {
		acceleration = 1
	}
	g := &Generator{step: step, forward: true, cmin: 1}
	g.SetAcceleration(acceleration)
	g.SetMaxSpeed(maxSpeed)
	return g
}

// CurrentPosition returns the current position in steps.
func (g *Generator) CurrentPosition() int32 { return g.current }

// TargetPosition returns the target position in steps.
func (g *Generator) TargetPosition() int32 { return g.target }

// DistanceToGo returns the signed distance from the current position to the target.
func (g *Generator) DistanceToGo() int32 { return g.target - g.current }

// Speed returns the signed speed in steps per second.
func (g *Generator) Speed() float64 { return g.speed }

// MaxSpeed returns the speed ceiling.
func (g *Generator) MaxSpeed() float64 { return g.maxSpeed }

// Acceleration returns the acceleration.
func (g *Generator) Acceleration() float64 { return g.acceleration }

// Forward reports the direction of the last computed motion.
func (g *Generator) Forward() bool { return g.forward }

// IsRunning reports whether the generator still has speed or distance to cover. A generator with
// a zero max speed is parked and never runs.
func (g *Generator) IsRunning() bool {
	if g.maxSpeed == 0 {
		return false
	}
	return !(g.speed == 0 && g.target == g.current)
}

// MoveTo sets an absolute target.
func (g *Generator) MoveTo(position int32) {
	if g.target != position {
		g.target = position
		g.computeNewSpeed()
	}
}

// Move sets a target relative to the current position.
func (g *Generator) Move(relative int32) {
	g.MoveTo(g.current + relative)
}

// SetMaxSpeed sets the speed ceiling. Negative values are taken as their magnitude. Zero parks
// the generator: stepping stops where it stands and the target is kept, so a later non-zero
// speed resumes the move from rest.
func (g *Generator) SetMaxSpeed(speed float64) {
	speed = math.Abs(speed)
	if g.maxSpeed == speed {
		return
	}
	if speed == 0 {
		g.maxSpeed = 0
		g.park()
		return
	}
	parked := g.maxSpeed == 0
	g.maxSpeed = speed
	g.cmin = 1e6 / speed
	switch {
	case parked:
		g.computeNewSpeed()
	case g.n > 0:
		g.n = int64((g.speed * g.speed) / (2 * g.acceleration))
		g.computeNewSpeed()
	}
}

// SetAcceleration sets the acceleration. Zero is ignored.
func (g *Generator) SetAcceleration(acceleration float64) {
	acceleration = math.Abs(acceleration)
	if acceleration == 0 || g.acceleration == acceleration {
		return
	}
	if g.acceleration != 0 {
		g.n = int64(float64(g.n) * (g.acceleration / acceleration))
	}
	g.c0 = 0.676 * math.Sqrt(2/acceleration) * 1e6
	g.acceleration = acceleration
	g.computeNewSpeed()
}

// SetSpeed sets the constant speed used by RunSpeed, bounded by the max speed.
func (g *Generator) SetSpeed(speed float64) {
	if speed == g.speed {
		return
	}
	speed = math.Max(-g.maxSpeed, math.Min(g.maxSpeed, speed))
	if speed == 0 {
		g.stepInterval = 0
	} else {
		g.stepInterval = micros(math.Abs(1e6 / speed))
		g.forward = speed > 0
	}
	g.speed = speed
}

// SetCurrentPosition redefines the current position and ends any motion immediately.
func (g *Generator) SetCurrentPosition(position int32) {
	g.current = position
	g.target = position
	g.n = 0
	g.stepInterval = 0
	g.speed = 0
}

// Halt ends motion immediately where the generator stands.
func (g *Generator) Halt() {
	g.SetCurrentPosition(g.current)
}

// Stop retargets the generator so it decelerates to a stop as quickly as the acceleration allows.
func (g *Generator) Stop() {
	if g.speed == 0 {
		return
	}
	stepsToStop := int32((g.speed*g.speed)/(2*g.acceleration)) + 1
	if g.speed > 0 {
		g.Move(stepsToStop)
	} else {
		g.Move(-stepsToStop)
	}
}

// NextPosition returns the position the next step would reach and whether that step is due at
// now, without taking it.
func (g *Generator) NextPosition(now time.Time) (int32, bool) {
	if g.stepInterval == 0 || now.Sub(g.lastStep) < g.stepInterval {
		return g.current, false
	}
	if g.forward {
		return g.current + 1, true
	}
	return g.current - 1, true
}

// RunSpeed takes one step at the current speed if it is due, ignoring the target. It reports
// whether a step was taken.
func (g *Generator) RunSpeed(now time.Time) bool {
	next, due := g.NextPosition(now)
	if !due {
		return false
	}
	g.current = next
	if g.step != nil {
		g.step(g.forward, next)
	}
	g.lastStep = now
	return true
}

// Run takes at most one step toward the target, accelerating and decelerating as needed. It
// reports whether the generator is still running.
func (g *Generator) Run(now time.Time) bool {
	if g.RunSpeed(now) {
		g.computeNewSpeed()
	}
	return g.IsRunning()
}

func (g *Generator) park() {
	g.stepInterval = 0
	g.speed = 0
	g.n = 0
}

func (g *Generator) computeNewSpeed() {
	if g.maxSpeed == 0 {
		g.park()
		return
	}
	distance := int64(g.DistanceToGo())
	stepsToStop := int64((g.speed * g.speed) / (2 * g.acceleration))

	if distance == 0 && stepsToStop <= 1 {
		g.park()
		return
	}

	switch {
	case distance > 0:
		if g.n > 0 {
			if stepsToStop >= distance || !g.forward {
				g.n = -stepsToStop
			}
		} else if g.n < 0 {
			if stepsToStop < distance && g.forward {
				g.n = -g.n
			}
		}
	case distance < 0:
		if g.n > 0 {
			if stepsToStop >= -distance || g.forward {
				g.n = -stepsToStop
			}
		} else if g.n < 0 {
			if stepsToStop < -distance && !g.forward {
				g.n = -g.n
			}
		}
	}

	if g.n == 0 {
		g.cn = g.c0
		g.forward = distance > 0
	} else {
		g.cn -= (2 * g.cn) / (4*float64(g.n) + 1)
		g.cn = math.Max(g.cn, g.cmin)
	}
	g.n++
	g.stepInterval = micros(g.cn)
	g.speed = 1e6 / g.cn
	if !g.forward {
		g.speed = -g.speed
	}
}

func micros(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}
