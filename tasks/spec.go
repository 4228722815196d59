// Package tasks runs the periodic work of the controller: the motor update loop on its own OS
// thread and the safety check and housekeeping jobs on a gocron scheduler.
package tasks

import "time"

// A Spec describes one periodic task. Priority and Core record the placement the task was
// designed for on a dual core controller; the Go runtime schedules goroutines itself, so only
// the motor loop acts on it by locking its OS thread.
type Spec struct {
	Name     string
	Period   time.Duration
	Priority int
	Core     int
}

// The task set of the controller.
var (
	MotorLoopSpec    = Spec{Name: "motor_loop", Period: time.Millisecond, Priority: 3, Core: 0}
	PlaybackSpec     = Spec{Name: "playback", Priority: 1, Core: 1}
	SafetyCheckSpec  = Spec{Name: "safety_check", Period: 10 * time.Millisecond, Priority: 2, Core: 1}
	HousekeepingSpec = Spec{Name: "housekeeping", Period: 100 * time.Millisecond, Priority: 1, Core: 1}
)

// EstopBackoff is how long the motor loop sleeps per iteration while the emergency stop is active.
const EstopBackoff = 100 * time.Millisecond
