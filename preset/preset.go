// Package preset records and replays timed sequences of motor commands. Presets are stored as
// one JSON document per preset.
package preset

import (
	"regexp"

	"github.com/pkg/errors"

	"go.viam.com/motorctl/motor"
)

const (
	// MaxSteps is the step capacity of a preset.
	MaxSteps = 64
	// MaxCommandsPerStep is the command capacity of a step.
	MaxCommandsPerStep = motor.MaxSlots
	// MaxNameLength is the longest preset name.
	MaxNameLength = 31
	// DefaultStepDelay is the delay in ms given to recorded and user supplied steps.
	DefaultStepDelay = 500
	// DefaultName names a user supplied preset without a name.
	DefaultName = "Untitled"
)

var (
	// ErrNotFound is returned for a preset that does not exist.
	ErrNotFound = errors.New("preset not found")
	// ErrInvalidName is returned for a name that cannot name a preset file.
	ErrInvalidName = errors.New("invalid preset name")
	// ErrNotRecording is returned by recording operations while not recording.
	ErrNotRecording = errors.New("not recording")
	// ErrEmptyPreset is returned when playing a preset without steps.
	ErrEmptyPreset = errors.New("preset has no steps")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9 _.\-]+$`)

// ValidateName checks that name can name a preset file.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || len(name) > MaxNameLength || !namePattern.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

// A Step is a group of commands dispatched together, followed by a delay.
type Step struct {
	// DelayAfter is the wait in ms after the commands are sent.
	DelayAfter uint16
	Commands   []motor.CommandRequest
}

// A Preset is a named sequence of steps.
type Preset struct {
	Name  string
	Loop  bool
	Steps []Step
}

// Truncate drops steps and commands beyond the capacities.
func (p *Preset) Truncate() {
	if len(p.Steps) > MaxSteps {
		p.Steps = p.Steps[:MaxSteps]
	}
	for i := range p.Steps {
		if len(p.Steps[i].Commands) > MaxCommandsPerStep {
			p.Steps[i].Commands = p.Steps[i].Commands[:MaxCommandsPerStep]
		}
	}
}

// AddStep appends step, truncated to the command capacity. It reports false, leaving p
// unchanged, once the preset is full.
func (p *Preset) AddStep(step Step) bool {
	if len(p.Steps) >= MaxSteps {
		return false
	}
	if len(step.Commands) > MaxCommandsPerStep {
		step.Commands = step.Commands[:MaxCommandsPerStep]
	}
	step.Commands = append([]motor.CommandRequest(nil), step.Commands...)
	p.Steps = append(p.Steps, step)
	return true
}
