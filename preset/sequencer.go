package preset

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/utils"
)

// Motors is what the sequencer needs from the motor registry.
type Motors interface {
	SendCommand(ctx context.Context, req motor.CommandRequest) error
	StopAll(ctx context.Context) error
	// ReadState returns one command per configured motor reproducing its current state.
	ReadState() []motor.CommandRequest
}

// EstopState reports whether the controller is emergency stopped.
type EstopState interface {
	IsEstopActive() bool
}

// Sequencer records presets from live motor state and plays them back. Recording and playback
// are independent of each other. Its methods are safe for concurrent use.
type Sequencer struct {
	store  *Store
	motors Motors
	safety EstopState
	clk    clock.Clock
	logger logging.Logger

	mu        sync.Mutex
	recording bool
	scratch   Preset

	playing     bool
	session     uint64
	workers     utils.StoppableWorkers
	current     Preset
	currentName string
	stepIndex   int
}

// NewSequencer returns an idle sequencer. A nil clk means the wall clock.
func NewSequencer(store *Store, motors Motors, safety EstopState, clk clock.Clock, logger logging.Logger) *Sequencer {
	if clk == nil {
		clk = clock.New()
	}
	return &Sequencer{store: store, motors: motors, safety: safety, clk: clk, logger: logger}
}

// Store returns the preset store the sequencer reads and writes.
func (s *Sequencer) Store() *Store {
	return s.store
}

// StartRecording begins a new recording called name. A recording already in progress is
// stopped and saved first.
func (s *Sequencer) StartRecording(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.recording {
		err = s.stopRecordingLocked()
	}
	s.scratch = Preset{Name: name}
	s.recording = true
	s.logger.Infow("recording started", "name", name)
	return err
}

// RecordStep appends step to the recording. Steps past the capacity are dropped silently.
func (s *Sequencer) RecordStep(step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return ErrNotRecording
	}
	if !s.scratch.AddStep(step) {
		s.logger.Debugw("preset full, step not recorded", "name", s.scratch.Name)
		return nil
	}
	s.logger.Debugw("recorded step", "name", s.scratch.Name, "step", len(s.scratch.Steps))
	return nil
}

// RecordMotorState records one step reproducing the current state of every configured motor,
// followed by DefaultStepDelay.
func (s *Sequencer) RecordMotorState(ctx context.Context) error {
	if !s.IsRecording() {
		return ErrNotRecording
	}
	return s.RecordStep(Step{DelayAfter: DefaultStepDelay, Commands: s.motors.ReadState()})
}

// StopRecording ends the recording and saves it if it has any steps.
func (s *Sequencer) StopRecording(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return ErrNotRecording
	}
	return s.stopRecordingLocked()
}

func (s *Sequencer) stopRecordingLocked() error {
	s.recording = false
	s.logger.Infow("recording stopped", "name", s.scratch.Name, "steps", len(s.scratch.Steps))
	if len(s.scratch.Steps) == 0 {
		return nil
	}
	return s.store.Save(s.scratch)
}

// IsRecording reports whether a recording is in progress.
func (s *Sequencer) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// PlayPreset loads the preset called name and plays it.
func (s *Sequencer) PlayPreset(ctx context.Context, name string) error {
	p, err := s.store.Load(name)
	if err != nil {
		return err
	}
	return s.play(ctx, p, name)
}

// PlayPresetValue plays p without storing it.
func (s *Sequencer) PlayPresetValue(ctx context.Context, p Preset) error {
	return s.play(ctx, p, p.Name)
}

func (s *Sequencer) play(ctx context.Context, p Preset, name string) error {
	p.Truncate()
	if len(p.Steps) == 0 {
		return errors.Wrapf(ErrEmptyPreset, "%q", name)
	}
	if err := s.StopPlayback(ctx); err != nil {
		s.logger.Warnw("stopping previous playback failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session++
	session := s.session
	s.playing = true
	s.current = p
	s.currentName = name
	s.stepIndex = 0
	s.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		s.playLoop(ctx, session, p)
	})
	s.logger.Infow("playing preset", "name", name, "steps", len(p.Steps), "loop", p.Loop)
	return nil
}

func (s *Sequencer) playLoop(ctx context.Context, session uint64, p Preset) {
	defer s.finish(session)
	index := 0
	for ctx.Err() == nil {
		if s.safety != nil && s.safety.IsEstopActive() {
			s.logger.Warnw("playback aborted by emergency stop", "name", p.Name)
			return
		}
		if index >= len(p.Steps) {
			if !p.Loop {
				s.logger.Infow("playback complete", "name", p.Name)
				return
			}
			index = 0
			s.setStep(session, index)
			s.logger.Debugw("looping preset", "name", p.Name)
		}

		step := p.Steps[index]
		for _, cmd := range step.Commands {
			if err := s.motors.SendCommand(ctx, cmd); err != nil {
				s.logger.Warnw("preset command failed", "name", p.Name, "step", index, "slot", cmd.Slot,
					"command", cmd.Command.String(), "error", err)
			}
		}
		if step.DelayAfter > 0 && !s.sleep(ctx, time.Duration(step.DelayAfter)*time.Millisecond) {
			return
		}
		index++
		s.setStep(session, index)
	}
}

// sleep waits d on the sequencer clock. It reports false when ctx ends first.
func (s *Sequencer) sleep(ctx context.Context, d time.Duration) bool {
	timer := s.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Sequencer) setStep(session uint64, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == session {
		s.stepIndex = index
	}
}

func (s *Sequencer) finish(session uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == session {
		s.playing = false
	}
}

// StopPlayback ends playback, waits for the playback loop to return and then stops every motor.
// It does nothing when not playing.
func (s *Sequencer) StopPlayback(ctx context.Context) error {
	s.mu.Lock()
	workers := s.workers
	wasPlaying := s.playing
	s.playing = false
	s.workers = nil
	s.mu.Unlock()

	if workers != nil {
		workers.Stop()
	}
	if !wasPlaying {
		return nil
	}
	s.logger.Info("playback stopped")
	return s.motors.StopAll(ctx)
}

// IsPlaying reports whether a preset is playing.
func (s *Sequencer) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Tick reconciles the playing flag with a playback loop that ended without clearing it.
func (s *Sequencer) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.workers == nil {
		return
	}
	select {
	case <-s.workers.Done():
		s.playing = false
		s.logger.Warn("playback ended unexpectedly")
	default:
	}
}

// Snapshot is the externally reported sequencer state.
type Snapshot struct {
	Playing       bool     `json:"playing"`
	Recording     bool     `json:"recording"`
	CurrentStep   int      `json:"currentStep"`
	TotalSteps    int      `json:"totalSteps"`
	CurrentPreset string   `json:"currentPreset"`
	Looping       bool     `json:"looping"`
	PresetCount   int      `json:"presetCount"`
	Presets       []string `json:"presets"`
}

// Snapshot reports the sequencer state and the stored presets.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Playing:       s.playing,
		Recording:     s.recording,
		CurrentStep:   s.stepIndex,
		TotalSteps:    len(s.current.Steps),
		CurrentPreset: s.currentName,
		Looping:       s.current.Loop,
	}
	s.mu.Unlock()

	names, err := s.store.List()
	if err != nil {
		s.logger.Warnw("cannot list presets", "error", err)
	}
	snap.Presets = append([]string{}, names...)
	snap.PresetCount = len(snap.Presets)
	return snap
}

// Close stops playback. A recording in progress is discarded.
func (s *Sequencer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.recording = false
	s.mu.Unlock()
	return s.StopPlayback(ctx)
}
