// Package controller assembles the motor registry, the safety monitor, the preset sequencer and
// the periodic tasks into one control core.
package controller

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-billy.v4/osfs"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/config"
	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/preset"
	"go.viam.com/motorctl/registry"
	"go.viam.com/motorctl/safety"
	"go.viam.com/motorctl/storage/kv"
	"go.viam.com/motorctl/tasks"
	"go.viam.com/motorctl/utils"
)

// ErrEstopActive is returned for a command that would move a motor while emergency stopped.
var ErrEstopActive = errors.New("emergency stop active")

// KVDir is where the slot configuration is kept on the data filesystem.
const KVDir = "/nvs"

// Controller is the control core. Build one with New and call Start to begin the periodic
// tasks.
type Controller struct {
	cfg    config.Config
	board  board.Board
	logger logging.Logger
	clk    clock.Clock

	store     kv.Store
	motors    *registry.Registry
	safety    *safety.Monitor
	presets   *preset.Store
	sequencer *preset.Sequencer
	loop      *tasks.MotorLoop
	scheduler *tasks.Scheduler

	started atomic.Bool
}

type options struct {
	fs         billy.Filesystem
	clk        clock.Clock
	loggers    *logging.Registry
	regOptions []registry.Option
}

// An Option changes how a Controller is built.
type Option func(*options)

// WithFilesystem keeps the slot configuration and the presets on fs instead of the data
// directory of the config.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(o *options) { o.fs = fs }
}

// WithClock runs every driver and task on clk.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

// WithLoggerRegistry registers the subloggers of every part with loggers so configured level
// patterns reach them.
func WithLoggerRegistry(loggers *logging.Registry) Option {
	return func(o *options) { o.loggers = loggers }
}

// WithRegistryOptions passes opts on to the motor registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *options) { o.regOptions = append(o.regOptions, opts...) }
}

// New builds a controller on b. The stored slot configuration is loaded first and the slots
// named by cfg are configured on top of it. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, b board.Board, logger logging.Logger, opts ...Option) (*Controller, error) {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	o := options{clk: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		if cfg.DataDir == "" {
			o.fs = memfs.New()
		} else {
			o.fs = osfs.New(cfg.DataDir)
		}
	}

	c := &Controller{cfg: *cfg, board: b, logger: logger, clk: o.clk}
	sublogger := func(name string) logging.Logger {
		l := logger.Sublogger(name)
		if o.loggers != nil {
			l = o.loggers.Register(l)
		}
		return l
	}
	var err error
	if c.store, err = kv.NewFileStore(o.fs, KVDir); err != nil {
		return nil, err
	}
	regOpts := append([]registry.Option{
		registry.WithStore(c.store),
		registry.WithClock(o.clk),
		registry.WithCommandGate(c.refuseDuringEstop),
	}, o.regOptions...)
	c.motors = registry.New(b, sublogger("registry"), regOpts...)

	safetyCfg := cfg.SafetyConfig()
	safetyCfg.Clock = o.clk
	if c.safety, err = safety.NewMonitor(ctx, b, c.motors, safetyCfg, sublogger("safety")); err != nil {
		return nil, err
	}
	presetLogger := sublogger("preset")
	if c.presets, err = preset.NewStore(o.fs, cfg.PresetDir, presetLogger); err != nil {
		return nil, multierr.Combine(err, c.safety.Close())
	}
	c.sequencer = preset.NewSequencer(c.presets, c, c.safety, o.clk, presetLogger)

	tasksLogger := sublogger("tasks")
	c.loop = tasks.NewMotorLoop(c.motors, c.safety, o.clk, tasksLogger)
	if c.scheduler, err = tasks.NewScheduler(tasksLogger); err != nil {
		return nil, multierr.Combine(err, c.safety.Close())
	}
	if err := multierr.Combine(
		c.scheduler.Add(tasks.SafetyCheckSpec, c.safety.Check),
		c.scheduler.Add(tasks.HousekeepingSpec, c.housekeeping),
	); err != nil {
		return nil, multierr.Combine(err, c.scheduler.Shutdown(), c.safety.Close())
	}

	if err := c.motors.LoadConfig(ctx); err != nil {
		logger.Warnw("stored motor configuration partially applied", "error", err)
	}
	if err := c.applySlotConfig(ctx, cfg.Slots); err != nil {
		logger.Warnw("motor configuration partially applied", "error", err)
	}
	logger.Infow("controller ready", "motors", c.motors.ConfiguredCount())
	return c, nil
}

func (c *Controller) applySlotConfig(ctx context.Context, slots []config.SlotConfig) error {
	var errs error
	for _, sc := range slots {
		t := c.motors.MotorType(sc.Slot)
		if sc.Type != nil {
			var err error
			if t, err = motor.TypeFromCode(*sc.Type); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
		} else if len(sc.Pins) == 0 {
			continue
		}
		errs = multierr.Append(errs, c.motors.ConfigureSlotFromJSON(ctx, sc.Slot, t, sc.Pins))
	}
	return errs
}

func (c *Controller) housekeeping(ctx context.Context) {
	c.sequencer.Tick()
}

// Start launches the motor loop and the scheduled safety and housekeeping jobs.
func (c *Controller) Start(ctx context.Context) error {
	if c.started.Swap(true) {
		return errors.New("controller already started")
	}
	c.loop.Start()
	c.scheduler.Start()
	c.logger.Info("controller started")
	return nil
}

// SendCommand dispatches req to its motor. While emergency stopped only commands that take motion
// away are accepted. The check is repeated under the registry lock.
func (c *Controller) SendCommand(ctx context.Context, req motor.CommandRequest) error {
	if err := c.refuseDuringEstop(req); err != nil {
		return err
	}
	return c.motors.SendCommand(ctx, req)
}

func (c *Controller) refuseDuringEstop(req motor.CommandRequest) error {
	if req.Command.Moves() && c.safety != nil && c.safety.IsEstopActive() {
		return errors.Wrapf(ErrEstopActive, "refusing %s on slot %d", req.Command, req.Slot)
	}
	return nil
}

// StopAll stops every motor.
func (c *Controller) StopAll(ctx context.Context) error {
	return c.motors.StopAll(ctx)
}

// ReadState returns one command per configured motor reproducing its current state.
func (c *Controller) ReadState() []motor.CommandRequest {
	return c.motors.ReadState()
}

// ConfigureSlot configures slot as type t with the given pin overrides applied to its current
// pins and stores the new slot configuration.
func (c *Controller) ConfigureSlot(ctx context.Context, slot int, t motor.Type, pins map[string]interface{}) error {
	if err := c.motors.ConfigureSlotFromJSON(ctx, slot, t, pins); err != nil {
		return err
	}
	return c.motors.SaveConfig()
}

// RemoveMotor empties slot and stores the new slot configuration.
func (c *Controller) RemoveMotor(ctx context.Context, slot int) error {
	if err := c.motors.RemoveMotor(ctx, slot); err != nil {
		return err
	}
	return c.motors.SaveConfig()
}

// TriggerEstop emergency stops every motor. Playback ends before its next step.
func (c *Controller) TriggerEstop(ctx context.Context) {
	c.safety.TriggerEstop(ctx)
}

// ResetEstop leaves the emergency stop once the trigger is released.
func (c *Controller) ResetEstop(ctx context.Context) error {
	return c.safety.ResetEstop(ctx)
}

// PrepareForUpdate stops playback and every motor ahead of a firmware update.
func (c *Controller) PrepareForUpdate(ctx context.Context) error {
	c.logger.Info("preparing for update")
	return multierr.Combine(c.sequencer.StopPlayback(ctx), c.motors.StopAll(ctx))
}

// Motors returns the motor registry.
func (c *Controller) Motors() *registry.Registry {
	return c.motors
}

// Safety returns the safety monitor.
func (c *Controller) Safety() *safety.Monitor {
	return c.safety
}

// Sequencer returns the preset recorder and player.
func (c *Controller) Sequencer() *preset.Sequencer {
	return c.sequencer
}

// MotorLoop returns the motor update loop.
func (c *Controller) MotorLoop() *tasks.MotorLoop {
	return c.loop
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() config.Config {
	return c.cfg
}

// Snapshot is the aggregated state of the controller.
type Snapshot struct {
	Motors           registry.Snapshot `json:"motors"`
	Safety           safety.Snapshot   `json:"safety"`
	Presets          preset.Snapshot   `json:"presets"`
	MotorLoopRunning bool              `json:"motorLoopRunning"`
	SkippedUpdates   int64             `json:"skippedUpdates"`
}

// Snapshot reports the state of every part of the controller.
func (c *Controller) Snapshot(ctx context.Context) Snapshot {
	return Snapshot{
		Motors:           c.motors.SnapshotAll(),
		Safety:           c.safety.Snapshot(ctx),
		Presets:          c.sequencer.Snapshot(),
		MotorLoopRunning: c.loop.IsRunning(),
		SkippedUpdates:   c.motors.SkippedUpdates(),
	}
}

// Close stops the tasks and playback, then stops and releases every motor.
func (c *Controller) Close(ctx context.Context) error {
	slowLogDone := utils.SlowLogger(ctx, c.clk, "waiting for controller to close", c.logger)
	defer slowLogDone()

	err := c.scheduler.Shutdown()
	c.loop.Stop()
	err = multierr.Combine(
		err,
		c.sequencer.Close(ctx),
		c.motors.Close(ctx),
		c.safety.Close(),
	)
	c.logger.Info("controller closed")
	return err
}
