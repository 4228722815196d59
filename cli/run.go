package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/board/fake"
	"go.viam.com/motorctl/board/periph"
	"go.viam.com/motorctl/config"
	"go.viam.com/motorctl/controller"
	"go.viam.com/motorctl/logging"
)

// RunAction runs the controller until the process is interrupted. Log level patterns are reloaded
// when the config file changes.
func RunAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, closeLogFile := newLogger(c, cfg)
	defer goutils.UncheckedErrorFunc(closeLogFile)
	loggers := logging.NewRegistry(logger.GetLevel())
	loggers.Register(logger)
	if err := loggers.UpdateConfig(cfg.LogConfig, logger); err != nil {
		return errors.Wrap(err, "cannot apply log configuration")
	}

	var b board.Board
	if c.Bool(flagFake) {
		logger.Info("using an in-memory board")
		b = fake.NewBoard()
	} else if b, err = periph.NewBoard(loggers.Register(logger.Sublogger("board"))); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := controller.New(ctx, cfg, b, logger, controller.WithLoggerRegistry(loggers))
	if err != nil {
		return multierr.Combine(err, b.Close(context.Background()))
	}

	if path := c.String(flagConfig); path != "" {
		watcher, err := config.NewWatcher(path, config.DefaultWatchDebounce, func(newCfg *config.Config) {
			if err := loggers.UpdateConfig(newCfg.LogConfig, logger); err != nil {
				logger.Warnw("cannot apply log configuration", "error", err)
			}
		}, logger)
		if err != nil {
			logger.Warnw("config changes will not be picked up", "error", err)
		} else {
			defer goutils.UncheckedErrorFunc(watcher.Close)
		}
	}

	if err := ctrl.Start(ctx); err != nil {
		return multierr.Combine(err, ctrl.Close(context.Background()), b.Close(context.Background()))
	}
	<-ctx.Done()
	logger.Info("shutting down")

	// the run context is done, so shut down on a fresh one
	closeCtx := context.Background()
	return multierr.Combine(ctrl.Close(closeCtx), b.Close(closeCtx))
}
