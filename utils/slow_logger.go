package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/motorctl/logging"
)

// SlowLogger starts a goroutine that logs msg every few seconds until the returned function is
// called or ctx ends. keysAndValues are logged with each message.
func SlowLogger(ctx context.Context, clk clock.Clock, msg string, logger logging.Logger, keysAndValues ...interface{}) func() {
	slowTicker := clk.Ticker(2 * time.Second)
	startTime := clk.Now()

	workers := NewStoppableWorkers(func(workerCtx context.Context) {
		firstTick := true
		for {
			select {
			case <-slowTicker.C:
				elapsed := clk.Since(startTime).Round(time.Second).String()
				logger.Warnw(msg, append(keysAndValues, "time_elapsed", elapsed)...)
				if firstTick {
					slowTicker.Reset(3 * time.Second)
					firstTick = false
				} else {
					slowTicker.Reset(5 * time.Second)
				}
			case <-ctx.Done():
				return
			case <-workerCtx.Done():
				return
			}
		}
	})
	return func() {
		slowTicker.Stop()
		workers.Stop()
	}
}
