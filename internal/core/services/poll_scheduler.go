package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// TickFunc is one unit of polled work. Returning done=true stops the poller.
// A non-nil error is logged and polling continues.
type TickFunc func(ctx context.Context) (done bool, err error)

// PollScheduler invokes a tick at a fixed interval until the tick reports
// completion or the context is cancelled.
//
// Each tick runs on its own goroutine, so a slow remote call does not delay
// the next tick and in-flight ticks may overlap. Callers guard any state the
// tick shares.
type PollScheduler struct {
	logger *slog.Logger
	name   string
}

func NewPollScheduler(logger *slog.Logger, name string) *PollScheduler {
	return &PollScheduler{
		logger: logger.With("poller", name),
		name:   name,
	}
}

// Run blocks until a tick returns done (nil) or ctx ends (ctx.Err()). The
// first tick fires one interval after the call. In-flight ticks are cancelled
// and awaited before Run returns.
func (p *PollScheduler) Run(ctx context.Context, interval time.Duration, tick TickFunc) error {
	if interval <= 0 {
		return errors.New("poll interval must be positive")
	}

	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		wg       sync.WaitGroup
		doneOnce sync.Once
		doneCh   = make(chan struct{})
		seq      int
	)

	p.logger.Debug("poller started", "interval", interval)

	for {
		select {
		case <-doneCh:
			cancel()
			wg.Wait()
			p.logger.Debug("poller finished", "ticks", seq)
			return nil
		case <-ctx.Done():
			wg.Wait()
			// A tick may have completed the work while we were cancelled.
			select {
			case <-doneCh:
				return nil
			default:
			}
			p.logger.Debug("poller cancelled", "ticks", seq)
			return ctx.Err()
		case <-ticker.C:
			seq++
			n := seq
			wg.Add(1)
			go func() {
				defer wg.Done()
				done, err := tick(tickCtx)
				if err != nil {
					if tickCtx.Err() == nil {
						p.logger.Warn("poll tick failed", "tick", n, "error", err)
					}
					return
				}
				if done {
					doneOnce.Do(func() { close(doneCh) })
				}
			}()
		}
	}
}
