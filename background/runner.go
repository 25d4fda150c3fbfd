// Package background runs work that outlives the request that started it,
// and provides a synchronized log such work can record into.
package background

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of detached work.
type Task func(ctx context.Context) error

// Runner starts tasks detached from the caller's cancellation. Go never
// blocks, so a handler can start work and return its response immediately;
// Wait lets tests and shutdown observe completion.
type Runner struct {
	group errgroup.Group
	sem   *semaphore.Weighted
	log   zerolog.Logger
}

// NewRunner creates a Runner that executes at most limit tasks at once.
// A limit below 1 means one at a time.
func NewRunner(limit int, log zerolog.Logger) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{sem: semaphore.NewWeighted(int64(limit)), log: log}
}

// Go schedules fn. The context handed to fn keeps the values of ctx, such
// as the request id, but is never cancelled with it.
func (r *Runner) Go(ctx context.Context, name string, fn Task) {
	detached := context.WithoutCancel(ctx)
	log := zerolog.Ctx(ctx).With().Str("task", name).Logger()
	if log.GetLevel() == zerolog.Disabled {
		log = r.log.With().Str("task", name).Logger()
	}

	r.group.Go(func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task %s panicked: %v", name, p)
				log.Error().Err(err).Msg("background task failed")
			}
		}()

		if err := r.sem.Acquire(detached, 1); err != nil {
			return err
		}
		defer r.sem.Release(1)

		if err := fn(detached); err != nil {
			log.Error().Err(err).Msg("background task failed")
			return fmt.Errorf("task %s: %w", name, err)
		}
		log.Debug().Msg("background task done")
		return nil
	})
}

// Wait blocks until every task started so far has finished and returns the
// first task error.
func (r *Runner) Wait() error {
	return r.group.Wait()
}
