package merge

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs a job in the background whenever it is requested. Requests
// never block; bursts that arrive while a run is pending or debouncing
// collapse into a single run.
type Scheduler struct {
	job      func(ctx context.Context) error
	debounce time.Duration
	requests chan struct{}
	logger   *slog.Logger
}

func NewScheduler(job func(ctx context.Context) error, debounce time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		job:      job,
		debounce: debounce,
		requests: make(chan struct{}, 1),
		logger:   logger,
	}
}

// Request asks for a run and returns immediately.
func (s *Scheduler) Request() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Run processes requests until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.requests:
		}

		if s.debounce > 0 {
			timer := time.NewTimer(s.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		// This run covers anything requested during the debounce window.
		select {
		case <-s.requests:
		default:
		}

		if err := s.job(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	}
}
