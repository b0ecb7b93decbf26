package visit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// AutoCloser periodically stops visits of the types named in
// visits.autoCloseVisitType.
type AutoCloser struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewAutoCloser(svc *Service, interval time.Duration, logger zerolog.Logger) *AutoCloser {
	return &AutoCloser{svc: svc, interval: interval, logger: logger.With().Str("job", "visit-autoclose").Logger()}
}

// Run blocks until ctx is done. A non-positive interval returns at once.
func (a *AutoCloser) Run(ctx context.Context) {
	if a.interval <= 0 {
		return
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce stops the eligible visits and logs the outcome.
func (a *AutoCloser) RunOnce(ctx context.Context) int {
	n, err := a.svc.StopVisits(ctx, nil)
	if err != nil {
		a.logger.Error().Err(err).Msg("auto close failed")
		return 0
	}
	a.logger.Debug().Int("stopped", n).Msg("auto close finished")
	return n
}
