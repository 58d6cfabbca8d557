package cleanup

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	authrepo "github.com/AlibekovAA/class-schedule/internal/auth/repository"
	"github.com/AlibekovAA/class-schedule/internal/common/db"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
)

type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type target struct {
	name    string
	repo    ExpiredDeleter
	counter prometheus.Counter
}

// Sweeper periodically removes expired refresh tokens and denylist entries.
// Rows it has not reached yet are already inert, so it never races the
// request paths.
type Sweeper struct {
	targets  []target
	interval time.Duration
	retry    db.RetryConfig
	log      *logger.Logger
}

func NewSweeper(refreshTokens authrepo.RefreshTokenRepository, revokedTokens authrepo.RevokedTokenRepository, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		targets: []target{
			{name: "refresh token", repo: refreshTokens, counter: metrics.RefreshTokensCleanupDeleted},
			{name: "revoked token", repo: revokedTokens, counter: metrics.DenylistCleanupDeleted},
		},
		interval: interval,
		retry:    db.DefaultRetryConfig,
		log:      log,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all targets and returns the number of rows removed.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	var total int64
	for _, t := range s.targets {
		var deleted int64
		err := db.RetryWithBackoff(ctx, s.log, s.retry, t.name+"_cleanup", func(ctx context.Context) error {
			var err error
			deleted, err = t.repo.DeleteExpired(ctx)
			return err
		})
		if err != nil {
			s.log.WithFields(ctx, logger.Fields{
				"target": t.name,
				"action": "cleanup_failed",
			}).Errorf("%s cleanup failed: %v", t.name, err)
			continue
		}
		if deleted > 0 {
			t.counter.Add(float64(deleted))
			s.log.Infof("%s cleanup: deleted %d expired tokens", t.name, deleted)
		}
		total += deleted
	}
	return total
}
