package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
)

// StartPoolMetrics samples pool stats every interval until ctx is done. It
// returns immediately.
func StartPoolMetrics(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	if interval <= 0 {
		interval = constants.DBPoolMetricsInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			recordPoolStats(pool.Stat())
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func recordPoolStats(stats *pgxpool.Stat) {
	metrics.DBPoolConnections.WithLabelValues("acquired").Set(float64(stats.AcquiredConns()))
	metrics.DBPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	metrics.DBPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns()))
	metrics.DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
}
