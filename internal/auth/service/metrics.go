package service

import (
	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
)

func recordLogin(result string) {
	metrics.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

func incrementRefreshTokensIssued() {
	metrics.RefreshTokensIssued.Inc()
}

func incrementRefreshTokensRotated() {
	metrics.RefreshTokensRotated.Inc()
}

func incrementRefreshTokensRejected(reason string) {
	metrics.RefreshTokensRejected.WithLabelValues(reason).Inc()
}

func addRefreshTokensRevoked(n int) {
	metrics.RefreshTokensRevoked.Add(float64(n))
}

func incrementRefreshTokenConflicts() {
	metrics.RefreshTokenConflicts.Inc()
}

func incrementAccessTokensDenylisted() {
	metrics.AccessTokensDenylisted.Inc()
}
