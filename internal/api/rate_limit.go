package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/artify/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit guards POST /stylize only. A limiter outage lets requests
// through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/stylize" {
			next.ServeHTTP(w, r)
			return
		}

		subject := s.clientID(r) + ":" + routeLabel(r.URL.Path)
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.Warn().Str("subject", subject).Err(err).Msg("rate limiter check failed")
			next.ServeHTTP(w, r)
			return
		}

		if decision.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
			"code":  "rate_limited",
		})
	})
}
