package services

import (
  "sync"

  "github.com/google/uuid"
  "golang.org/x/time/rate"

  "github.com/planforge/planforge-backend/internal/logger"
)

// RateLimiterService throttles generation starts per user. Limiters are kept
// per user id and created lazily; a user who never submits never allocates
// one.
type RateLimiterService interface {
  AllowGeneration(userID uuid.UUID) bool
}

type rateLimiterService struct {
  log   *logger.Logger
  mu    sync.Mutex
  users map[uuid.UUID]*rate.Limiter

  limit rate.Limit
  burst int
}

// NewRateLimiterService builds a limiter allowing perMinute starts with the
// given burst. perMinute <= 0 disables limiting.
func NewRateLimiterService(baseLog *logger.Logger, perMinute int, burst int) RateLimiterService {
  svcLog := baseLog.With("service", "RateLimiterService")
  var lim rate.Limit
  if perMinute <= 0 {
    lim = rate.Inf
  } else {
    lim = rate.Limit(float64(perMinute) / 60.0)
  }
  if burst <= 0 {
    burst = 1
  }
  return &rateLimiterService{
    log:   svcLog,
    users: make(map[uuid.UUID]*rate.Limiter),
    limit: lim,
    burst: burst,
  }
}

func (s *rateLimiterService) AllowGeneration(userID uuid.UUID) bool {
  s.mu.Lock()
  lim, ok := s.users[userID]
  if !ok {
    lim = rate.NewLimiter(s.limit, s.burst)
    s.users[userID] = lim
  }
  s.mu.Unlock()

  allowed := lim.Allow()
  if !allowed {
    s.log.Warn("generation start rate limited", "user_id", userID.String())
  }
  return allowed
}
