package middleware

import (
	"IntelProd/pkg/redis"
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	sharedWindow = time.Second
	// idle per-IP limiters are evicted after limiterTTL
	limiterTTL = 10 * time.Minute
)

type rateLimiter struct {
	bucket    *cache.Cache
	rate      rate.Limit
	burstSize int
	mutex     *sync.Mutex
	shared    redis.IRedis
}

func newRateLimiter(reqRate rate.Limit, burstSize int, shared redis.IRedis) *rateLimiter {
	return &rateLimiter{
		bucket:    cache.New(limiterTTL, 2*limiterTTL),
		rate:      reqRate,
		burstSize: burstSize,
		mutex:     &sync.Mutex{},
		shared:    shared,
	}
}

func (r *rateLimiter) GetLimiterFrom(ip string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	limiter, exist := r.bucket.Get(ip)
	if !exist {
		limiter = rate.NewLimiter(r.rate, r.burstSize)
	}
	r.bucket.SetDefault(ip, limiter)

	return limiter.(*rate.Limiter)
}

// allow consults the shared redis window when configured and falls back to
// the in-process limiter if redis is unreachable.
func (r *rateLimiter) allow(ctx context.Context, ip string, log *logrus.Logger) bool {
	if r.shared != nil {
		ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		ok, err := r.shared.Allow(ctx, ip, r.burstSize, sharedWindow)
		if err == nil {
			return ok
		}

		log.WithFields(logrus.Fields{
			"ip":    ip,
			"error": err.Error(),
		}).Warn("Shared rate limiter unavailable, using local limiter")
	}

	return r.GetLimiterFrom(ip).Allow()
}

func (m *middleware) NewRateLimiter(ctx *fiber.Ctx) error {
	clientIP := ctx.IP()

	if !m.rateLimitter.allow(ctx.UserContext(), clientIP, m.log) {
		m.log.WithFields(logrus.Fields{
			"request_id": m.GetRequestID(ctx),
			"ip":         clientIP,
		}).Warn("Too many requests")
		return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":     "Too many requests",
			"code":      "TOO_MANY_REQUESTS",
			"retryable": true,
		})
	}

	return ctx.Next()
}
