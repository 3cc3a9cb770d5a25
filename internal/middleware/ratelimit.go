package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/threadline-erp/backend/internal/apperr"
)

// NewLimiterStore returns a Redis-backed limiter store shared across instances,
// or an in-process store when client is nil.
func NewLimiterStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: "ratelimit"}), nil
	}
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "ratelimit", MaxRetry: 3})
	if err != nil {
		return nil, fmt.Errorf("limiter redis store: %w", err)
	}
	return store, nil
}

// RateLimit limits a route class to the formatted rate (e.g. "5-M"). Callers
// with an attached Identity are keyed by user, everyone else by client IP.
func RateLimit(store limiter.Store, class, formatted string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", class, err)
	}
	instance := limiter.New(store, rate)
	return ginlimiter.NewMiddleware(instance,
		ginlimiter.WithKeyGetter(func(c *gin.Context) string {
			if id, ok := IdentityFrom(c); ok {
				return class + ":user:" + id.UserID.String()
			}
			return class + ":ip:" + c.ClientIP()
		}),
		ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
			_ = c.Error(apperr.RateLimit("Too many requests, please try again later"))
		}),
		ginlimiter.WithErrorHandler(func(c *gin.Context, err error) {
			_ = c.Error(apperr.Database("rate limiter unavailable", err))
		}),
	), nil
}
