package webapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds limiter memory; the table is reset when exceeded.
const maxTrackedClients = 10000

type clientLimiter struct {
	mutex    sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newClientLimiter(perMinute int, burst int) *clientLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &clientLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (limiter *clientLimiter) allow(key string) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	current, ok := limiter.limiters[key]
	if !ok {
		if len(limiter.limiters) >= maxTrackedClients {
			limiter.limiters = make(map[string]*rate.Limiter)
		}
		current = rate.NewLimiter(limiter.limit, limiter.burst)
		limiter.limiters[key] = current
	}
	return current.Allow()
}

func (limiter *clientLimiter) middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !limiter.allow(ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse("rate_limited", "too many checkout attempts, slow down"))
			return
		}
		ctx.Next()
	}
}
