package webapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestClientLimiterPerClient(test *testing.T) {
	test.Parallel()
	limiter := newClientLimiter(1, 2)
	for attempt := 0; attempt < 2; attempt++ {
		if !limiter.allow("10.0.0.1") {
			test.Fatalf("attempt %d: expected burst to be allowed", attempt)
		}
	}
	if limiter.allow("10.0.0.1") {
		test.Fatalf("expected third attempt to be limited")
	}
	if !limiter.allow("10.0.0.2") {
		test.Fatalf("expected another client to be allowed")
	}
}

func TestClientLimiterMiddleware(test *testing.T) {
	test.Parallel()
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.POST("/checkouts", newClientLimiter(1, 1).middleware(), func(ctx *gin.Context) {
		ctx.Status(http.StatusCreated)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/checkouts", nil))
	if first.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d", first.Code)
	}
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/checkouts", nil))
	if second.Code != http.StatusTooManyRequests {
		test.Fatalf("expected 429, got %d", second.Code)
	}
}
