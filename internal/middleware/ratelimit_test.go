package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestRateLimit_BlocksAfterBudget(t *testing.T) {
	store, err := NewLimiterStore(nil)
	if err != nil {
		t.Fatalf("NewLimiterStore: %v", err)
	}
	limit, err := RateLimit(store, "register", "2-M")
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}
	r := gin.New()
	r.Use(Errors(zap.NewNop(), false))
	r.POST("/register", limit, func(c *gin.Context) { c.Status(http.StatusCreated) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/register", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [201 201 429]", codes)
	}
}

func TestRateLimit_InvalidFormat(t *testing.T) {
	store, _ := NewLimiterStore(nil)
	if _, err := RateLimit(store, "auth", "five-per-minute"); err == nil {
		t.Error("expected error for malformed rate")
	}
}
