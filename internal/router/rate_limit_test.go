package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestKeyByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payment-orders", nil)
	c.Request.RemoteAddr = "1.2.3.4:5678"

	if key := KeyByUser(c); key != "ip:1.2.3.4" {
		t.Fatalf("key want ip:1.2.3.4 got %s", key)
	}
	c.Set("user_id", "u-1")
	if key := KeyByUser(c); key != "user:u-1" {
		t.Fatalf("key want user:u-1 got %s", key)
	}
}

func TestRateLimitMiddlewareWithoutClient(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimitMiddleware(nil, RateLimitRule{WindowSeconds: 60, MaxRequests: 1}, KeyByIP))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("expected handler response body, got %s", w.Body.String())
	}
}

func TestRateLimitRuleHelpers(t *testing.T) {
	rule := RateLimitRule{Prefix: "wx:rate:create_order", WindowSeconds: 60, MaxRequests: 20}
	if !rule.enabled() || (RateLimitRule{WindowSeconds: 60}).enabled() {
		t.Fatalf("unexpected enabled state")
	}
	if got := rule.key("user:u-1"); got != "wx:rate:create_order:user:u-1" {
		t.Fatalf("unexpected key: %s", got)
	}
	cases := map[int64]int{42: 42, 0: 60, -1: 60}
	for ttl, want := range cases {
		if got := rule.retryAfter(ttl); got != want {
			t.Fatalf("ttl %d: want %d got %d", ttl, want, got)
		}
	}
	if got := (RateLimitRule{}).retryAfter(-2); got != 1 {
		t.Fatalf("retry after floor want 1 got %d", got)
	}
}
