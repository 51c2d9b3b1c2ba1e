package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LightHostingFree/sslgen/internal/identity"
	"github.com/LightHostingFree/sslgen/internal/registry/handler"
	"github.com/gin-gonic/gin"
)

func TestRateLimiter_burst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RateLimiter(1, 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes: %v", codes)
	}
}

func TestIssueLimiter_perOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens, _ := identity.NewOwnerTokens("test-secret", "", time.Hour)
	alice, _ := tokens.Issue("alice", "")
	bob, _ := tokens.Issue("bob", "")

	r := gin.New()
	r.POST("/issue", identity.RequireOwner(tokens), handler.IssueLimiter(time.Minute, 1),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/issue", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := call(alice); w.Code != http.StatusOK {
		t.Fatalf("first attempt: %d", w.Code)
	}
	w := call(alice)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After: %q", w.Header().Get("Retry-After"))
	}
	if w := call(bob); w.Code != http.StatusOK {
		t.Errorf("other owner must not share the bucket: %d", w.Code)
	}
}
