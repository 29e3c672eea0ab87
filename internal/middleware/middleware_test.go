package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"support_chat/internal/config"
	"support_chat/internal/domain"
	"support_chat/internal/repository"
	"support_chat/internal/service"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agent_id":    c.GetString(ContextAgentID),
		"business_id": c.GetString(ContextBusinessID),
	})
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAgent_Token(t *testing.T) {
	req := require.New(t)
	tokens := service.NewAgentTokenService(config.AgentAuthConfig{Secret: "test-secret", TTL: time.Hour, Issuer: "test"}, logger.Nop())

	agentID := "AGT1"
	token, err := tokens.Issue(&domain.User{BusinessID: "B1", Name: "Alice", AgentID: &agentID, Role: domain.UserRoleAgent})
	req.NoError(err)

	r := gin.New()
	r.GET("/me", NewAuthMiddleware(tokens, logger.Nop()).RequireAgent(), whoami)

	httpReq := httptest.NewRequest(http.MethodGet, "/me", nil)
	httpReq.Header.Set("Authorization", "Bearer "+token.Token)
	w := serve(r, httpReq)
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"agent_id":"AGT1","business_id":"B1"}`, w.Body.String())

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"garbage token":  "Bearer not-a-jwt",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			httpReq := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				httpReq.Header.Set("Authorization", header)
			}
			assert.Equal(t, http.StatusUnauthorized, serve(r, httpReq).Code)
		})
	}
}

func TestRequireAgent_DisabledUsesHeaders(t *testing.T) {
	req := require.New(t)
	tokens := service.NewAgentTokenService(config.AgentAuthConfig{}, logger.Nop())

	r := gin.New()
	r.GET("/me", NewAuthMiddleware(tokens, logger.Nop()).RequireAgent(), whoami)

	httpReq := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Equal(http.StatusUnauthorized, serve(r, httpReq).Code)

	httpReq.Header.Set("X-Agent-ID", "AGT1")
	httpReq.Header.Set("X-Business-ID", "B1")
	w := serve(r, httpReq)
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"agent_id":"AGT1","business_id":"B1"}`, w.Body.String())
}

func TestAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	r.POST("/admin", AdminKey(string(hash), logger.Nop()), ok)
	r.POST("/disabled", AdminKey("", logger.Nop()), ok)

	cases := []struct {
		path string
		key  string
		want int
	}{
		{"/admin", "s3cret", http.StatusNoContent},
		{"/admin", "wrong", http.StatusUnauthorized},
		{"/admin", "", http.StatusUnauthorized},
		{"/disabled", "s3cret", http.StatusForbidden},
	}
	for _, tc := range cases {
		httpReq := httptest.NewRequest(http.MethodPost, tc.path, nil)
		if tc.key != "" {
			httpReq.Header.Set(AdminKeyHeader, tc.key)
		}
		assert.Equal(t, tc.want, serve(r, httpReq).Code, "%s key=%q", tc.path, tc.key)
	}
}

func TestErrorHandler(t *testing.T) {
	req := require.New(t)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("room r-1: %w", apperrors.ErrNotFound))
	})
	r.GET("/fine", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))
	req.Equal(http.StatusNotFound, w.Code)
	req.JSONEq(`{"error":"room r-1: not found","code":"not_found"}`, w.Body.String())

	req.Equal(http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/fine", nil)).Code)
}

func TestRateLimit(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := service.NewRateLimitService(repository.NewRateLimitRepository(rdb, logger.Nop()), logger.Nop())
	rule := domain.RateLimitRule{Scope: domain.RateLimitScopeWhatsApp, Limit: 2, Window: time.Minute}

	r := gin.New()
	r.POST("/hook", NewRateLimitMiddleware(limiter, logger.Nop()).Limit(rule), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/hook", nil))
		req.Equal(http.StatusOK, w.Code)
		req.Equal("2", w.Header().Get("X-RateLimit-Limit"))
	}
	w := serve(r, httptest.NewRequest(http.MethodPost, "/hook", nil))
	req.Equal(http.StatusTooManyRequests, w.Code)
	req.Equal("0", w.Header().Get("X-RateLimit-Remaining"))

	// окно истекло
	mr.FastForward(2 * time.Minute)
	req.Equal(http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/hook", nil)).Code)
}

func TestRateLimit_NoRedisAllowsAll(t *testing.T) {
	limiter := service.NewRateLimitService(nil, logger.Nop())
	rule := domain.RateLimitRule{Scope: domain.RateLimitScopeIP, Limit: 1, Window: time.Minute}

	r := gin.New()
	r.GET("/", NewRateLimitMiddleware(limiter, logger.Nop()).Limit(rule), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	req := require.New(t)
	r := gin.New()
	r.Use(RequestID(), RequestLogger(logger.Nop()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	req.Equal(http.StatusOK, w.Code)
	req.Len(w.Header().Get(RequestIDHeader), 36)

	const known = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	httpReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	httpReq.Header.Set(RequestIDHeader, known)
	req.Equal(known, serve(r, httpReq).Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	req := require.New(t)
	r := gin.New()
	r.Use(CORS([]string{"https://a.example"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	httpReq := httptest.NewRequest(http.MethodGet, "/", nil)
	httpReq.Header.Set("Origin", "https://a.example")
	req.Equal("https://a.example", serve(r, httpReq).Header().Get("Access-Control-Allow-Origin"))

	httpReq.Header.Set("Origin", "https://evil.example")
	req.Empty(serve(r, httpReq).Header().Get("Access-Control-Allow-Origin"))

	preflight := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Equal(http.StatusNoContent, serve(r, preflight).Code)
}
