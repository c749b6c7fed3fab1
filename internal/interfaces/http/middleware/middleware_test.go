package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/meschain/syncengine/internal/infrastructure/auth"
	"github.com/meschain/syncengine/internal/infrastructure/config"
	"github.com/meschain/syncengine/internal/interfaces/http/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testJWTService() *auth.JWTService {
	return auth.NewJWTService(config.AuthConfig{
		JWTSecret: "middleware-test-secret-at-least-32-chars",
		Issuer:    "syncengine",
	})
}

func newAuthRouter(svc *auth.JWTService, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	group := router.Group("/api", JWTAuth(svc, logger))
	group.GET("/read", func(c *gin.Context) {
		c.JSON(http.StatusOK, dto.NewSuccessResponse(GetJWTSubject(c)))
	})
	group.POST("/trigger", RequireScope(auth.ScopeTrigger), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return router
}

func doRequest(router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	t.Run("generates an id", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/id", "")
		assert.Len(t, w.Body.String(), 36)
		assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/id", nil)
		req.Header.Set(RequestIDHeader, "caller-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "caller-42", w.Body.String())
	})
}

func TestJWTAuth_DisabledLeavesRoutesOpen(t *testing.T) {
	w := doRequest(newAuthRouter(nil, zap.NewNop()), http.MethodPost, "/api/trigger", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestJWTAuth_MissingToken(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	w := doRequest(newAuthRouter(testJWTService(), zap.New(core)), http.MethodGet, "/api/read", "")

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeUnauthorized, decodeError(t, w).Code)

	entries := logs.FilterMessage("Operator authentication failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "security", entries[0].LoggerName)
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	w := doRequest(newAuthRouter(testJWTService(), zap.NewNop()), http.MethodGet, "/api/read", "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeTokenInvalid, decodeError(t, w).Code)
}

func TestJWTAuth_ExpiredToken(t *testing.T) {
	svc := testJWTService()
	token, err := svc.Issue("ops", -time.Minute)
	require.NoError(t, err)

	w := doRequest(newAuthRouter(svc, zap.NewNop()), http.MethodGet, "/api/read", token)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeTokenExpired, decodeError(t, w).Code)
}

func TestJWTAuth_ValidToken(t *testing.T) {
	svc := testJWTService()
	token, err := svc.Issue("ops@example.com", time.Hour)
	require.NoError(t, err)

	w := doRequest(newAuthRouter(svc, zap.NewNop()), http.MethodGet, "/api/read", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ops@example.com")
}

func TestRequireScope(t *testing.T) {
	svc := testJWTService()
	router := newAuthRouter(svc, zap.NewNop())

	readOnly, err := svc.Issue("viewer", time.Hour, auth.ScopeRead)
	require.NoError(t, err)
	w := doRequest(router, http.MethodPost, "/api/trigger", readOnly)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, dto.ErrCodeForbidden, decodeError(t, w).Code)

	operator, err := svc.Issue("operator", time.Hour, auth.ScopeRead, auth.ScopeTrigger)
	require.NoError(t, err)
	w = doRequest(router, http.MethodPost, "/api/trigger", operator)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://admin.example.com"}
	router := gin.New()
	router.Use(CORS(cfg))
	router.GET("/api/read", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("preflight is answered", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/read", nil)
		req.Header.Set("Origin", "https://admin.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/read", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
