package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailtriage/internal/handler"
	"mailtriage/internal/service"
	"mailtriage/internal/service/servicetest"
	"mailtriage/pkg/auth"
)

func newTestRouter(secret string) *Router {
	gin.SetMode(gin.TestMode)
	store := servicetest.NewMemoryStore()
	svc := service.NewTriageService(store, store, store, &servicetest.MockGenerator{}, service.Options{})
	return NewRouter(Deps{
		EmailHandler:  handler.NewEmailHandler(svc, zap.NewNop()),
		PromptHandler: handler.NewPromptHandler(svc, zap.NewNop()),
		JWTSecret:     secret,
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthAndTraceHeader(t *testing.T) {
	r := newTestRouter("")

	w := serve(r.Engine, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w = serve(r.Engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter("")

	w := serve(r.Engine, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAPIWithoutSecretIsOpen(t *testing.T) {
	r := newTestRouter("")

	w := serve(r.Engine, httptest.NewRequest(http.MethodGet, "/api/prompts", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	r := newTestRouter("s3cret")

	w := serve(r.Engine, httptest.NewRequest(http.MethodGet, "/api/emails", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/emails", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = serve(r.Engine, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := auth.GenerateJWT("operator", "s3cret", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/emails", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(r.Engine, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays public
	w = serve(r.Engine, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := NewServer("0", newTestRouter(""), []string{"http://localhost:5173"}, zap.NewNop())

	req := httptest.NewRequest(http.MethodOptions, "/api/emails/ingest", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := serve(s.Handler(), req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = serve(s.Handler(), req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
