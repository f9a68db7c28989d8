package routers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"atelier-api/internal/artifacts"
	"atelier-api/internal/credentials"
	"atelier-api/internal/delivery"
	"atelier-api/internal/generation"
	"atelier-api/internal/middleware"
	"atelier-api/internal/pipeline"
	"atelier-api/internal/ratelimit"
	"atelier-api/internal/shared"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("pixels")...)

// newTestServer wires the full HTTP surface against a stub upstream.
func newTestServer(t *testing.T, upstream http.HandlerFunc, maxCalls int) *echo.Echo {
	t.Helper()
	log := zap.NewNop().Sugar()

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	pool, err := credentials.NewPool([]string{"upstream-key"})
	require.NoError(t, err)

	pipe := pipeline.New(
		pipeline.Config{
			Model:   "gpt-image-1",
			BaseURL: srv.URL,
			Retry:   generation.RetryPolicy{MaxAttempts: 2, Backoff: func(int) time.Duration { return 0 }},
		},
		ratelimit.NewMemory(ratelimit.Config{MaxCalls: maxCalls, Period: time.Minute}, log),
		generation.NewClient(pool, 5*time.Second, log),
		artifacts.NewStore(t.TempDir(), log),
		delivery.NewTransport(time.Second, log),
		log,
	)

	e := echo.New()
	base := e.Group("")
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	require.NoError(t, RegisterImageRoutes(base, ImageRouterConfig{
		Pipeline:    pipe,
		ServiceKeys: []string{"service-key"},
	}, log))
	return e
}

func doGenerate(e *echo.Echo, apiKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGenerateRouteSuccess(t *testing.T) {
	e := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, base64.StdEncoding.EncodeToString(pngBytes))
	}, 0)

	rec := doGenerate(e, "service-key", `{"prompt":"a red fox","destination":"local"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Local)
	assert.Equal(t, "png", res.Format)

	saved, err := os.ReadFile(res.Ref)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, saved)
}

func TestGenerateRouteRequiresAuth(t *testing.T) {
	e := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unauthenticated request must not reach upstream")
	}, 0)

	rec := doGenerate(e, "", `{"prompt":"a red fox"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doGenerate(e, "wrong-key", `{"prompt":"a red fox"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateRouteRateLimited(t *testing.T) {
	e := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, base64.StdEncoding.EncodeToString(pngBytes))
	}, 1)

	rec := doGenerate(e, "service-key", `{"prompt":"a red fox","destination":"local","group":"g1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doGenerate(e, "service-key", `{"prompt":"a red fox","destination":"local","group":"g1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var apiErr shared.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Code)
	assert.NotEmpty(t, apiErr.Message)
}

func TestGenerateRouteUpstreamRejection(t *testing.T) {
	e := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "prompt was flagged"},
		})
	}, 0)

	rec := doGenerate(e, "service-key", `{"prompt":"something naughty","destination":"local"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "prompt was flagged")
}

func TestGenerateRouteExhaustion(t *testing.T) {
	e := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 0)

	rec := doGenerate(e, "service-key", `{"prompt":"a red fox","destination":"local"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestGenerateRouteBadBody(t *testing.T) {
	e := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("malformed request must not reach upstream")
	}, 0)

	rec := doGenerate(e, "service-key", `{"prompt": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateRouteSkipsBadReferences(t *testing.T) {
	e := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, base64.StdEncoding.EncodeToString(pngBytes))
	}, 0)

	body := fmt.Sprintf(`{"prompt":"a red fox","destination":"local","references":["%s","!!!not-base64!!!"]}`,
		base64.StdEncoding.EncodeToString([]byte("ref")))
	rec := doGenerate(e, "service-key", body)
	assert.Equal(t, http.StatusOK, rec.Code, "invalid references are skipped, not fatal")
}
