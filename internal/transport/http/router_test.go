package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verikey/internal/jwttoken"
	"verikey/internal/verification/generator"
	"verikey/internal/verification/handler"
	"verikey/internal/verification/metrics"
	"verikey/internal/verification/models"
	"verikey/internal/verification/service"
	"verikey/internal/verification/store"
)

func newRouter(t *testing.T, health HealthChecker) (http.Handler, *jwttoken.JWTService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	svc := service.New(
		store.NewMemoryKeyStore(),
		store.NewMemoryGroupStore(),
		generator.NewRegistry(),
		service.WithLogger(logger),
		service.WithMetrics(metrics.New(registry)),
	)
	jwtService := jwttoken.NewJWTService("test-signing-key", "verikey", "verikey")
	keys := handler.New(svc, logger, jwtService)
	return NewRouter(keys, logger, registry, health), jwtService
}

func TestHealthz(t *testing.T) {
	t.Run("ok without checker", func(t *testing.T) {
		router, _ := newRouter(t, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("degraded when the store is down", func(t *testing.T) {
		router, _ := newRouter(t, func(context.Context) error { return errors.New("connection refused") })
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "degraded")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newRouter(t, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestIssueAndClaimThroughRouter exercises the full stack: JWT auth, chi
// routing, the service, and the memory store.
func TestIssueAndClaimThroughRouter(t *testing.T) {
	router, jwtService := newRouter(t, nil)

	post := func(t *testing.T, target, token string, body any) *httptest.ResponseRecorder {
		t.Helper()
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(encoded))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := post(t, "/groups", "", map[string]any{"name": "activate", "generator": "sms", "ttl_minutes": 60})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = post(t, "/groups/activate/keys", "", struct{}{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var key models.Key
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &key))
	require.Len(t, key.Token, generator.ShortLength)

	claimant := uuid.New()
	token, err := jwtService.GenerateToken(claimant, time.Hour)
	require.NoError(t, err)

	w = post(t, "/claim", token, map[string]string{"token": key.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var claimed models.Key
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, claimant, *claimed.ClaimedBy)

	t.Run("claim without a token is unauthorized", func(t *testing.T) {
		w := post(t, "/claim", "", map[string]string{"token": key.Token})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("claims show up in the metrics exposition", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), "verikey_claims_succeeded_total 1"))
	})
}
