package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vmtrack/internal/observability"
)

func TestPrometheusHandler_ServesInstruments(t *testing.T) {
	t.Parallel()

	handler, provider, err := observability.PrometheusHandler()
	require.NoError(t, err)
	require.NotNil(t, handler)
	require.NotNil(t, provider)

	t.Cleanup(func() { require.NoError(t, provider.Shutdown(context.Background())) })

	counter, err := provider.Meter("test").Int64Counter("vmtrack.test.ops")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vmtrack_test_ops")
}

func TestPrometheusHandler_IndependentRegistries(t *testing.T) {
	t.Parallel()

	// Two handlers must not fight over collector registration.
	_, providerA, err := observability.PrometheusHandler()
	require.NoError(t, err)

	_, providerB, err := observability.PrometheusHandler()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, providerA.Shutdown(context.Background()))
		require.NoError(t, providerB.Shutdown(context.Background()))
	})
}
