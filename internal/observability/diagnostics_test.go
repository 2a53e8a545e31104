package observability_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vmtrack/internal/observability"
)

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { require.NoError(t, resp.Body.Close()) }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestDiagnosticsServer_Endpoints(t *testing.T) {
	t.Parallel()

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close()) })

	base := "http://" + srv.Addr()

	code, body := getBody(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ok")

	code, _ = getBody(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body = getBody(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "vmtrack_runtime_goroutines")
}

func TestDiagnosticsServer_MeterFeedsScrape(t *testing.T) {
	t.Parallel()

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close()) })

	counter, err := srv.Meter().Int64Counter("vmtrack.diag.ops")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	code, body := getBody(t, "http://"+srv.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "vmtrack_diag_ops")
}

func TestDiagnosticsServer_ReadyCheckFailure(t *testing.T) {
	t.Parallel()

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0", func(_ context.Context) error {
		return errTestTrackerBusy
	})
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close()) })

	code, body := getBody(t, "http://"+srv.Addr()+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "unavailable")
}
