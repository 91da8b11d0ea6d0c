package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetricsServerHandler(t *testing.T) {
	var notReady error
	ms := NewMetricsServer("127.0.0.1:0", func(context.Context) error { return notReady }, zaptest.NewLogger(t))
	srv := httptest.NewServer(ms.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get("/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", body)

	notReady = errors.New("runtime unreachable")
	code, body = get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "runtime unreachable")

	OperationsTotal.WithLabelValues("test.op", "succeeded").Inc()
	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "wsengine_operations_total")
}

func TestMetricsServerNilReady(t *testing.T) {
	ms := NewMetricsServer("127.0.0.1:0", nil, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsServerStartStop(t *testing.T) {
	ms := NewMetricsServer("127.0.0.1:0", nil, zaptest.NewLogger(t))
	require.NoError(t, ms.Start())

	resp, err := http.Get("http://" + ms.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ms.Stop(context.Background()))
}

func TestMetricsServerStartBadAddress(t *testing.T) {
	ms := NewMetricsServer("256.0.0.1:bad", nil, zaptest.NewLogger(t))
	assert.Error(t, ms.Start())
}
