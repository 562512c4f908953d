package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/videoupload/pkg/options"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestProbes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cycles_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	ready := errors.New("video store broker not connected")
	s := NewServer(&options.MetricsOptions{Addr: "127.0.0.1:0"}, reg, nil, func() error { return ready })

	code, body := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, s.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "not connected")

	ready = nil
	code, _ = get(t, s.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body = get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "test_cycles_total 1")

	code, _ = get(t, s.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(&options.MetricsOptions{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, prometheus.NewRegistry(), nil, nil)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartFailsOnBadAddress(t *testing.T) {
	s := NewServer(&options.MetricsOptions{Addr: "256.0.0.1:bad"}, prometheus.NewRegistry(), nil, nil)
	assert.Error(t, s.Start(t.Context()))
}
