package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.VideosTotal.WithLabelValues("indexed").Inc()
	m.VideosTotal.WithLabelValues("indexed").Inc()
	m.VideosTotal.WithLabelValues("failed").Inc()
	m.FramesSampledTotal.Add(12)
	m.ObserveStage("detect", 1.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VideosTotal.WithLabelValues("indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VideosTotal.WithLabelValues("failed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.FramesSampledTotal))

	n, err := testutil.GatherAndCount(reg, "vidx_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 两个 Metrics 注册到不同 registry 不应冲突。
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("x", 1)
		m.AddFrames(3)
		m.AddObjects(3)
		m.AddSegments(3)
		m.VideoDone("indexed")
		m.WorkerStarted()
		m.WorkerDone()
	})
}

func TestHandler_ExposesMetricsAndHealthz(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ActiveWorkers.Set(3)

	srv := httptest.NewServer(NewHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "vidx_active_workers 3"), string(body))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
