package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总索引构建过程的指标。注册到调用方提供的 Registerer，避免全局注册冲突。
type Metrics struct {
	VideosTotal          *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	FramesSampledTotal   prometheus.Counter
	ObjectsDetectedTotal prometheus.Counter
	SegmentsTotal        prometheus.Counter
	ActiveWorkers        prometheus.Gauge
}

// New 在 reg 上注册全部指标。reg 为 nil 时使用一个私有 Registry（仅用于不暴露指标的场景）。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		VideosTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vidx_videos_total",
			Help: "Total number of videos processed, by status",
		}, []string{"status"}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidx_stage_duration_seconds",
			Help:    "Duration of per-video pipeline stages",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage"}),

		FramesSampledTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vidx_frames_sampled_total",
			Help: "Total number of frames kept by the sampler",
		}),

		ObjectsDetectedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vidx_objects_detected_total",
			Help: "Total number of object labels detected across all frames",
		}),

		SegmentsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vidx_transcript_segments_total",
			Help: "Total number of transcript segments produced",
		}),

		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "vidx_active_workers",
			Help: "Number of workers currently indexing a video",
		}),
	}
}

// ObserveStage 记录一个阶段耗时（秒）。m 为 nil 时不做任何事。
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// AddFrames 累加采样帧数。m 为 nil 时不做任何事。
func (m *Metrics) AddFrames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesSampledTotal.Add(float64(n))
}

// AddObjects 累加检测到的标签数。
func (m *Metrics) AddObjects(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ObjectsDetectedTotal.Add(float64(n))
}

// AddSegments 累加转写段数。
func (m *Metrics) AddSegments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SegmentsTotal.Add(float64(n))
}

// VideoDone 按最终状态计数。
func (m *Metrics) VideoDone(status string) {
	if m == nil {
		return
	}
	m.VideosTotal.WithLabelValues(status).Inc()
}

// WorkerStarted / WorkerDone 维护活跃 worker 数。
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *Metrics) WorkerDone() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}
