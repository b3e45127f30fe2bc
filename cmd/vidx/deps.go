package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/vidx/internal/config"
	"github.com/John-Robertt/vidx/internal/detect"
	"github.com/John-Robertt/vidx/internal/detect/yolo"
	"github.com/John-Robertt/vidx/internal/indexer"
	"github.com/John-Robertt/vidx/internal/infra/cache"
	"github.com/John-Robertt/vidx/internal/infra/httpx"
	"github.com/John-Robertt/vidx/internal/infra/metrics"
	"github.com/John-Robertt/vidx/internal/media"
	"github.com/John-Robertt/vidx/internal/transcribe"
)

const probeTimeout = 30 * time.Second

// newIndexer 组装生产环境的协作方。返回的 close 用于释放 ONNX 会话。
func newIndexer(eff config.EffectiveConfig, logger *zap.Logger, m *metrics.Metrics) (*indexer.Indexer, func(), error) {
	hc, err := httpx.NewAPIClient(eff.Transcriber.ProxyURL, eff.Transcriber.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("transcriber.proxy_url 无效：%w", err)
	}
	whisper := transcribe.NewWhisper(transcribe.Options{
		Model:    eff.Transcriber.Model,
		BaseURL:  eff.Transcriber.BaseURL,
		APIKey:   eff.Transcriber.APIKey,
		Language: eff.Transcriber.Language,
	}, hc)

	labels, err := detect.LoadLabels(eff.Detector.LabelsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("读取 detector.labels_path 失败：%w", err)
	}
	det, err := yolo.New(yolo.Options{
		ModelPath:     eff.Detector.ModelPath,
		LibraryPath:   eff.Detector.LibraryPath,
		Labels:        labels,
		InputSize:     eff.Detector.InputSize,
		ConfThreshold: eff.Detector.ConfThreshold,
		IOUThreshold:  eff.Detector.IOUThreshold,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("加载检测模型失败：%w", err)
	}

	prober := media.Prober{Timeout: probeTimeout}
	ix := &indexer.Indexer{
		Prober:      prober,
		Audio:       media.AudioExtractor{},
		Transcriber: whisper,
		Frames:      media.Decoder{Prober: prober},
		Detector:    det,
		Interval:    eff.FrameInterval,
		Logger:      logger,
		Metrics:     m,
	}
	if !eff.NoCache {
		ix.Cache = cache.New(eff.CacheDir, false)
		ix.CacheSalt = whisper.CacheSalt()
	}

	closeFn := func() {
		if err := det.Close(); err != nil {
			logger.Warn("释放检测模型失败", zap.Error(err))
		}
	}
	return ix, closeFn, nil
}
