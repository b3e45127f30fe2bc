// Package indexer 把单个视频的三路信号（元数据、转写、采样帧+检测）合并为一条 VideoRecord。
package indexer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/vidx/internal/detect"
	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/infra/cache"
	"github.com/John-Robertt/vidx/internal/infra/fsx"
	"github.com/John-Robertt/vidx/internal/infra/imgx"
	"github.com/John-Robertt/vidx/internal/infra/metrics"
	"github.com/John-Robertt/vidx/internal/logx"
	"github.com/John-Robertt/vidx/internal/sampler"
)

// 测试替换点：读回已写出的采样帧。
var decodeFrameFunc = imgx.DecodeFile

// Prober 返回容器元数据；失败时返回 error 形态的 Metadata，而不是 error。
type Prober interface {
	Probe(ctx context.Context, video string) domain.Metadata
}

// AudioExtractor 把视频的音轨写为单声道 16kHz PCM 文件。
type AudioExtractor interface {
	Extract(ctx context.Context, video, outPath string) error
}

// Transcriber 把音频转写为按 start 排序的文本段。
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]domain.TranscriptSegment, error)
}

// FrameOpener 为视频打开顺序解码会话。
type FrameOpener interface {
	Open(ctx context.Context, video string) (sampler.Source, error)
}

// Detector 对单张图片做目标检测。实现必须允许并发调用。
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]detect.Object, error)
}

// TranscriptCache 是可选的转写缓存。
type TranscriptCache interface {
	ReadTranscript(key string) ([]domain.TranscriptSegment, bool, error)
	WriteTranscript(key string, segs []domain.TranscriptSegment) error
}

// Stage 标识流水线中失败的阶段。
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageDetect     Stage = "detect"
	StageIO         Stage = "io"
)

// StageError 表示某个阶段的致命失败（音频抽取与解码有各自的类型化错误）。
type StageError struct {
	Video string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s 阶段失败：%q：%v", e.Stage, e.Video, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Indexer 持有协作方句柄；由构建器创建一次并被所有 worker 共享。
type Indexer struct {
	Prober      Prober
	Audio       AudioExtractor
	Transcriber Transcriber
	Frames      FrameOpener
	Detector    Detector

	// Cache 为 nil 表示不使用转写缓存；CacheSalt 区分不同的转写参数。
	Cache     TranscriptCache
	CacheSalt string

	Interval int
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// IndexVideo 处理一个视频：
//  1. 探测元数据（失败只降级为 error 形态）
//  2. 并发执行 音频→转写 与 采样→检测 两条分支；任一分支致命失败会取消另一分支
//  3. 组装 VideoRecord（切片永不为 nil）
//
// 任一致命失败都不产生部分记录。
func (ix *Indexer) IndexVideo(ctx context.Context, plan domain.VideoPlan) (domain.VideoRecord, error) {
	video := plan.File.AbsPath
	log := ix.log().With(logx.Video(video))

	start := time.Now()
	md := ix.Prober.Probe(ctx, video)
	ix.Metrics.ObserveStage("probe", time.Since(start).Seconds())
	if md.Failed() {
		log.Warn("元数据探测失败，继续索引", zap.String("error", md.Error))
	}

	var (
		segs   []domain.TranscriptSegment
		frames []domain.Frame
		dets   []domain.Detection
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		segs, err = ix.transcript(gctx, plan, log)
		return err
	})
	g.Go(func() error {
		var err error
		frames, dets, err = ix.framesAndDetections(gctx, plan, log)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.VideoRecord{}, err
	}

	rec := domain.VideoRecord{
		Video:           video,
		Metadata:        md,
		Transcription:   segs,
		DetectedObjects: dets,
		Frames:          frames,
	}
	rec.Normalize()
	return rec, nil
}

func (ix *Indexer) transcript(ctx context.Context, plan domain.VideoPlan, log *zap.Logger) ([]domain.TranscriptSegment, error) {
	video := plan.File.AbsPath

	key := ""
	if ix.Cache != nil {
		key = cache.Key(plan.File, ix.CacheSalt)
		segs, ok, err := ix.Cache.ReadTranscript(key)
		if err != nil {
			log.Warn("读取转写缓存失败", zap.Error(err))
		}
		if ok {
			log.Debug("转写缓存命中", logx.Stage(string(StageTranscribe)))
			ix.Metrics.AddSegments(len(segs))
			return segs, nil
		}
	}

	start := time.Now()
	if err := ix.Audio.Extract(ctx, video, plan.AudioPath); err != nil {
		return nil, err
	}
	ix.Metrics.ObserveStage("audio", time.Since(start).Seconds())

	start = time.Now()
	segs, err := ix.Transcriber.Transcribe(ctx, plan.AudioPath)
	if err != nil {
		return nil, &StageError{Video: video, Stage: StageTranscribe, Err: err}
	}
	ix.Metrics.ObserveStage(string(StageTranscribe), time.Since(start).Seconds())
	if segs == nil {
		segs = []domain.TranscriptSegment{}
	}
	ix.Metrics.AddSegments(len(segs))

	if key != "" {
		if err := ix.Cache.WriteTranscript(key, segs); err != nil && !errors.Is(err, cache.ErrReadOnly) {
			log.Warn("写入转写缓存失败", zap.Error(err))
		}
	}
	return segs, nil
}

func (ix *Indexer) framesAndDetections(ctx context.Context, plan domain.VideoPlan, log *zap.Logger) ([]domain.Frame, []domain.Detection, error) {
	video := plan.File.AbsPath

	start := time.Now()
	frames, err := sampler.Sample(ctx, ix.Frames, video, ix.Interval, plan.FramesDir)
	if err != nil {
		var de *sampler.DecodeError
		if errors.As(err, &de) || ctx.Err() != nil {
			return nil, nil, err
		}
		return nil, nil, &StageError{Video: video, Stage: StageIO, Err: err}
	}
	ix.Metrics.ObserveStage("sample", time.Since(start).Seconds())
	ix.Metrics.AddFrames(len(frames))

	if err := fsx.ResetDir(plan.DetectedDir); err != nil {
		return nil, nil, &StageError{Video: video, Stage: StageIO, Err: err}
	}

	start = time.Now()
	dets := make([]domain.Detection, 0, len(frames))
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		img, err := decodeFrameFunc(f.Path)
		if err != nil {
			// 帧图片读不回来：跳过该帧，不产生检测结果。
			log.Warn("帧图片不可读，跳过检测", zap.String("frame", f.Path), zap.Error(err))
			continue
		}

		objs, err := ix.Detector.Detect(ctx, img)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			return nil, nil, &StageError{Video: video, Stage: StageDetect, Err: err}
		}

		b, err := imgx.EncodeJPEG(detect.Annotate(img, objs))
		if err != nil {
			return nil, nil, &StageError{Video: video, Stage: StageIO, Err: err}
		}
		name := filepath.Base(f.Path)
		if err := fsx.WriteFileAtomic(plan.DetectedDir, name, b); err != nil {
			return nil, nil, &StageError{Video: video, Stage: StageIO, Err: err}
		}

		labels := detect.Labels(objs)
		ix.Metrics.AddObjects(len(labels))
		dets = append(dets, domain.Detection{
			Path:      filepath.Join(plan.DetectedDir, name),
			Objects:   labels,
			Timestamp: f.Timestamp,
		})
	}
	ix.Metrics.ObserveStage(string(StageDetect), time.Since(start).Seconds())
	return frames, dets, nil
}

func (ix *Indexer) log() *zap.Logger {
	if ix.Logger == nil {
		return zap.NewNop()
	}
	return ix.Logger
}
