package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/vidx/internal/app/planner"
	"github.com/John-Robertt/vidx/internal/config"
	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/index"
	"github.com/John-Robertt/vidx/internal/indexer"
	"github.com/John-Robertt/vidx/internal/infra/fsx"
	"github.com/John-Robertt/vidx/internal/infra/metrics"
	"github.com/John-Robertt/vidx/internal/logx"
	"github.com/John-Robertt/vidx/internal/media"
	"github.com/John-Robertt/vidx/internal/sampler"
	"github.com/John-Robertt/vidx/internal/scan"
)

// ReportFileName 是 work_dir 下的构建报告文件名。
const ReportFileName = "report.json"

// VideoIndexer 是单视频索引器（*indexer.Indexer 满足该接口）。
type VideoIndexer interface {
	IndexVideo(ctx context.Context, plan domain.VideoPlan) (domain.VideoRecord, error)
}

// Deps 是构建依赖；dry-run 时 Indexer 可以为 nil。
type Deps struct {
	Indexer VideoIndexer
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Execute 执行一次完整重建，并返回对外稳定的 BuildReport。
// 单个视频失败只体现为 item 级失败，不影响其他视频。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.BuildReport {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.BuildReport {
	if obs == nil {
		obs = nopObserver{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	runID := uuid.NewString()
	log = log.With(zap.String(logx.FieldRunID, runID))

	obs.OnStart(eff)

	rr := domain.BuildReport{
		RunID:     runID,
		SourceDir: eff.SourceDir,
		IndexPath: eff.IndexPath,
		DryRun:    eff.DryRun,
		StartedAt: time.Now().UTC(),
		Items:     make([]domain.ItemResult, 0, 16),
	}
	finish := func() domain.BuildReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	scanStarted := time.Now()
	files, err := scan.ScanVideos(eff.SourceDir, eff.Extensions)
	if err != nil {
		// 扫描失败：不触碰旧索引。
		log.Error("扫描失败", zap.Error(err))
		rr.Items = append(rr.Items, syntheticFailed(eff.SourceDir, domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err)))
		return finish()
	}
	obs.OnPhaseDone("scan", map[string]any{"files": len(files)}, time.Since(scanStarted))

	planStarted := time.Now()
	plans, err := planner.Plan(eff, files)
	if err != nil {
		log.Error("规划失败", zap.Error(err))
		rr.Items = append(rr.Items, syntheticFailed(eff.SourceDir, domain.ErrCodeIOFailed, fmt.Sprintf("规划失败：%v", err)))
		return finish()
	}
	obs.OnPhaseDone("plan", map[string]any{"videos": len(plans)}, time.Since(planStarted))

	if eff.DryRun {
		for _, p := range plans {
			rr.Items = append(rr.Items, domain.ItemResult{Video: p.File.AbsPath, Status: domain.StatusPlanned})
		}
		return finish()
	}

	if deps.Indexer == nil {
		rr.Items = append(rr.Items, syntheticFailed(eff.SourceDir, domain.ErrCodeConfigInvalid, "未配置视频索引器"))
		return finish()
	}

	workers := config.ClampConcurrency(eff.Concurrency)
	if workers > len(plans) && len(plans) > 0 {
		workers = len(plans)
	}
	obs.OnPhaseDone("exec", map[string]any{"workers": workers, "total_items": len(plans)}, 0)

	records, items := execAll(ctx, eff, deps, log, obs, plans, workers)
	rr.Items = append(rr.Items, items...)

	if ctx.Err() != nil {
		// 整体被取消：保留旧索引（部分重建会丢失未处理的视频）。
		log.Warn("构建被取消，未替换索引", zap.Error(ctx.Err()))
		return finish()
	}

	persistStarted := time.Now()
	if err := index.Save(eff.IndexPath, records); err != nil {
		log.Error("写入索引失败", zap.String("path", eff.IndexPath), zap.Error(err))
		rr.Items = append(rr.Items, syntheticFailed(eff.IndexPath, domain.ErrCodeIOFailed, err.Error()))
	}

	report := finish()
	if err := writeReport(eff.WorkDir, report); err != nil {
		log.Warn("写入构建报告失败", zap.Error(err))
	}
	obs.OnPhaseDone("persist", map[string]any{"records": len(records)}, time.Since(persistStarted))

	log.Info("索引构建完成",
		zap.Int("indexed", report.Summary.Indexed),
		zap.Int("failed", report.Summary.Failed),
		zap.String("index", eff.IndexPath),
	)
	return report
}

type execResult struct {
	idx int
	rec domain.VideoRecord
	res domain.ItemResult
	dur time.Duration
}

// execAll 用固定大小的 worker pool 处理所有视频；结果按输入下标归位，完成顺序不会泄露到输出。
func execAll(ctx context.Context, eff config.EffectiveConfig, deps Deps, log *zap.Logger, obs Observer, plans []domain.VideoPlan, workers int) ([]domain.VideoRecord, []domain.ItemResult) {
	jobs := make(chan int)
	results := make(chan execResult, len(plans))

	for i := 0; i < workers; i++ {
		go func() {
			for idx := range jobs {
				started := time.Now()
				deps.Metrics.WorkerStarted()
				rec, res := execOne(ctx, eff, deps, log, plans[idx])
				deps.Metrics.WorkerDone()
				deps.Metrics.VideoDone(res.Status)
				results <- execResult{idx: idx, rec: rec, res: res, dur: time.Since(started)}
			}
		}()
	}

	go func() {
		for i := range plans {
			jobs <- i
		}
		close(jobs)
	}()

	slots := make([]execResult, len(plans))
	for done := 1; done <= len(plans); done++ {
		r := <-results
		slots[r.idx] = r
		obs.OnItemDone(done, len(plans), plans[r.idx].File.AbsPath, r.res, r.dur)
	}

	records := make([]domain.VideoRecord, 0, len(plans))
	items := make([]domain.ItemResult, 0, len(plans))
	for _, r := range slots {
		items = append(items, r.res)
		if r.res.Status == domain.StatusIndexed {
			records = append(records, r.rec)
		}
	}
	return records, items
}

func execOne(ctx context.Context, eff config.EffectiveConfig, deps Deps, log *zap.Logger, p domain.VideoPlan) (domain.VideoRecord, domain.ItemResult) {
	video := p.File.AbsPath
	item := domain.ItemResult{Video: video}

	if ctx.Err() != nil {
		item.Status = domain.StatusFailed
		item.ErrorCode = domain.ErrCodeCanceled
		item.ErrorMsg = ctx.Err().Error()
		return domain.VideoRecord{}, item
	}

	timeout := eff.VideoTimeout
	if timeout <= 0 {
		timeout = config.DefaultVideoTimeout
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec, err := deps.Indexer.IndexVideo(vctx, p)
	if err != nil {
		item.Status = domain.StatusFailed
		item.ErrorCode = errorCode(ctx, vctx, err)
		item.ErrorMsg = err.Error()
		log.Error("视频索引失败", logx.Video(video), zap.String("error_code", item.ErrorCode), zap.Error(err))
		return domain.VideoRecord{}, item
	}

	item.Status = domain.StatusIndexed
	item.Frames = len(rec.Frames)
	item.Segments = len(rec.Transcription)
	item.Detections = len(rec.DetectedObjects)
	log.Info("视频索引完成", logx.Video(video),
		zap.Int("frames", item.Frames),
		zap.Int("segments", item.Segments),
		zap.Int("detections", item.Detections),
	)
	return rec, item
}

// errorCode 把单视频失败映射为对外稳定的 error_code。
//
// 超时/取消优先于具体阶段：ffmpeg 被 kill 后的错误形态不稳定，以 context 状态为准。
func errorCode(parent, vctx context.Context, err error) string {
	if parent.Err() != nil {
		return domain.ErrCodeCanceled
	}
	if errors.Is(vctx.Err(), context.DeadlineExceeded) {
		return domain.ErrCodeTimeout
	}

	var ae *media.AudioExtractionError
	var de *sampler.DecodeError
	var se *indexer.StageError
	switch {
	case errors.As(err, &ae):
		return domain.ErrCodeAudioFailed
	case errors.As(err, &de):
		return domain.ErrCodeDecodeFailed
	case errors.As(err, &se):
		switch se.Stage {
		case indexer.StageTranscribe:
			return domain.ErrCodeTranscribeFailed
		case indexer.StageDetect:
			return domain.ErrCodeDetectFailed
		}
		return domain.ErrCodeIOFailed
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		return domain.ErrCodeCanceled
	}
	return domain.ErrCodeIOFailed
}

func syntheticFailed(video, code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Video:     video,
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

func writeReport(workDir string, rr domain.BuildReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(filepath.Clean(workDir), ReportFileName, b)
}
