package build

import (
	"context"
	"image"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/John-Robertt/vidx/internal/detect"
	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/indexer"
	"github.com/John-Robertt/vidx/internal/sampler"
	"github.com/John-Robertt/vidx/internal/search"
)

type stubProber struct{}

func (stubProber) Probe(ctx context.Context, video string) domain.Metadata {
	return domain.Metadata{Duration: 6, Width: 16, Height: 16, Codec: "h264", Bitrate: 1000}
}

type stubAudio struct{}

func (stubAudio) Extract(ctx context.Context, video, outPath string) error { return nil }

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, audioPath string) ([]domain.TranscriptSegment, error) {
	return []domain.TranscriptSegment{{Start: 2, End: 4, Text: "hello world"}}, nil
}

// stubSource 以 1fps 产出 6 帧纯色图。
type stubSource struct{ n int }

func (s *stubSource) FPS() float64 { return 1 }
func (s *stubSource) Next() (image.Image, error) {
	if s.n >= 6 {
		return nil, io.EOF
	}
	s.n++
	return image.NewRGBA(image.Rect(0, 0, 16, 16)), nil
}
func (s *stubSource) Close() error { return nil }

type stubOpener struct{}

func (stubOpener) Open(ctx context.Context, video string) (sampler.Source, error) {
	return &stubSource{}, nil
}

// stubDetector 只在第二个采样帧上检测到 dog。
type stubDetector struct{ calls atomic.Int32 }

func (d *stubDetector) Detect(ctx context.Context, img image.Image) ([]detect.Object, error) {
	if d.calls.Add(1) == 2 {
		return []detect.Object{{Label: "dog", Box: image.Rect(2, 2, 10, 10), Score: 0.9}}, nil
	}
	return nil, nil
}

func TestEndToEnd_IndexThenSearch(t *testing.T) {
	eff := testConfig(t, "a.mp4")
	eff.FrameInterval = 3

	ix := &indexer.Indexer{
		Prober:      stubProber{},
		Audio:       stubAudio{},
		Transcriber: stubTranscriber{},
		Frames:      stubOpener{},
		Detector:    &stubDetector{},
		Interval:    eff.FrameInterval,
	}
	rr := Execute(context.Background(), eff, Deps{Indexer: ix})
	if rr.Summary.Indexed != 1 {
		t.Fatalf("期望 1 个视频索引成功：%+v", rr.Items)
	}

	eng := search.New(eff.IndexPath)

	res, err := eng.Search("hello")
	if err != nil {
		t.Fatalf("检索失败：%v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("期望 1 条 text 命中，got=%+v", res.Matches)
	}
	m := res.Matches[0]
	wantFrame := filepath.Join(eff.FramesDir, "a", sampler.FrameName(1))
	if m.Kind != domain.MatchText || m.Time != 3 || m.Frame != wantFrame {
		t.Fatalf("text 命中不正确：%+v（期望 frame=%s）", m, wantFrame)
	}

	res, err = eng.Search("Dog")
	if err != nil {
		t.Fatalf("检索失败：%v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("期望 1 条 object 命中，got=%+v", res.Matches)
	}
	m = res.Matches[0]
	wantDetected := filepath.Join(eff.DetectedFramesDir, "a", sampler.FrameName(1))
	if m.Kind != domain.MatchObject || m.Time != 3 || m.Frame != wantDetected {
		t.Fatalf("object 命中不正确：%+v（期望 frame=%s）", m, wantDetected)
	}

	res, err = eng.Search("cat")
	if err != nil || len(res.Matches) != 0 {
		t.Fatalf("cat 不应命中：%+v err=%v", res.Matches, err)
	}
}
