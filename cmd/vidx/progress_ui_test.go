package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/vidx/internal/config"
	"github.com/John-Robertt/vidx/internal/domain"
)

func TestProgressUI_PrintsPhasesAndItems(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)

	p.OnStart(config.EffectiveConfig{SourceDir: "/v", IndexPath: "/v/.vidx/index.json", Concurrency: 2})
	p.OnPhaseDone("scan", map[string]any{"files": 2}, 10*time.Millisecond)
	p.OnPhaseDone("plan", map[string]any{"videos": 2}, 0)
	p.OnPhaseDone("exec", map[string]any{"workers": 2, "total_items": 2}, 0)
	p.OnItemDone(1, 2, "/v/b.mp4", domain.ItemResult{Status: domain.StatusIndexed, Frames: 3, Segments: 2, Detections: 3}, time.Second)
	p.OnItemDone(2, 2, "/v/a.mp4", domain.ItemResult{Status: domain.StatusFailed, ErrorCode: domain.ErrCodeAudioFailed, ErrorMsg: "no audio"}, time.Second)
	p.OnPhaseDone("persist", map[string]any{"records": 1}, 0)

	out := buf.String()
	for _, frag := range []string{
		"source_dir: /v",
		"扫描: files=2",
		"执行: workers=2 total_items=2",
		"[1/2] b.mp4 OK frames=3 segments=2 detections=3",
		"[2/2] a.mp4 FAIL audio_extraction_failed: no audio",
		"写入索引: records=1",
	} {
		if !strings.Contains(out, frag) {
			t.Fatalf("期望输出包含 %q：\n%s", frag, out)
		}
	}
	if p.tickerStarted {
		t.Fatalf("全部完成后 ticker 应已停止")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefgh", 5); got != "ab..." {
		t.Fatalf("truncate 结果不正确：%q", got)
	}
	if got := truncate(" ab ", 5); got != "ab" {
		t.Fatalf("truncate 应先去空白：%q", got)
	}
}
