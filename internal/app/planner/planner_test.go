package planner

import (
	"path/filepath"
	"testing"

	"github.com/John-Robertt/vidx/internal/config"
	"github.com/John-Robertt/vidx/internal/domain"
)

func vf(name, base, ext string) domain.VideoFile {
	return domain.VideoFile{AbsPath: "/v/" + name, RelPath: name, Base: base, Ext: ext}
}

func TestPlan_LayoutAndOrder(t *testing.T) {
	eff := config.EffectiveConfig{AudioDir: "/w/audio", FramesDir: "/w/frames", DetectedFramesDir: "/w/detected_frames"}
	plans, err := Plan(eff, []domain.VideoFile{vf("b.mp4", "b", ".mp4"), vf("a.mp4", "a", ".mp4")})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(plans) != 2 || plans[0].Stem != "b" || plans[1].Stem != "a" {
		t.Fatalf("顺序或 stem 不正确：%+v", plans)
	}
	p := plans[0]
	if p.AudioPath != filepath.Join("/w/audio", "b.wav") ||
		p.FramesDir != filepath.Join("/w/frames", "b") ||
		p.DetectedDir != filepath.Join("/w/detected_frames", "b") {
		t.Fatalf("产物路径不正确：%+v", p)
	}
}

func TestPlan_SameBaseDifferentExt(t *testing.T) {
	files := []domain.VideoFile{
		vf("a.mkv", "a", ".mkv"),
		vf("A.MP4", "A", ".mp4"),
		vf("c.mp4", "c", ".mp4"),
	}
	plans, err := Plan(config.EffectiveConfig{}, files)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	got := []string{plans[0].Stem, plans[1].Stem, plans[2].Stem}
	want := []string{"a_mkv", "A_mp4", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stem 不正确：got=%v want=%v", got, want)
		}
	}
}

func TestPlan_SuffixStillCollides(t *testing.T) {
	// a_mp4.mp4 本身的 stem 与 a.mp4 冲突后追加的 stem 相同。
	files := []domain.VideoFile{
		vf("a_mp4.mp4", "a_mp4", ".mp4"),
		vf("a.mp4", "a", ".mp4"),
		vf("a.mkv", "a", ".mkv"),
	}
	plans, err := Plan(config.EffectiveConfig{}, files)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if plans[0].Stem != "a_mp4" || plans[1].Stem != "a_mp4__2" || plans[2].Stem != "a_mkv" {
		t.Fatalf("stem 不正确：%q %q %q", plans[0].Stem, plans[1].Stem, plans[2].Stem)
	}
}
