package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/vidx/internal/config"
	"github.com/John-Robertt/vidx/internal/domain"
)

// Plan 为每个视频生成确定性的产物布局（不做任何写入）。输出顺序与 files 一致。
//
// stem 规则：
// - 默认取文件名去扩展名
// - 多个视频 stem 相同（忽略大小写，例如 a.mp4 与 a.mkv）时，冲突的每一个都追加 _<ext>（a_mp4、a_mkv）
// - 仍然冲突时追加 __2、__3……
func Plan(eff config.EffectiveConfig, files []domain.VideoFile) ([]domain.VideoPlan, error) {
	count := make(map[string]int, len(files))
	for _, f := range files {
		count[strings.ToLower(f.Base)]++
	}

	used := make(map[string]struct{}, len(files))
	plans := make([]domain.VideoPlan, 0, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.Base) == "" {
			return nil, fmt.Errorf("非法视频文件名：%q", f.AbsPath)
		}

		stem := f.Base
		if count[strings.ToLower(f.Base)] > 1 {
			stem = f.Base + "_" + strings.TrimPrefix(strings.ToLower(f.Ext), ".")
		}
		stem = allocStem(stem, used)
		used[strings.ToLower(stem)] = struct{}{}

		plans = append(plans, domain.VideoPlan{
			File:        f,
			Stem:        stem,
			AudioPath:   filepath.Join(eff.AudioDir, stem+".wav"),
			FramesDir:   filepath.Join(eff.FramesDir, stem),
			DetectedDir: filepath.Join(eff.DetectedFramesDir, stem),
		})
	}
	return plans, nil
}

func allocStem(stem string, used map[string]struct{}) string {
	if _, ok := used[strings.ToLower(stem)]; !ok {
		return stem
	}
	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d", stem, n)
		if _, ok := used[strings.ToLower(cand)]; !ok {
			return cand
		}
	}
}
