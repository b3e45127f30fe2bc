package build

import (
	"time"

	"github.com/John-Robertt/vidx/internal/config"
	"github.com/John-Robertt/vidx/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - build 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：事件可能来自多个 goroutine。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用：scan、plan、exec、persist。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个视频处理完成时调用（idx 为完成序号，不是输入下标）。
	OnItemDone(idx, total int, video string, res domain.ItemResult, dur time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                                {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)             {}
func (nopObserver) OnItemDone(int, int, string, domain.ItemResult, time.Duration) {}
