// Package logx 构造注入用的 *zap.Logger；本仓库不使用全局 logger。
package logx

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 统一的字段名，便于按视频/阶段检索日志。
const (
	FieldVideo = "video"
	FieldStage = "stage"
	FieldRunID = "run_id"
)

// New 构造输出到 stderr 的 logger。
// console=true（交互终端）使用 console encoder，否则输出 JSON 行。
func New(level string, console bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log_level 无效：%w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if console {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableCaller = true
	}
	return cfg.Build()
}

// Video 返回视频路径字段。
func Video(v string) zap.Field { return zap.String(FieldVideo, v) }

// Stage 返回处理阶段字段。
func Stage(s string) zap.Field { return zap.String(FieldStage, s) }
