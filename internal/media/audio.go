package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/John-Robertt/vidx/internal/infra/fsx"
)

// 测试替换点：执行一次 ffmpeg 并返回合并输出。
var runFunc = func(ctx context.Context, name string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// AudioExtractionError 表示无法从视频中得到音频（没有音轨、容器损坏、ffmpeg 不可用……）。
// 对该视频是致命错误。
type AudioExtractionError struct {
	Video  string
	Output string // ffmpeg 输出尾部，便于诊断
	Err    error
}

func (e *AudioExtractionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("音频抽取失败：%q：%v：%s", e.Video, e.Err, e.Output)
	}
	return fmt.Sprintf("音频抽取失败：%q：%v", e.Video, e.Err)
}

func (e *AudioExtractionError) Unwrap() error { return e.Err }

// AudioExtractor 把视频的首条音轨转为单声道 16kHz s16le WAV。
type AudioExtractor struct {
	// Bin 为空时使用 PATH 中的 ffmpeg。
	Bin string
}

// Extract 写出 outPath（覆盖）。失败时删除可能残留的半成品。
func (a AudioExtractor) Extract(ctx context.Context, video, outPath string) error {
	if err := fsx.EnsureDir(filepath.Dir(outPath)); err != nil {
		return &AudioExtractionError{Video: video, Err: err}
	}

	out, err := runFunc(ctx, binOr(a.Bin), audioArgs(video, outPath))
	if err != nil {
		_ = os.Remove(outPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &AudioExtractionError{Video: video, Output: tail(out, 512), Err: err}
	}
	if fi, err := os.Stat(outPath); err != nil || fi.Size() == 0 {
		_ = os.Remove(outPath)
		return &AudioExtractionError{Video: video, Err: fmt.Errorf("ffmpeg 未产出音频文件")}
	}
	return nil
}

func audioArgs(video, outPath string) []string {
	return ffmpeg.Input(video).
		Output(outPath, ffmpeg.KwArgs{
			"map":    "0:a:0",
			"acodec": "pcm_s16le",
			"ar":     16000,
			"ac":     1,
			"f":      "wav",
		}).
		GlobalArgs("-hide_banner", "-loglevel", "error", "-nostdin").
		OverWriteOutput().
		GetArgs()
}

func binOr(bin string) string {
	if strings.TrimSpace(bin) == "" {
		return "ffmpeg"
	}
	return bin
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
