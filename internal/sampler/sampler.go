// Package sampler 把连续的视频解码流离散为按固定步长保留的时间戳帧。
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"path/filepath"

	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/infra/fsx"
	"github.com/John-Robertt/vidx/internal/infra/imgx"
)

// Source 是一次顺序解码会话。
type Source interface {
	// FPS 是流的帧率，用于把解码序号换算为秒。
	FPS() float64
	// Next 返回下一帧；流结束时返回 io.EOF。
	Next() (image.Image, error)
	Close() error
}

// Skipper 是 Source 的可选能力：消费一帧但不构造图像。
// 未保留的帧走这条路径。流结束时返回 io.EOF。
type Skipper interface {
	Skip() error
}

// Opener 为一个视频打开新的解码会话。
type Opener interface {
	Open(ctx context.Context, video string) (Source, error)
}

// DecodeError 表示视频无法按帧解码（打不开、帧率不可用、中途出错或步长非法）。
// 对该视频是致命错误。
type DecodeError struct {
	Video string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("视频解码失败：%q：%v", e.Video, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FrameName 返回第 k 个保留帧的文件名。
func FrameName(k int) string { return fmt.Sprintf("frame_%d.jpg", k) }

// Sample 从头解码 video，保留解码序号 n 满足 n%interval==0 的帧，
// 以 frame_<k>.jpg 写入 outDir，并返回 (路径, n/fps) 列表。
//
// outDir 在解码前被清空。ctx 在帧与帧之间检查；取消时返回 ctx.Err()。
func Sample(ctx context.Context, opener Opener, video string, interval int, outDir string) ([]domain.Frame, error) {
	if interval < 1 {
		return nil, &DecodeError{Video: video, Err: fmt.Errorf("采样步长必须为正整数，实际是 %d", interval)}
	}

	src, err := opener.Open(ctx, video)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &DecodeError{Video: video, Err: err}
	}
	defer src.Close()

	fps := src.FPS()
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return nil, &DecodeError{Video: video, Err: errors.New("帧率不可用")}
	}

	if err := fsx.ResetDir(outDir); err != nil {
		return nil, fmt.Errorf("准备帧目录失败：%w", err)
	}

	skipper, _ := src.(Skipper)
	frames := make([]domain.Frame, 0, 64)
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		keep := n%interval == 0
		var img image.Image
		if !keep && skipper != nil {
			err = skipper.Skip()
		} else {
			img, err = src.Next()
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &DecodeError{Video: video, Err: err}
		}
		if !keep {
			continue
		}

		b, err := imgx.EncodeJPEG(img)
		if err != nil {
			return nil, fmt.Errorf("编码帧失败：%w", err)
		}
		name := FrameName(len(frames))
		if err := fsx.WriteFileAtomic(outDir, name, b); err != nil {
			return nil, fmt.Errorf("写入帧失败：%w", err)
		}
		frames = append(frames, domain.Frame{
			Path:      filepath.Join(outDir, name),
			Timestamp: float64(n) / fps,
		})
	}
	return frames, nil
}
