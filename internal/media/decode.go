package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/John-Robertt/vidx/internal/infra/imgx"
	"github.com/John-Robertt/vidx/internal/sampler"
)

// Decoder 按解码顺序逐帧输出视频画面（ffmpeg rawvideo rgb24 管道）。
type Decoder struct {
	Bin    string
	Prober Prober
}

// Open 探测流参数并启动 ffmpeg。每次调用都从头解码。
func (d Decoder) Open(ctx context.Context, video string) (sampler.Source, error) {
	si, err := d.Prober.StreamInfo(ctx, video)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binOr(d.Bin), decodeArgs(video)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动 ffmpeg 失败：%w", err)
	}

	wait := func() error {
		if err := cmd.Wait(); err != nil {
			if s := tail(stderr.Bytes(), 512); s != "" {
				return fmt.Errorf("ffmpeg 解码失败：%w：%s", err, s)
			}
			return fmt.Errorf("ffmpeg 解码失败：%w", err)
		}
		return nil
	}
	kill := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return newFrameReader(stdout, si, wait, kill), nil
}

func decodeArgs(video string) []string {
	return ffmpeg.Input(video).
		Output("pipe:", ffmpeg.KwArgs{
			"map":     "0:v:0",
			"f":       "rawvideo",
			"pix_fmt": "rgb24",
			"vsync":   "0",
		}).
		GlobalArgs("-hide_banner", "-loglevel", "error", "-nostdin").
		GetArgs()
}

// FrameReader 从 rgb24 字节流中切出定长帧。
type FrameReader struct {
	r    io.Reader
	info StreamInfo
	buf  []byte

	wait   func() error
	kill   func()
	done   bool
	waited error
}

var _ sampler.Skipper = (*FrameReader)(nil)

func newFrameReader(r io.Reader, info StreamInfo, wait func() error, kill func()) *FrameReader {
	return &FrameReader{
		r:    r,
		info: info,
		buf:  make([]byte, info.Width*info.Height*3),
		wait: wait,
		kill: kill,
	}
}

func (f *FrameReader) FPS() float64 { return f.info.FPS }

// Next 返回下一帧；流正常结束返回 io.EOF。
// 帧被截断或 ffmpeg 非零退出都视为解码错误。
func (f *FrameReader) Next() (image.Image, error) {
	if err := f.read(); err != nil {
		return nil, err
	}
	return imgx.FromRGB24(f.info.Width, f.info.Height, f.buf)
}

// Skip 消费一帧但不做像素转换，错误语义与 Next 相同。
func (f *FrameReader) Skip() error { return f.read() }

func (f *FrameReader) read() error {
	if f.done {
		return io.EOF
	}
	_, err := io.ReadFull(f.r, f.buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		f.done = true
		if werr := f.finish(); werr != nil {
			return werr
		}
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		f.done = true
		if werr := f.finish(); werr != nil {
			return werr
		}
		return errors.New("视频帧数据被截断")
	default:
		f.done = true
		_ = f.Close()
		return err
	}
}

// Close 终止 ffmpeg（若仍在运行）并回收进程。可重复调用。
func (f *FrameReader) Close() error {
	if f.wait == nil {
		return nil
	}
	if !f.done && f.kill != nil {
		f.kill()
	}
	f.done = true
	_ = f.finish()
	return nil
}

func (f *FrameReader) finish() error {
	if f.wait != nil {
		f.waited = f.wait()
		f.wait = nil
	}
	return f.waited
}
