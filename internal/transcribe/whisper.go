// Package transcribe 把音频转写为带时间戳的文本段。
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/John-Robertt/vidx/internal/domain"
)

// MaxUploadBytes 是 /audio/transcriptions 单次上传的文件大小上限（25 MB）。
const MaxUploadBytes = 25_000_000

// Options 是 Whisper 适配器的配置。
type Options struct {
	Model    string
	BaseURL  string // 空表示官方端点
	APIKey   string
	Language string // 空表示自动识别

	// MaxUploadBytes 为 0 时使用包级 MaxUploadBytes。
	MaxUploadBytes int64
}

// Whisper 通过 OpenAI 兼容的 /audio/transcriptions 接口转写音频。
// 可被多个 worker 并发使用。
type Whisper struct {
	cli       *openai.Client
	model     string
	lang      string
	maxUpload int64
}

// NewWhisper 构造适配器。httpClient 为 nil 时使用 http.DefaultClient。
func NewWhisper(opts Options, httpClient *http.Client) *Whisper {
	cfg := openai.DefaultConfig(opts.APIKey)
	if u := strings.TrimSpace(opts.BaseURL); u != "" {
		cfg.BaseURL = strings.TrimRight(u, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.Whisper1
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = MaxUploadBytes
	}
	return &Whisper{
		cli:       openai.NewClientWithConfig(cfg),
		model:     model,
		lang:      strings.TrimSpace(opts.Language),
		maxUpload: maxUpload,
	}
}

// CacheSalt 标识会影响转写结果的参数，用作转写缓存键的一部分。
func (w *Whisper) CacheSalt() string {
	return w.model + "|" + w.lang
}

// Transcribe 请求 verbose_json 并映射为 TranscriptSegment。
//
// - 段文本去掉首尾空白；空文本段丢弃
// - 服务端只返回整段文本（无 segments）时，输出一个 [0, duration] 段
// - 无语音时返回空切片（不是错误）
// - 超过上传上限的 PCM WAV 按时长切片逐个上传，段时间加上分片起点
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) ([]domain.TranscriptSegment, error) {
	fi, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("读取音频失败：%w", err)
	}
	if fi.Size() <= w.maxUpload {
		return w.request(ctx, openai.AudioRequest{FilePath: audioPath}, 0)
	}
	return w.transcribeChunked(ctx, audioPath, fi.Size())
}

func (w *Whisper) transcribeChunked(ctx context.Context, audioPath string, size int64) ([]domain.TranscriptSegment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("读取音频失败：%w", err)
	}
	defer f.Close()

	l, err := readWAVLayout(f, size)
	if err != nil {
		return nil, fmt.Errorf("音频 %d 字节超过上传上限 %d 且无法切分：%w", size, w.maxUpload, err)
	}
	step := (w.maxUpload - l.headerSize()) / int64(l.blockAlign) * int64(l.blockAlign)
	if step <= 0 {
		return nil, fmt.Errorf("上传上限 %d 不足以容纳一个音频块", w.maxUpload)
	}

	name := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	pcm := make([]byte, step)
	segs := make([]domain.TranscriptSegment, 0)
	for i, off := 0, int64(0); off < l.dataSize; i, off = i+1, off+step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(step, l.dataSize-off)
		if _, err := f.ReadAt(pcm[:n], l.dataOffset+off); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("读取音频失败：%w", err)
		}
		part, err := w.request(ctx, openai.AudioRequest{
			FilePath: fmt.Sprintf("%s.part%d.wav", name, i),
			Reader:   bytes.NewReader(wavChunk(l, pcm[:n])),
		}, float64(off)/float64(l.byteRate))
		if err != nil {
			return nil, fmt.Errorf("第 %d 个音频分片：%w", i, err)
		}
		segs = append(segs, part...)
	}
	return segs, nil
}

// request 发送一次转写请求；shift 加到返回的每个时间上。
func (w *Whisper) request(ctx context.Context, req openai.AudioRequest, shift float64) ([]domain.TranscriptSegment, error) {
	req.Model = w.model
	req.Format = openai.AudioResponseFormatVerboseJSON
	req.Language = w.lang
	resp, err := w.cli.CreateTranscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("whisper 转写失败：%w", err)
	}

	segs := make([]domain.TranscriptSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if s.End < s.Start {
			return nil, fmt.Errorf("whisper 返回了非法时间段：start=%v end=%v", s.Start, s.End)
		}
		segs = append(segs, domain.TranscriptSegment{Start: s.Start + shift, End: s.End + shift, Text: text})
	}
	if len(resp.Segments) == 0 {
		if text := strings.TrimSpace(resp.Text); text != "" {
			if resp.Duration < 0 {
				return nil, errors.New("whisper 返回了非法时长")
			}
			segs = append(segs, domain.TranscriptSegment{Start: shift, End: shift + resp.Duration, Text: text})
		}
	}
	return segs, nil
}
