// Package media 通过 ffmpeg/ffprobe 提供元数据探测、音频抽取与逐帧解码。
//
// 参数由 ffmpeg-go 构造；进程统一用 exec.CommandContext 执行，使 per-video 超时能杀掉子进程。
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/John-Robertt/vidx/internal/domain"
)

const defaultProbeTimeout = 30 * time.Second

// 测试替换点：返回 ffprobe -show_format -show_streams -of json 的输出。
var probeFunc = func(file string, timeout time.Duration) (string, error) {
	return ffmpeg.ProbeWithTimeout(file, timeout, ffmpeg.KwArgs{})
}

// StreamInfo 是解码器需要的首个视频流参数。
// 宽高是 ffmpeg 输出帧的尺寸，即已按旋转元数据对调后的值。
type StreamInfo struct {
	Width  int
	Height int
	FPS    float64
}

// Prober 封装 ffprobe。零值可用。
type Prober struct {
	Timeout time.Duration
}

// Probe 返回容器级元数据。永不返回错误：任何失败都折叠为 Metadata 的 error 形态。
func (p Prober) Probe(ctx context.Context, video string) domain.Metadata {
	out, err := p.run(ctx, video)
	if err != nil {
		return domain.MetadataError(err.Error())
	}
	md, _, err := parseProbe(out)
	if err != nil {
		return domain.MetadataError(err.Error())
	}
	return md
}

// StreamInfo 返回首个视频流的宽高与帧率；帧率不可用时返回错误。
func (p Prober) StreamInfo(ctx context.Context, video string) (StreamInfo, error) {
	out, err := p.run(ctx, video)
	if err != nil {
		return StreamInfo{}, err
	}
	_, si, err := parseProbe(out)
	if err != nil && si.FPS == 0 {
		return StreamInfo{}, err
	}
	if si.Width <= 0 || si.Height <= 0 {
		return StreamInfo{}, fmt.Errorf("视频流尺寸无效：%dx%d", si.Width, si.Height)
	}
	if si.FPS <= 0 || math.IsNaN(si.FPS) || math.IsInf(si.FPS, 0) {
		return StreamInfo{}, errors.New("视频流帧率不可用")
	}
	return si, nil
}

func (p Prober) run(ctx context.Context, video string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	// ffmpeg-go 的 probe 只接受超时；用 ctx 剩余时间收紧它。
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return "", context.DeadlineExceeded
	}
	out, err := probeFunc(video, timeout)
	if err != nil {
		return "", fmt.Errorf("ffprobe 失败：%w", err)
	}
	return out, nil
}

type probeOutput struct {
	Streams []struct {
		CodecType    string     `json:"codec_type"`
		CodecName    string     `json:"codec_name"`
		Width        int        `json:"width"`
		Height       int        `json:"height"`
		AvgFrameRate string     `json:"avg_frame_rate"`
		RFrameRate   string     `json:"r_frame_rate"`
		Duration     string     `json:"duration"`
		BitRate      string     `json:"bit_rate"`
		Tags         streamTags `json:"tags"`
		SideDataList []sideData `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

type streamTags struct {
	Rotate string `json:"rotate"`
}

type sideData struct {
	Rotation *float64 `json:"rotation"`
}

// parseProbe 从 ffprobe JSON 中提取元数据与首个视频流参数。
//
// 元数据规则：
// - 必须有视频流
// - duration：format 优先，其次视频流
// - bitrate：format 优先，其次视频流；两者都没有视为失败
//
// 即使元数据不完整，只要视频流参数可用也会返回 StreamInfo（解码不依赖 bitrate）。
func parseProbe(s string) (domain.Metadata, StreamInfo, error) {
	var po probeOutput
	if err := json.Unmarshal([]byte(s), &po); err != nil {
		return domain.Metadata{}, StreamInfo{}, fmt.Errorf("ffprobe 输出无法解析：%w", err)
	}

	idx := -1
	for i, st := range po.Streams {
		if st.CodecType == "video" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Metadata{}, StreamInfo{}, errors.New("没有视频流")
	}
	vs := po.Streams[idx]

	fps := parseRate(vs.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(vs.RFrameRate)
	}
	si := StreamInfo{Width: vs.Width, Height: vs.Height, FPS: fps}
	// ffmpeg 默认按旋转元数据自动旋转输出，rawvideo 帧的宽高随之对调。
	if quarterTurn(streamRotation(vs.Tags.Rotate, vs.SideDataList)) {
		si.Width, si.Height = si.Height, si.Width
	}

	duration, ok := parseFloat(po.Format.Duration)
	if !ok {
		duration, ok = parseFloat(vs.Duration)
	}
	if !ok {
		return domain.Metadata{}, si, errors.New("缺少 duration")
	}

	bitrate, ok := parseInt(po.Format.BitRate)
	if !ok {
		bitrate, ok = parseInt(vs.BitRate)
	}
	if !ok {
		return domain.Metadata{}, si, errors.New("缺少 bit_rate")
	}

	return domain.Metadata{
		Duration: duration,
		Width:    vs.Width,
		Height:   vs.Height,
		Codec:    vs.CodecName,
		Bitrate:  bitrate,
	}, si, nil
}

// streamRotation 返回视频流的旋转角度（度）。display matrix 优先，其次旧式 rotate 标签。
func streamRotation(tag string, list []sideData) float64 {
	for _, sd := range list {
		if sd.Rotation != nil {
			return *sd.Rotation
		}
	}
	if r, ok := parseFloat(tag); ok {
		return r
	}
	return 0
}

// quarterTurn 报告角度是否为 90 的奇数倍。
func quarterTurn(deg float64) bool {
	r := int(math.Round(deg))
	return r%90 == 0 && (r/90)%2 != 0
}

// parseRate 解析 "30000/1001" 或 "25" 形式的帧率；无效时返回 0。
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, hasDen := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !hasDen {
		return finiteOrZero(n)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return finiteOrZero(n / d)
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
