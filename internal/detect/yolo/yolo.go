// Package yolo 用 onnxruntime 运行 YOLOv8 导出的 ONNX 模型。
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/John-Robertt/vidx/internal/detect"
	"github.com/John-Robertt/vidx/internal/infra/imgx"
)

const (
	defaultInputName  = "images"
	defaultOutputName = "output0"
)

// Options 描述模型与推理参数。
type Options struct {
	ModelPath     string
	LibraryPath   string // onnxruntime 共享库；空表示使用绑定库的默认查找路径
	Labels        []string
	InputSize     int
	ConfThreshold float32
	IOUThreshold  float32
	InputName     string
	OutputName    string
}

// Detector 持有一个 ONNX 会话，进程内加载一次、被所有 worker 共享。
type Detector struct {
	session *ort.DynamicAdvancedSession
	opts    Options
}

var (
	envMu   sync.Mutex
	envRefs int
)

// New 初始化 onnxruntime 环境（进程内引用计数）并加载模型。
func New(opts Options) (*Detector, error) {
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("model_path 不能为空")
	}
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("input_size 无效：%d", opts.InputSize)
	}
	if len(opts.Labels) == 0 {
		opts.Labels = detect.COCOLabels
	}
	if opts.InputName == "" {
		opts.InputName = defaultInputName
	}
	if opts.OutputName == "" {
		opts.OutputName = defaultOutputName
	}

	if err := acquireEnv(opts.LibraryPath); err != nil {
		return nil, err
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		releaseEnv()
		return nil, fmt.Errorf("创建 session options 失败：%w", err)
	}
	defer so.Destroy()
	if err := so.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		releaseEnv()
		return nil, fmt.Errorf("设置图优化级别失败：%w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		so,
	)
	if err != nil {
		releaseEnv()
		return nil, fmt.Errorf("加载模型失败：%q：%w", opts.ModelPath, err)
	}
	return &Detector{session: session, opts: opts}, nil
}

func acquireEnv(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if strings.TrimSpace(libPath) != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("初始化 onnxruntime 失败：%w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}

// Close 释放会话；最后一个 Detector 关闭时销毁环境。
func (d *Detector) Close() error {
	if d == nil || d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	releaseEnv()
	return err
}

// Detect 对一张图片推理。推理本身不可中断，ctx 只在开始前检查。
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]detect.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := d.opts.InputSize
	input, lb := Preprocess(img, size)

	in, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), input)
	if err != nil {
		return nil, fmt.Errorf("创建输入张量失败：%w", err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("推理失败：%w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New("输出张量不是 float32")
	}
	shape := out.GetShape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] < 5 {
		return nil, fmt.Errorf("输出形状不符合 [1, 4+C, N]：%v", shape)
	}

	return Postprocess(out.GetData(), int(shape[1]), int(shape[2]), lb, d.opts), nil
}

// Letterbox 记录预处理的缩放与偏移，用于把模型坐标映射回原图。
type Letterbox struct {
	Scale float64
	PadX  int
	PadY  int
	SrcW  int
	SrcH  int
}

// Preprocess 把图片 letterbox 到 size×size，并转为 CHW、RGB、/255 的 float32。
func Preprocess(img image.Image, size int) ([]float32, Letterbox) {
	canvas, scale, padX, padY := imgx.Letterbox(img, size)
	b := img.Bounds()

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			p := row[x*4:]
			data[i] = float32(p[0]) / 255
			data[plane+i] = float32(p[1]) / 255
			data[2*plane+i] = float32(p[2]) / 255
		}
	}
	return data, Letterbox{Scale: scale, PadX: padX, PadY: padY, SrcW: b.Dx(), SrcH: b.Dy()}
}

// Postprocess 解码 [1, 4+C, N] 输出：取每个候选的最高类别分数，
// 过滤 conf，做按类别 NMS，再映射回原图坐标（裁剪到图内）。结果按分数降序。
func Postprocess(data []float32, rows, n int, lb Letterbox, opts Options) []detect.Object {
	numClasses := rows - 4
	if len(data) < rows*n || numClasses <= 0 {
		return []detect.Object{}
	}

	cands := make([]detect.Candidate, 0, 32)
	for i := 0; i < n; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			s := data[(4+c)*n+i]
			if s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < opts.ConfThreshold {
			continue
		}
		cx, cy := data[i], data[n+i]
		w, h := data[2*n+i], data[3*n+i]
		cands = append(cands, detect.Candidate{
			Class: best,
			Score: bestScore,
			X1:    cx - w/2,
			Y1:    cy - h/2,
			X2:    cx + w/2,
			Y2:    cy + h/2,
		})
	}

	kept := detect.NMS(cands, opts.IOUThreshold)
	objs := make([]detect.Object, 0, len(kept))
	for _, c := range kept {
		box := image.Rect(
			unpad(c.X1, lb.PadX, lb.Scale, lb.SrcW),
			unpad(c.Y1, lb.PadY, lb.Scale, lb.SrcH),
			unpad(c.X2, lb.PadX, lb.Scale, lb.SrcW),
			unpad(c.Y2, lb.PadY, lb.Scale, lb.SrcH),
		)
		if box.Empty() {
			continue
		}
		objs = append(objs, detect.Object{
			Label: detect.LabelOf(opts.Labels, c.Class),
			Box:   box,
			Score: c.Score,
		})
	}
	return objs
}

func unpad(v float32, pad int, scale float64, limit int) int {
	if scale <= 0 {
		return 0
	}
	p := int(math.Round((float64(v) - float64(pad)) / scale))
	if p < 0 {
		return 0
	}
	if p > limit {
		return limit
	}
	return p
}
