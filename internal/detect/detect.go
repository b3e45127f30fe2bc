// Package detect 定义目标检测结果，以及与具体模型无关的后处理与标注。
package detect

import (
	"fmt"
	"image"
	"sort"

	"github.com/John-Robertt/vidx/internal/infra/imgx"
)

// Object 是一次检测命中：标签、原图像素坐标下的框、置信度。
type Object struct {
	Label string
	Box   image.Rectangle
	Score float32
}

// Labels 按检测顺序返回标签（同类多个目标会重复出现）。
func Labels(objs []Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Label)
	}
	return out
}

// Annotate 在 img 的副本上为每个目标画框与 "label 0.87" 文字。
func Annotate(img image.Image, objs []Object) *image.RGBA {
	labels := make([]imgx.Label, 0, len(objs))
	for _, o := range objs {
		labels = append(labels, imgx.Label{
			Rect: o.Box,
			Text: fmt.Sprintf("%s %.2f", o.Label, o.Score),
		})
	}
	return imgx.Annotate(img, labels)
}

// Candidate 是 NMS 之前的候选框（浮点坐标，任意坐标系）。
type Candidate struct {
	Class int
	Score float32
	X1    float32
	Y1    float32
	X2    float32
	Y2    float32
}

// NMS 做按类别的非极大值抑制：同类中与更高分框 IoU > iouThreshold 的框被丢弃。
// 返回结果按分数降序（分数相同保持输入顺序）。
func NMS(cands []Candidate, iouThreshold float32) []Candidate {
	sorted := append([]Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]Candidate, 0, len(sorted))
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.Class == c.Class && IoU(k, c) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

// IoU 计算两个框的交并比。
func IoU(a, b Candidate) float32 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := area(a) + area(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func area(c Candidate) float32 {
	w, h := c.X2-c.X1, c.Y2-c.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
