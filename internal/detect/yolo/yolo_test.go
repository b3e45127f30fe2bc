package yolo

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/vidx/internal/detect"
)

func TestPreprocess_CHWAndLetterbox(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			src.SetRGBA(x, y, color.RGBA{255, 0, 0, 255})
		}
	}

	data, lb := Preprocess(src, 32)
	require.Len(t, data, 3*32*32)
	assert.Equal(t, 0.5, lb.Scale)
	assert.Equal(t, 0, lb.PadX)
	assert.Equal(t, 8, lb.PadY)
	assert.Equal(t, 64, lb.SrcW)

	plane := 32 * 32
	// 中心像素来自原图：R=1, G=0。
	center := 16*32 + 16
	assert.InDelta(t, 1.0, data[center], 0.01)
	assert.InDelta(t, 0.0, data[plane+center], 0.01)
	// 顶部填充区：114/255。
	assert.InDelta(t, 114.0/255.0, data[plane+2*32+2], 1e-6)
}

// output 构造一个 [1, 4+C, N] 的扁平张量。
func output(numClasses int, boxes [][4]float32, scores [][]float32) []float32 {
	n := len(boxes)
	rows := 4 + numClasses
	data := make([]float32, rows*n)
	for i, b := range boxes {
		for k := 0; k < 4; k++ {
			data[k*n+i] = b[k]
		}
		for c := 0; c < numClasses; c++ {
			data[(4+c)*n+i] = scores[i][c]
		}
	}
	return data
}

func TestPostprocess_DecodeFilterNMSAndUnpad(t *testing.T) {
	opts := Options{Labels: []string{"cat", "dog"}, ConfThreshold: 0.25, IOUThreshold: 0.45}
	// 原图 64x32 letterbox 到 32：scale=0.5, padY=8。
	lb := Letterbox{Scale: 0.5, PadX: 0, PadY: 8, SrcW: 64, SrcH: 32}

	data := output(2,
		[][4]float32{
			{16, 16, 8, 8},   // dog 0.9
			{16.5, 16, 8, 8}, // dog 0.6，与上一个高度重叠 → 被抑制
			{4, 12, 4, 4},    // cat 0.1 → 低于阈值
			{26, 18, 4, 4},   // cat 0.5
		},
		[][]float32{{0.05, 0.9}, {0.1, 0.6}, {0.1, 0.0}, {0.5, 0.2}},
	)

	objs := Postprocess(data, 6, 4, lb, opts)
	require.Len(t, objs, 2)

	assert.Equal(t, "dog", objs[0].Label)
	assert.Equal(t, float32(0.9), objs[0].Score)
	// 模型坐标 (12,12)-(20,20) → 原图 (24,8)-(40,24)。
	assert.Equal(t, image.Rect(24, 8, 40, 24), objs[0].Box)

	assert.Equal(t, "cat", objs[1].Label)
	assert.Equal(t, []string{"dog", "cat"}, detect.Labels(objs))
}

func TestPostprocess_ClampsAndRejectsBadShapes(t *testing.T) {
	opts := Options{Labels: []string{"x"}, ConfThreshold: 0.1, IOUThreshold: 0.5}
	lb := Letterbox{Scale: 1, SrcW: 10, SrcH: 10}

	data := output(1, [][4]float32{{0, 0, 40, 40}}, [][]float32{{0.9}})
	objs := Postprocess(data, 5, 1, lb, opts)
	require.Len(t, objs, 1)
	assert.Equal(t, image.Rect(0, 0, 10, 10), objs[0].Box)

	assert.Empty(t, Postprocess(data[:3], 5, 1, lb, opts))
	assert.Empty(t, Postprocess(data, 4, 1, lb, opts))
}
