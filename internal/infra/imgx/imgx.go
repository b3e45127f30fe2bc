package imgx

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器（输入不一定总是 jpeg）
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// JPEGQuality 是帧图片的编码质量：不需要太“讲究”，但要稳定可用。
const JPEGQuality = 90

// LetterboxPad 是 letterbox 填充色（YOLO 系列约定的灰色 114）。
var LetterboxPad = color.RGBA{114, 114, 114, 255}

var boxColor = color.RGBA{0, 255, 0, 255}

// Label 是一个需要画在图上的框 + 文字。
type Label struct {
	Rect image.Rectangle
	Text string
}

// FromRGB24 把紧凑排列的 rgb24 像素（ffmpeg -pix_fmt rgb24）转换为 *image.RGBA。
func FromRGB24(w, h int, pix []byte) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.New("图片尺寸无效")
	}
	if len(pix) != w*h*3 {
		return nil, fmt.Errorf("rgb24 数据长度不匹配：期望 %d，实际 %d", w*h*3, len(pix))
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(pix); i, j = i+3, j+4 {
		img.Pix[j] = pix[i]
		img.Pix[j+1] = pix[i+1]
		img.Pix[j+2] = pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// EncodeJPEG 以 JPEGQuality 编码图片。
func EncodeJPEG(img image.Image) ([]byte, error) {
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeFile 读取并解码一张 JPEG/PNG 图片。
func DecodeFile(path string) (image.Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, errors.New("图片为空")
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	b2 := img.Bounds()
	if b2.Dx() <= 0 || b2.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}
	return img, nil
}

// Letterbox 等比缩放 src 到 size×size 的画布中央，其余区域用 LetterboxPad 填充。
//
// 返回缩放比例与左上角偏移，用于把模型坐标映射回原图：
// x_src = (x_model - padX) / scale。
func Letterbox(src image.Image, size int) (dst *image.RGBA, scale float64, padX, padY int) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	scale = float64(size) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	padX = (size - nw) / 2
	padY = (size - nh) / 2

	dst = image.NewRGBA(image.Rect(0, 0, size, size))
	stddraw.Draw(dst, dst.Bounds(), &image.Uniform{C: LetterboxPad}, image.Point{}, stddraw.Src)
	draw.ApproxBiLinear.Scale(dst, image.Rect(padX, padY, padX+nw, padY+nh), src, b, draw.Src, nil)
	return dst, scale, padX, padY
}

// Annotate 复制 src，并为每个 Label 画 2px 绿色矩形框与左上角文字。
func Annotate(src image.Image, labels []Label) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(dst, dst.Bounds(), src, b.Min, stddraw.Src)

	face := basicfont.Face7x13
	for _, l := range labels {
		r := l.Rect.Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		strokeRect(dst, r, 2, boxColor)

		// 文字放在框上沿之上；贴顶时放进框内。
		y := r.Min.Y - 4
		if y-face.Ascent < 0 {
			y = r.Min.Y + face.Ascent + 2
		}
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(boxColor),
			Face: face,
			Dot:  fixed.P(r.Min.X+2, y),
		}
		d.DrawString(l.Text)
	}
	return dst
}

func strokeRect(dst *image.RGBA, r image.Rectangle, thickness int, c color.Color) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		stddraw.Draw(dst, e.Intersect(r), u, image.Point{}, stddraw.Src)
	}
}
