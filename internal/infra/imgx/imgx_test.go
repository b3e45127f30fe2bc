package imgx

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestFromRGB24_PixelsAndLength(t *testing.T) {
	// 2x1：红、蓝。
	img, err := FromRGB24(2, 1, []byte{255, 0, 0, 0, 0, 255})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{255, 0, 0, 255}) {
		t.Fatalf("像素(0,0)不正确：%v", got)
	}
	if got := img.RGBAAt(1, 0); got != (color.RGBA{0, 0, 255, 255}) {
		t.Fatalf("像素(1,0)不正确：%v", got)
	}

	if _, err := FromRGB24(2, 2, []byte{1, 2, 3}); err == nil {
		t.Fatalf("长度不匹配时期望错误")
	}
}

func TestEncodeJPEG_DecodeFileRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	b, err := EncodeJPEG(src)
	if err != nil {
		t.Fatalf("EncodeJPEG 失败：%v", err)
	}
	p := filepath.Join(t.TempDir(), "frame_0.jpg")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}

	img, err := DecodeFile(p)
	if err != nil {
		t.Fatalf("DecodeFile 失败：%v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 32 {
		t.Fatalf("尺寸不正确：%v", img.Bounds())
	}
}

func TestDecodeFile_CorruptOrMissing(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(p, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	if _, err := DecodeFile(p); err == nil {
		t.Fatalf("损坏图片期望错误")
	}
	if _, err := DecodeFile(filepath.Join(dir, "nope.jpg")); err == nil {
		t.Fatalf("不存在的图片期望错误")
	}
}

func TestLetterbox_WideImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	dst, scale, padX, padY := Letterbox(src, 64)

	if dst.Bounds().Dx() != 64 || dst.Bounds().Dy() != 64 {
		t.Fatalf("画布尺寸不正确：%v", dst.Bounds())
	}
	if scale != 0.32 {
		t.Fatalf("scale 不正确：%v", scale)
	}
	if padX != 0 || padY != 16 {
		t.Fatalf("偏移不正确：padX=%d padY=%d", padX, padY)
	}
	// 顶部填充区是灰色 114。
	if got := dst.RGBAAt(10, 2); got != LetterboxPad {
		t.Fatalf("填充色不正确：%v", got)
	}
}

func TestAnnotate_DrawsBoxAndKeepsSource(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	out := Annotate(src, []Label{{Rect: image.Rect(20, 30, 80, 90), Text: "dog"}})

	if got := out.RGBAAt(20, 60); got != boxColor {
		t.Fatalf("左边框应为绿色：%v", got)
	}
	if got := out.RGBAAt(50, 60); got == boxColor {
		t.Fatalf("框内部不应被填充")
	}
	if got := src.RGBAAt(20, 60); got == boxColor {
		t.Fatalf("不应修改原图")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, nil); err != nil {
		t.Fatalf("标注结果应可编码：%v", err)
	}
}
