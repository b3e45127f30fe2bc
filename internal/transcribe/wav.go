package transcribe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// wavLayout 描述一个 RIFF/WAVE 文件中切分所需的部分。
type wavLayout struct {
	format     []byte // "fmt " 块的原始负载，原样写入每个分片
	dataOffset int64
	dataSize   int64
	byteRate   uint32
	blockAlign uint16
}

// readWAVLayout 定位 fmt 与 data 块。只接受 PCM（含 WAVE_FORMAT_EXTENSIBLE）。
func readWAVLayout(r io.ReaderAt, size int64) (wavLayout, error) {
	var hdr [12]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return wavLayout{}, fmt.Errorf("读取 WAV 头失败：%w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return wavLayout{}, errors.New("不是 WAV 文件")
	}

	var l wavLayout
	for pos := int64(12); pos+8 <= size; {
		var ch [8]byte
		if _, err := r.ReadAt(ch[:], pos); err != nil {
			return wavLayout{}, fmt.Errorf("读取 WAV 块失败：%w", err)
		}
		id := string(ch[0:4])
		n := int64(binary.LittleEndian.Uint32(ch[4:8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if n < 16 || body+n > size {
				return wavLayout{}, errors.New("WAV fmt 块无效")
			}
			l.format = make([]byte, n)
			if _, err := r.ReadAt(l.format, body); err != nil {
				return wavLayout{}, fmt.Errorf("读取 WAV fmt 块失败：%w", err)
			}
			tag := binary.LittleEndian.Uint16(l.format[0:2])
			if tag != 1 && tag != 0xFFFE {
				return wavLayout{}, fmt.Errorf("WAV 不是 PCM 编码：format=%#x", tag)
			}
			l.byteRate = binary.LittleEndian.Uint32(l.format[8:12])
			l.blockAlign = binary.LittleEndian.Uint16(l.format[12:14])
		case "data":
			// 流式写出的 WAV 可能把 data 长度留成占位值，以文件实际长度为准。
			l.dataOffset = body
			l.dataSize = min(n, size-body)
		}
		if l.format != nil && l.dataOffset > 0 {
			break
		}
		pos = body + n + n&1
	}

	switch {
	case l.format == nil:
		return wavLayout{}, errors.New("WAV 缺少 fmt 块")
	case l.dataOffset == 0:
		return wavLayout{}, errors.New("WAV 缺少 data 块")
	case l.byteRate == 0 || l.blockAlign == 0:
		return wavLayout{}, errors.New("WAV 采样参数无效")
	}
	return l, nil
}

// headerSize 是分片 WAV 头的字节数。
func (l wavLayout) headerSize() int64 { return 12 + 8 + int64(len(l.format)) + 8 }

// wavChunk 用 l 的格式把一段 PCM 封装为独立的 WAV。
func wavChunk(l wavLayout, pcm []byte) []byte {
	b := make([]byte, 0, l.headerSize()+int64(len(pcm)))
	b = append(b, "RIFF"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(l.headerSize()-8+int64(len(pcm))))
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(l.format)))
	b = append(b, l.format...)
	b = append(b, "data"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(pcm)))
	return append(b, pcm...)
}
