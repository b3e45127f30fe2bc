package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"

	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/infra/fsx"
)

// ErrNotFound 表示索引文件不存在（尚未构建过）。
var ErrNotFound = errors.New("索引文件不存在")

// MalformedError 表示索引文件存在但内容不符合约定。
//
// Record 为出错记录的下标（-1 表示文档级错误）；Field 为出错字段（可能为空）。
type MalformedError struct {
	Path   string
	Record int
	Field  string
	Err    error
}

func (e *MalformedError) Error() string {
	var b strings.Builder
	b.WriteString("索引文件不合法")
	if e.Path != "" {
		b.WriteString("：")
		b.WriteString(e.Path)
	}
	if e.Record >= 0 {
		fmt.Fprintf(&b, "（第 %d 条记录", e.Record)
		if e.Field != "" {
			b.WriteString("，字段 ")
			b.WriteString(e.Field)
		}
		b.WriteString("）")
	}
	if e.Err != nil {
		b.WriteString("：")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsMalformed 判断 err 链上是否有 *MalformedError。
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// Encode 把记录序列化为索引文档：顶层 JSON 数组，2 空格缩进，末尾换行。
//
// nil 切片一律输出为 []；输入不会被修改。
func Encode(records []domain.VideoRecord) ([]byte, error) {
	out := make([]domain.VideoRecord, len(records))
	for i, r := range records {
		if len(r.DetectedObjects) > 0 {
			r.DetectedObjects = append([]domain.Detection(nil), r.DetectedObjects...)
		}
		r.Normalize()
		out[i] = r
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Save 原子替换 path 处的索引文件（整体替换，不做合并）。
func Save(path string, records []domain.VideoRecord) error {
	b, err := Encode(records)
	if err != nil {
		return fmt.Errorf("序列化索引失败：%w", err)
	}
	if err := fsx.WriteFileAtomicPath(path, b); err != nil {
		return fmt.Errorf("写入索引失败：%s：%w", path, err)
	}
	return nil
}

// Load 读取并校验索引文件。
//
// - 文件不存在：返回 ErrNotFound（可用 errors.Is 判断）
// - 内容非法：返回 *MalformedError，整份索引被拒绝
func Load(path string) ([]domain.VideoRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w：%s", ErrNotFound, path)
		}
		return nil, err
	}
	recs, err := Decode(b)
	if err != nil {
		var me *MalformedError
		if errors.As(err, &me) {
			me.Path = path
		}
		return nil, err
	}
	return recs, nil
}

var requiredFields = []string{"video", "metadata", "transcription", "detected_objects", "frames"}

// Decode 解析并校验索引文档。
//
// 校验规则：
// - 顶层必须是数组（空数组合法）
// - 每条记录必须包含全部字段，数组字段不能为 null
// - video 非空；metadata 两种形态互斥
// - 片段 start <= end；时间必须是有限值
// - 每个检测结果的 time 必须与本记录某个帧的 time 相等
func Decode(b []byte) ([]domain.VideoRecord, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return nil, &MalformedError{Record: -1, Err: err}
	}
	if raws == nil {
		return nil, &MalformedError{Record: -1, Err: errors.New("顶层不能为 null")}
	}

	recs := make([]domain.VideoRecord, 0, len(raws))
	for i, raw := range raws {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, &MalformedError{Record: i, Err: err}
		}
		if fields == nil {
			return nil, &MalformedError{Record: i, Err: errors.New("记录不能为 null")}
		}
		for _, k := range requiredFields {
			v, ok := fields[k]
			if !ok {
				return nil, &MalformedError{Record: i, Field: k, Err: errors.New("缺少字段")}
			}
			if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				return nil, &MalformedError{Record: i, Field: k, Err: errors.New("不能为 null")}
			}
		}

		var r domain.VideoRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, &MalformedError{Record: i, Err: err}
		}
		if err := validate(i, r); err != nil {
			return nil, err
		}
		r.Normalize()
		recs = append(recs, r)
	}
	return recs, nil
}

func validate(i int, r domain.VideoRecord) error {
	bad := func(field, format string, args ...any) error {
		return &MalformedError{Record: i, Field: field, Err: fmt.Errorf(format, args...)}
	}

	if strings.TrimSpace(r.Video) == "" {
		return bad("video", "不能为空")
	}
	for j, s := range r.Transcription {
		if !finite(s.Start) || !finite(s.End) {
			return bad(fmt.Sprintf("transcription[%d]", j), "时间不是有限值")
		}
		if s.Start > s.End {
			return bad(fmt.Sprintf("transcription[%d]", j), "start(%v) > end(%v)", s.Start, s.End)
		}
	}

	times := make(map[float64]struct{}, len(r.Frames))
	for j, f := range r.Frames {
		if strings.TrimSpace(f.Path) == "" {
			return bad(fmt.Sprintf("frames[%d].frame", j), "不能为空")
		}
		if !finite(f.Timestamp) || f.Timestamp < 0 {
			return bad(fmt.Sprintf("frames[%d].time", j), "非法时间：%v", f.Timestamp)
		}
		times[f.Timestamp] = struct{}{}
	}
	for j, d := range r.DetectedObjects {
		if strings.TrimSpace(d.Path) == "" {
			return bad(fmt.Sprintf("detected_objects[%d].frame", j), "不能为空")
		}
		if _, ok := times[d.Timestamp]; !ok {
			return bad(fmt.Sprintf("detected_objects[%d].time", j), "没有对应的采样帧：%v", d.Timestamp)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
