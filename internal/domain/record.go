package domain

import (
	"bytes"
	"encoding/json"
	"errors"
)

// VideoRecord 是单个视频的完整索引结果，也是索引文件中的持久化单元。
//
// 由 indexer 一次性构造，之后不再修改；重建索引时整体替换。
// 切片字段在序列化时永远是数组（不会是 null）。
type VideoRecord struct {
	Video           string              `json:"video"`
	Metadata        Metadata            `json:"metadata"`
	Transcription   []TranscriptSegment `json:"transcription"`
	DetectedObjects []Detection         `json:"detected_objects"`
	Frames          []Frame             `json:"frames"`
}

// TranscriptSegment 是转写协作方给出的一段语音文本（秒）。
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Frame 是一次采样保留下来的帧；Timestamp = 解码序号 / fps。
type Frame struct {
	Path      string  `json:"frame"`
	Timestamp float64 `json:"time"`
}

// Detection 是某个采样帧上的检测结果。
// Path 指向标注后的图片；Timestamp 与其来源 Frame 相同。
type Detection struct {
	Path      string   `json:"frame"`
	Objects   []string `json:"objects"`
	Timestamp float64  `json:"time"`
}

// Metadata 是容器级元数据；探测失败时只有 Error 有值。
// 两种形态在 JSON 上互斥：{duration,width,height,codec,bitrate} 或 {error}。
type Metadata struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	Bitrate  int64

	Error string
}

// Failed 报告元数据是否为错误形态。
func (m Metadata) Failed() bool { return m.Error != "" }

// MetadataError 构造错误形态的元数据。
func MetadataError(msg string) Metadata {
	if msg == "" {
		msg = "unknown probe error"
	}
	return Metadata{Error: msg}
}

type metadataOK struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Codec    string  `json:"codec"`
	Bitrate  int64   `json:"bitrate"`
}

type metadataErr struct {
	Error string `json:"error"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	if m.Failed() {
		return json.Marshal(metadataErr{Error: m.Error})
	}
	return json.Marshal(metadataOK{
		Duration: m.Duration,
		Width:    m.Width,
		Height:   m.Height,
		Codec:    m.Codec,
		Bitrate:  m.Bitrate,
	})
}

// UnmarshalJSON 严格区分两种形态：同时含 error 与正常字段、或两者皆无，都视为非法。
func (m *Metadata) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return errors.New("metadata 不能为 null")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if _, ok := raw["error"]; ok {
		if len(raw) != 1 {
			return errors.New("metadata 同时包含 error 与正常字段")
		}
		var me metadataErr
		if err := json.Unmarshal(b, &me); err != nil {
			return err
		}
		if me.Error == "" {
			return errors.New("metadata.error 不能为空")
		}
		*m = Metadata{Error: me.Error}
		return nil
	}
	if _, ok := raw["duration"]; !ok {
		return errors.New("metadata 缺少 duration")
	}
	var v metadataOK
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Metadata{
		Duration: v.Duration,
		Width:    v.Width,
		Height:   v.Height,
		Codec:    v.Codec,
		Bitrate:  v.Bitrate,
	}
	return nil
}

// Normalize 把 nil 切片替换为空切片，保证序列化稳定（[] 而不是 null）。
func (r *VideoRecord) Normalize() {
	if r.Transcription == nil {
		r.Transcription = []TranscriptSegment{}
	}
	if r.DetectedObjects == nil {
		r.DetectedObjects = []Detection{}
	}
	for i := range r.DetectedObjects {
		if r.DetectedObjects[i].Objects == nil {
			r.DetectedObjects[i].Objects = []string{}
		}
	}
	if r.Frames == nil {
		r.Frames = []Frame{}
	}
}
