package domain

import (
	"encoding/json"
	"time"
)

const (
	StatusIndexed = "indexed"
	StatusFailed  = "failed"
	StatusPlanned = "planned"
)

const (
	ErrCodeAudioFailed       = "audio_extraction_failed"
	ErrCodeDecodeFailed      = "decode_failed"
	ErrCodeTranscribeFailed  = "transcribe_failed"
	ErrCodeDetectFailed      = "detect_failed"
	ErrCodeTimeout           = "timeout"
	ErrCodeCanceled          = "canceled"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeIndexNotFound     = "index_not_found"
	ErrCodeIndexInvalid      = "index_invalid"
	ErrCodeInvalidQuery      = "invalid_query"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// BuildReport 是一次索引构建对外稳定输出（report.json / stdout JSON）的结构。
type BuildReport struct {
	RunID     string `json:"run_id"`
	SourceDir string `json:"source_dir"`
	IndexPath string `json:"index_path"`
	DryRun    bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
	Planned int `json:"planned"`
}

type ItemResult struct {
	Video string `json:"video"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Frames     int `json:"frames"`
	Segments   int `json:"segments"`
	Detections int `json:"detections"`
}

// Finalize 做两件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) summary 由 items 计算得出
//
// items 不重排：顺序即扫描顺序（合成的失败条目追加在末尾）。
func (r *BuildReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Items == nil {
		r.Items = []ItemResult{}
	}

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusIndexed:
			s.Indexed++
		case StatusFailed:
			s.Failed++
		case StatusPlanned:
			s.Planned++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r BuildReport) MarshalJSON() ([]byte, error) {
	type Alias BuildReport
	return json.Marshal(Alias(r))
}
