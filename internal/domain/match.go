package domain

// MatchKind 区分检索结果的模态。
type MatchKind string

const (
	MatchText   MatchKind = "text"
	MatchObject MatchKind = "object"
)

// SearchMatch 是一次检索输出的单元（按 Kind 区分的 tagged union）。
//
//   - text：Video/Time/Text 必有；Frame 为最近采样帧，视频无帧时为空
//   - object：Video/Frame/Objects/Time 必有；Frame 即检测结果自身的（标注）帧
type SearchMatch struct {
	Kind    MatchKind `json:"type"`
	Video   string    `json:"video"`
	Time    float64   `json:"time"`
	Text    string    `json:"text,omitempty"`
	Frame   string    `json:"frame,omitempty"`
	Objects []string  `json:"objects,omitempty"`
}

// TextMatch 构造 text 变体；nearest 为空表示没有可对齐的帧。
func TextMatch(video string, t float64, text, nearest string) SearchMatch {
	return SearchMatch{Kind: MatchText, Video: video, Time: t, Text: text, Frame: nearest}
}

// ObjectMatch 构造 object 变体（objects 会被复制，避免与索引共享底层数组）。
func ObjectMatch(video string, d Detection) SearchMatch {
	return SearchMatch{
		Kind:    MatchObject,
		Video:   video,
		Time:    d.Timestamp,
		Frame:   d.Path,
		Objects: append([]string{}, d.Objects...),
	}
}

const (
	SearchOK           = "ok"
	SearchNoMatches    = "no_matches"
	SearchNoIndex      = "no_index"
	SearchIndexInvalid = "index_invalid"
	SearchInvalidQuery = "invalid_query"
)

// SearchReport 是 search 命令在非 TTY 下输出的唯一 JSON 文档。
type SearchReport struct {
	Keyword   string        `json:"keyword"`
	Status    string        `json:"status"`
	Matches   []SearchMatch `json:"matches"`
	ErrorCode string        `json:"error_code"`
	ErrorMsg  string        `json:"error_msg"`
}
