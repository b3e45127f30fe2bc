package search

import (
	"errors"
	"math"
	"strings"

	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/index"
)

// ErrInvalidQuery 表示关键词为空（去除首尾空白后）。
var ErrInvalidQuery = errors.New("关键词不能为空")

// Result 是一次检索的完整输出（顺序见 Search）。
type Result struct {
	Keyword string
	Matches []domain.SearchMatch
}

// Engine 在一份持久化索引上做关键词检索。每次 Search 都重新读取索引文件。
type Engine struct {
	IndexPath string
}

func New(indexPath string) *Engine {
	return &Engine{IndexPath: indexPath}
}

// Search 返回关键词在所有视频中的命中。
//
// - 关键词非法时不读取索引，直接返回 ErrInvalidQuery
// - 索引缺失/非法时返回空结果与 index.ErrNotFound / *index.MalformedError
// - 结果顺序：视频顺序；同一视频内先 text（片段顺序）后 object（检测顺序）
//
// 首尾空白只用于判断关键词是否为空，匹配时原样使用（" dog" 不匹配 "hotdog"）。
func (e *Engine) Search(keyword string) (Result, error) {
	res := Result{Keyword: keyword, Matches: []domain.SearchMatch{}}
	if strings.TrimSpace(keyword) == "" {
		return res, ErrInvalidQuery
	}

	recs, err := index.Load(e.IndexPath)
	if err != nil {
		return res, err
	}
	res.Matches = Match(recs, keyword)
	return res, nil
}

// Match 是检索的纯函数部分：kw 需非空白，按原样匹配。
func Match(recs []domain.VideoRecord, kw string) []domain.SearchMatch {
	out := []domain.SearchMatch{}
	lower := strings.ToLower(kw)
	for _, r := range recs {
		// text：子串匹配（忽略大小写），时间取片段中点。
		for _, s := range r.Transcription {
			if !strings.Contains(strings.ToLower(s.Text), lower) {
				continue
			}
			t := (s.Start + s.End) / 2
			out = append(out, domain.TextMatch(r.Video, t, s.Text, NearestFrame(r.Frames, t)))
		}
		// object：标签完全相等（忽略大小写）；一个检测结果最多产生一条。
		for _, d := range r.DetectedObjects {
			if hasLabel(d.Objects, kw) {
				out = append(out, domain.ObjectMatch(r.Video, d))
			}
		}
	}
	return out
}

// NearestFrame 返回与 t 距离最小的帧路径；距离相同时取帧顺序中靠前的。无帧时返回空串。
func NearestFrame(frames []domain.Frame, t float64) string {
	best := -1
	bestDist := math.Inf(1)
	for i, f := range frames {
		if d := math.Abs(f.Timestamp - t); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return ""
	}
	return frames[best].Path
}

func hasLabel(labels []string, kw string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, kw) {
			return true
		}
	}
	return false
}
