package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/infra/fsx"
)

// Store 提供 <cache_dir>/ 下的文件缓存读写。
//
// 约束：
// - dry-run / no_cache：只允许读（ReadOnly=true），写入返回 ErrReadOnly
// - 缓存条目损坏视为未命中，不报错（下一次写入会覆盖）
type Store struct {
	Root     string // <cache_dir>
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// Key 由视频指纹（相对路径、大小、mtime）与 salt（例如转写模型+语言）计算缓存键。
// 视频被替换或转写参数变化时键随之变化，旧条目自然失效。
func Key(f domain.VideoFile, salt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s", f.RelPath, f.Size, f.ModUnix, salt)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// TranscriptPath 返回转写缓存的绝对路径。
func (s Store) TranscriptPath(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, "transcripts", k+".json"), nil
}

// ReadTranscript 读取转写缓存。未命中或条目损坏时 ok=false。
func (s Store) ReadTranscript(key string) (segs []domain.TranscriptSegment, ok bool, err error) {
	path, err := s.TranscriptPath(key)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := json.Unmarshal(b, &segs); err != nil {
		return nil, false, nil
	}
	if segs == nil {
		// "null" 或其它非数组内容不算有效缓存。
		return nil, false, nil
	}
	for _, sg := range segs {
		if sg.Start > sg.End {
			return nil, false, nil
		}
	}
	return segs, true, nil
}

func (s Store) WriteTranscript(key string, segs []domain.TranscriptSegment) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if segs == nil {
		segs = []domain.TranscriptSegment{}
	}
	b, err := json.Marshal(segs)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(filepath.Join(s.Root, "transcripts"), k+".json", b)
}

var keyRE = regexp.MustCompile(`^[a-f0-9]{8,64}$`)

func cleanKey(k string) (string, error) {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return "", fmt.Errorf("cache key 不能为空")
	}
	// 最小约束：避免路径穿越。
	if !keyRE.MatchString(k) {
		return "", fmt.Errorf("非法 cache key：%q", k)
	}
	return k, nil
}
