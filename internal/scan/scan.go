package scan

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/vidx/internal/domain"
)

// DefaultExtensions 是未配置 extensions 时识别的容器扩展名。
var DefaultExtensions = []string{".mp4"}

// ScanVideos 列出 root 目录（不递归）下扩展名命中 exts 的普通文件。
//
// 规则：
// - 只看 root 本层；子目录（包括工作目录 .vidx）一律忽略
// - 扩展名大小写不敏感；exts 为空时使用 DefaultExtensions
// - 输出顺序即 os.ReadDir 的顺序（按文件名排序）
//
// 扫描阶段只做 stat（DirEntry.Info），不读文件内容。
func ScanVideos(root string, exts []string) ([]domain.VideoFile, error) {
	root = filepath.Clean(root)
	allowed := normalizeExts(exts)

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	files := make([]domain.VideoFile, 0, len(entries))
	for _, d := range entries {
		if d.IsDir() {
			continue
		}
		name := d.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := allowed[ext]; !ok {
			continue
		}

		info, err := d.Info()
		if err != nil {
			return nil, err
		}
		// 符号链接、设备文件等不处理。
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, domain.VideoFile{
			AbsPath: filepath.Join(root, name),
			RelPath: name,
			Base:    strings.TrimSuffix(name, filepath.Ext(name)),
			Ext:     ext,
			Size:    info.Size(),
			ModUnix: info.ModTime().Unix(),
		})
	}
	return files, nil
}

func normalizeExts(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = struct{}{}
	}
	return out
}
