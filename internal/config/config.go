package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName 是配置文件的固定文件名。
const FileName = "vidx.json"

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 vidx.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 source_dir 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	DefaultFrameInterval = 30
	DefaultConcurrency   = 1
	MaxConcurrency       = 32
	DefaultVideoTimeout  = 30 * time.Minute
	DefaultLogLevel      = "info"
	// DefaultWorkDirName 是 work_dir 未配置时在 source_dir 下使用的目录名。
	DefaultWorkDirName = ".vidx"

	DefaultTranscriberModel   = "whisper-1"
	DefaultTranscriberTimeout = 10 * time.Minute

	DefaultDetectorInputSize = 640
	DefaultConfThreshold     = 0.25
	DefaultIOUThreshold      = 0.45
)

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --concurrency 1 必须能覆盖 config.concurrency=8。
type CLIArgs struct {
	Path string

	Concurrency    int
	ConcurrencySet bool

	Interval    int
	IntervalSet bool

	DryRun bool

	// IndexPath 来自 search --index。
	IndexPath string
}

// FileConfig 对应 vidx.json 的解析结构。零值字段表示“未指定”；
// 零值本身有意义的字段用指针区分“未指定”与“显式给出”。
type FileConfig struct {
	SourceDir         string   `json:"source_dir"`
	WorkDir           string   `json:"work_dir"`
	FramesDir         string   `json:"frames_dir"`
	DetectedFramesDir string   `json:"detected_frames_dir"`
	AudioDir          string   `json:"audio_dir"`
	IndexPath         string   `json:"index_path"`
	CacheDir          string   `json:"cache_dir"`
	FrameInterval     *int     `json:"frame_interval"`
	Concurrency       int      `json:"concurrency"`
	VideoTimeout      string   `json:"video_timeout"`
	Extensions        []string `json:"extensions"`
	NoCache           *bool    `json:"no_cache"`
	LogLevel          string   `json:"log_level"`
	MetricsAddr       string   `json:"metrics_addr"`

	Transcriber TranscriberFileConfig `json:"transcriber"`
	Detector    DetectorFileConfig    `json:"detector"`
}

type TranscriberFileConfig struct {
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	Language string `json:"language"`
	ProxyURL string `json:"proxy_url"`
	Timeout  string `json:"timeout"`
}

type DetectorFileConfig struct {
	ModelPath     string  `json:"model_path"`
	LabelsPath    string  `json:"labels_path"`
	LibraryPath   string  `json:"library_path"`
	InputSize     int     `json:"input_size"`
	ConfThreshold float32 `json:"conf_threshold"`
	IOUThreshold  float32 `json:"iou_threshold"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
// 所有路径均为绝对路径。
type EffectiveConfig struct {
	// ConfigPath 是参与合并的配置文件路径（可能并不存在）。
	ConfigPath string

	SourceDir         string
	WorkDir           string
	FramesDir         string
	DetectedFramesDir string
	AudioDir          string
	IndexPath         string
	CacheDir          string

	FrameInterval int
	Concurrency   int
	VideoTimeout  time.Duration
	Extensions    []string
	NoCache       bool
	DryRun        bool

	LogLevel    string
	MetricsAddr string

	Transcriber TranscriberConfig
	Detector    DetectorConfig
}

type TranscriberConfig struct {
	Model    string
	BaseURL  string
	APIKey   string
	Language string
	ProxyURL string
	Timeout  time.Duration
}

type DetectorConfig struct {
	ModelPath     string
	LabelsPath    string
	LibraryPath   string
	InputSize     int
	ConfThreshold float32
	IOUThreshold  float32
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 source_dir", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，叠加环境变量，再与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/vidx.json（可选），source_dir = path
// 2) CLI 未提供 path：必须读取 <cwd>/vidx.json（必选），且其中（或环境变量中）必须包含 source_dir
//
// 覆盖优先级：CLI > 环境变量（VIDX_*，见 env.go）> 配置文件 > 内置默认。
// 配置文件与环境变量中的相对路径，以配置文件所在目录为基准。
//
// environ 为 nil 时读取进程环境变量。
func LoadEffective(cwd string, cli CLIArgs, environ map[string]string) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	base := cwdAbs
	if strings.TrimSpace(cli.Path) != "" {
		base = absCleanFrom(cwdAbs, cli.Path)
	}
	cfgPath := filepath.Join(base, FileName)

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if err := applyEnv(&fc, environ); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	var sourceDir string
	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，不存在也不报错。
		sourceDir = base
	} else {
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		if strings.TrimSpace(fc.SourceDir) == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
		}
		sourceDir = absCleanFrom(base, fc.SourceDir)
	}

	eff, err := merge(base, sourceDir, cli, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigPath = cfgPath
	return eff, nil
}

func merge(base, sourceDir string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		SourceDir: sourceDir,
		DryRun:    cli.DryRun,
	}

	// 目录布局：work_dir 默认在 source_dir 下，其余产物默认在 work_dir 下。
	eff.WorkDir = pathOr(base, fc.WorkDir, filepath.Join(sourceDir, DefaultWorkDirName))
	eff.FramesDir = pathOr(base, fc.FramesDir, filepath.Join(eff.WorkDir, "frames"))
	eff.DetectedFramesDir = pathOr(base, fc.DetectedFramesDir, filepath.Join(eff.WorkDir, "detected_frames"))
	eff.AudioDir = pathOr(base, fc.AudioDir, filepath.Join(eff.WorkDir, "audio"))
	eff.IndexPath = pathOr(base, fc.IndexPath, filepath.Join(eff.WorkDir, "index.json"))
	eff.CacheDir = pathOr(base, fc.CacheDir, filepath.Join(eff.WorkDir, "cache"))
	if strings.TrimSpace(cli.IndexPath) != "" {
		eff.IndexPath = absCleanFrom(base, cli.IndexPath)
	}

	// frame_interval：CLI > config > 默认；必须为正整数。
	switch {
	case cli.IntervalSet:
		eff.FrameInterval = cli.Interval
	case fc.FrameInterval != nil:
		eff.FrameInterval = *fc.FrameInterval
	default:
		eff.FrameInterval = DefaultFrameInterval
	}
	if eff.FrameInterval < 1 {
		return EffectiveConfig{}, fmt.Errorf("frame_interval 必须是正整数，实际是 %d", eff.FrameInterval)
	}

	concurrency := fc.Concurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	eff.Concurrency = ClampConcurrency(concurrency)

	eff.VideoTimeout = DefaultVideoTimeout
	if s := strings.TrimSpace(fc.VideoTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return EffectiveConfig{}, fmt.Errorf("video_timeout 无效：%q", s)
		}
		eff.VideoTimeout = d
	}

	eff.Extensions = normalizeExtensions(fc.Extensions)
	if fc.NoCache != nil {
		eff.NoCache = *fc.NoCache
	}

	eff.LogLevel = strings.ToLower(strings.TrimSpace(fc.LogLevel))
	if eff.LogLevel == "" {
		eff.LogLevel = DefaultLogLevel
	}
	switch eff.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return EffectiveConfig{}, fmt.Errorf("log_level 只能是 debug/info/warn/error，实际是 %q", fc.LogLevel)
	}
	eff.MetricsAddr = strings.TrimSpace(fc.MetricsAddr)

	tr, err := mergeTranscriber(fc.Transcriber)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Transcriber = tr

	det, err := mergeDetector(base, fc.Detector)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Detector = det

	return eff, nil
}

func mergeTranscriber(fc TranscriberFileConfig) (TranscriberConfig, error) {
	tc := TranscriberConfig{
		Model:    strings.TrimSpace(fc.Model),
		BaseURL:  strings.TrimSpace(fc.BaseURL),
		APIKey:   strings.TrimSpace(fc.APIKey),
		Language: strings.TrimSpace(fc.Language),
		ProxyURL: strings.TrimSpace(fc.ProxyURL),
		Timeout:  DefaultTranscriberTimeout,
	}
	if tc.Model == "" {
		tc.Model = DefaultTranscriberModel
	}
	if tc.BaseURL != "" {
		if err := validateHTTPURL(tc.BaseURL); err != nil {
			return TranscriberConfig{}, fmt.Errorf("transcriber.base_url 无效：%w", err)
		}
	}
	if tc.ProxyURL != "" {
		if _, err := url.Parse(tc.ProxyURL); err != nil {
			return TranscriberConfig{}, fmt.Errorf("transcriber.proxy_url 无效：%w", err)
		}
	}
	if s := strings.TrimSpace(fc.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return TranscriberConfig{}, fmt.Errorf("transcriber.timeout 无效：%q", s)
		}
		tc.Timeout = d
	}
	return tc, nil
}

func mergeDetector(base string, fc DetectorFileConfig) (DetectorConfig, error) {
	dc := DetectorConfig{
		ModelPath:     pathOr(base, fc.ModelPath, ""),
		LabelsPath:    pathOr(base, fc.LabelsPath, ""),
		LibraryPath:   pathOr(base, fc.LibraryPath, ""),
		InputSize:     fc.InputSize,
		ConfThreshold: fc.ConfThreshold,
		IOUThreshold:  fc.IOUThreshold,
	}
	if dc.InputSize == 0 {
		dc.InputSize = DefaultDetectorInputSize
	}
	if dc.InputSize < 32 || dc.InputSize%32 != 0 {
		return DetectorConfig{}, fmt.Errorf("detector.input_size 必须是 32 的正整数倍，实际是 %d", dc.InputSize)
	}
	if dc.ConfThreshold == 0 {
		dc.ConfThreshold = DefaultConfThreshold
	}
	if dc.IOUThreshold == 0 {
		dc.IOUThreshold = DefaultIOUThreshold
	}
	if dc.ConfThreshold < 0 || dc.ConfThreshold > 1 {
		return DetectorConfig{}, fmt.Errorf("detector.conf_threshold 必须在 (0,1] 内，实际是 %v", dc.ConfThreshold)
	}
	if dc.IOUThreshold < 0 || dc.IOUThreshold > 1 {
		return DetectorConfig{}, fmt.Errorf("detector.iou_threshold 必须在 (0,1] 内，实际是 %v", dc.IOUThreshold)
	}
	return dc, nil
}

// ValidateForIndex 检查仅 index 命令才需要的字段（search 不需要模型与 API key）。
func (c EffectiveConfig) ValidateForIndex() error {
	if c.DryRun {
		return nil
	}
	if c.Detector.ModelPath == "" {
		return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: errors.New("detector.model_path 不能为空")}
	}
	if fi, err := os.Stat(c.Detector.ModelPath); err != nil || fi.IsDir() {
		return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("detector.model_path 不可读：%q", c.Detector.ModelPath)}
	}
	// 自建的 OpenAI 兼容服务可以不要 key；官方端点必须有。
	if c.Transcriber.APIKey == "" && c.Transcriber.BaseURL == "" {
		return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: errors.New("transcriber.api_key 不能为空（或设置 OPENAI_API_KEY）")}
	}
	return nil
}

// ClampConcurrency 把并发度规范到 [1, MaxConcurrency]；0 表示使用默认值。
func ClampConcurrency(n int) int {
	if n == 0 {
		return DefaultConcurrency
	}
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

func normalizeExtensions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	if len(out) == 0 {
		return []string{".mp4"}
	}
	return out
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", s)
	}
	if u.Host == "" {
		return fmt.Errorf("缺少 host：%q", s)
	}
	return nil
}

// pathOr 返回 p 的绝对路径；p 为空时返回 def。
func pathOr(base, p, def string) string {
	if strings.TrimSpace(p) == "" {
		return def
	}
	return absCleanFrom(base, p)
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
