package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix 是所有环境变量覆盖项的公共前缀。
const EnvPrefix = "VIDX_"

// envOverrides 描述可以被环境变量覆盖的字段。
// 指针字段：nil 表示未设置，不覆盖配置文件。
type envOverrides struct {
	SourceDir         *string  `env:"SOURCE_DIR"`
	WorkDir           *string  `env:"WORK_DIR"`
	FramesDir         *string  `env:"FRAMES_DIR"`
	DetectedFramesDir *string  `env:"DETECTED_FRAMES_DIR"`
	AudioDir          *string  `env:"AUDIO_DIR"`
	IndexPath         *string  `env:"INDEX_PATH"`
	CacheDir          *string  `env:"CACHE_DIR"`
	FrameInterval     *int     `env:"FRAME_INTERVAL"`
	Concurrency       *int     `env:"CONCURRENCY"`
	VideoTimeout      *string  `env:"VIDEO_TIMEOUT"`
	Extensions        []string `env:"EXTENSIONS" envSeparator:","`
	NoCache           *bool    `env:"NO_CACHE"`
	LogLevel          *string  `env:"LOG_LEVEL"`
	MetricsAddr       *string  `env:"METRICS_ADDR"`

	Transcriber struct {
		Model    *string `env:"MODEL"`
		BaseURL  *string `env:"BASE_URL"`
		APIKey   *string `env:"API_KEY"`
		Language *string `env:"LANGUAGE"`
		ProxyURL *string `env:"PROXY_URL"`
		Timeout  *string `env:"TIMEOUT"`
	} `envPrefix:"TRANSCRIBER_"`

	Detector struct {
		ModelPath     *string  `env:"MODEL_PATH"`
		LabelsPath    *string  `env:"LABELS_PATH"`
		LibraryPath   *string  `env:"LIBRARY_PATH"`
		InputSize     *int     `env:"INPUT_SIZE"`
		ConfThreshold *float32 `env:"CONF_THRESHOLD"`
		IOUThreshold  *float32 `env:"IOU_THRESHOLD"`
	} `envPrefix:"DETECTOR_"`
}

// wellKnownEnv 是不带 VIDX_ 前缀、但生态里约定俗成的变量。
// VIDX_TRANSCRIBER_API_KEY 优先于 OPENAI_API_KEY。
type wellKnownEnv struct {
	OpenAIKey     *string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL *string `env:"OPENAI_BASE_URL"`
}

// applyEnv 把环境变量覆盖到 fc 上。environ 为 nil 时读取进程环境变量。
func applyEnv(fc *FileConfig, environ map[string]string) error {
	var wk wellKnownEnv
	if err := env.ParseWithOptions(&wk, env.Options{Environment: environ}); err != nil {
		return err
	}
	setString(&fc.Transcriber.APIKey, wk.OpenAIKey)
	setString(&fc.Transcriber.BaseURL, wk.OpenAIBaseURL)

	var ov envOverrides
	if err := env.ParseWithOptions(&ov, env.Options{Environment: environ, Prefix: EnvPrefix}); err != nil {
		return err
	}

	setString(&fc.SourceDir, ov.SourceDir)
	setString(&fc.WorkDir, ov.WorkDir)
	setString(&fc.FramesDir, ov.FramesDir)
	setString(&fc.DetectedFramesDir, ov.DetectedFramesDir)
	setString(&fc.AudioDir, ov.AudioDir)
	setString(&fc.IndexPath, ov.IndexPath)
	setString(&fc.CacheDir, ov.CacheDir)
	if ov.FrameInterval != nil {
		v := *ov.FrameInterval
		fc.FrameInterval = &v
	}
	setInt(&fc.Concurrency, ov.Concurrency)
	setString(&fc.VideoTimeout, ov.VideoTimeout)
	if len(ov.Extensions) > 0 {
		fc.Extensions = ov.Extensions
	}
	if ov.NoCache != nil {
		v := *ov.NoCache
		fc.NoCache = &v
	}
	setString(&fc.LogLevel, ov.LogLevel)
	setString(&fc.MetricsAddr, ov.MetricsAddr)

	setString(&fc.Transcriber.Model, ov.Transcriber.Model)
	setString(&fc.Transcriber.BaseURL, ov.Transcriber.BaseURL)
	setString(&fc.Transcriber.APIKey, ov.Transcriber.APIKey)
	setString(&fc.Transcriber.Language, ov.Transcriber.Language)
	setString(&fc.Transcriber.ProxyURL, ov.Transcriber.ProxyURL)
	setString(&fc.Transcriber.Timeout, ov.Transcriber.Timeout)

	setString(&fc.Detector.ModelPath, ov.Detector.ModelPath)
	setString(&fc.Detector.LabelsPath, ov.Detector.LabelsPath)
	setString(&fc.Detector.LibraryPath, ov.Detector.LibraryPath)
	setInt(&fc.Detector.InputSize, ov.Detector.InputSize)
	if ov.Detector.ConfThreshold != nil {
		fc.Detector.ConfThreshold = *ov.Detector.ConfThreshold
	}
	if ov.Detector.IOUThreshold != nil {
		fc.Detector.IOUThreshold = *ov.Detector.IOUThreshold
	}
	return nil
}

// Environ 返回进程环境变量，并叠加 dir/.env 中进程里尚未设置的键。
// .env 不存在不算错误；解析失败返回 config_invalid。
func Environ(dir string) (map[string]string, error) {
	out := make(map[string]string)

	p := filepath.Join(dir, ".env")
	dotenv, err := godotenv.Read(p)
	switch {
	case err == nil:
		for k, v := range dotenv {
			out[k] = v
		}
	case os.IsNotExist(err):
	default:
		return nil, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
	}

	// 进程环境变量优先于 .env。
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
