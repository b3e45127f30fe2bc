package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/John-Robertt/vidx/internal/app/build"
	"github.com/John-Robertt/vidx/internal/config"
	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/infra/metrics"
	"github.com/John-Robertt/vidx/internal/logx"
)

// console 封装 stdout/stderr 及其是否为交互终端；测试中用 buffer 替换。
type console struct {
	out    io.Writer
	err    io.Writer
	outTTY bool
	errTTY bool
}

func osConsole() console {
	return console{
		out:    os.Stdout,
		err:    os.Stderr,
		outTTY: isTTY(os.Stdout),
		errTTY: isTTY(os.Stderr),
	}
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := osConsole()
	var code int
	switch args[0] {
	case "index":
		code = indexCmd(ctx, c, args[1:])
	case "search":
		code = searchCmd(c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage(os.Stderr)
		code = 2
	}
	if code != 0 {
		stop()
		os.Exit(code)
	}
}

func indexCmd(ctx context.Context, c console, args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printIndexUsage(c.out)
			return 0
		}
	}

	ia, err := parseIndexArgs(args)
	if err != nil {
		fmt.Fprintf(c.err, "参数错误：%v\n\n", err)
		printIndexUsage(c.err)
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(c.err, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := loadConfig(cwd, ia)
	if err == nil {
		err = eff.ValidateForIndex()
	}
	if err != nil {
		emitBuildReport(c, reportForError(cwd, ia.DryRun, config.Code(err), err))
		return 1
	}

	logger, err := logx.New(eff.LogLevel, c.errTTY)
	if err != nil {
		emitBuildReport(c, reportForError(eff.SourceDir, eff.DryRun, domain.ErrCodeConfigInvalid, err))
		return 1
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if eff.MetricsAddr != "" {
		metrics.StartServer(ctx, eff.MetricsAddr, reg, logger)
	}

	deps := build.Deps{Logger: logger, Metrics: m}
	if !eff.DryRun {
		ix, closeFn, err := newIndexer(eff, logger, m)
		if err != nil {
			logger.Error("初始化索引器失败", zap.Error(err))
			emitBuildReport(c, reportForError(eff.SourceDir, eff.DryRun, domain.ErrCodeConfigInvalid, err))
			return 1
		}
		defer closeFn()
		deps.Indexer = ix
	}

	var obs build.Observer
	if w, ok := c.progressWriter(); ok {
		obs = newProgressUI(w)
	}

	rr := build.ExecuteWithObserver(ctx, eff, deps, obs)
	emitBuildReport(c, rr)
	if rr.Summary.Failed == 0 {
		return 0
	}
	return 1
}

func loadConfig(cwd string, ia indexArgs) (config.EffectiveConfig, error) {
	base := cwd
	if ia.Path != "" {
		base = ia.Path
		if !filepath.IsAbs(base) {
			base = filepath.Join(cwd, base)
		}
	}
	environ, err := config.Environ(base)
	if err != nil {
		return config.EffectiveConfig{}, err
	}
	return config.LoadEffective(cwd, config.CLIArgs{
		Path:           ia.Path,
		Concurrency:    ia.Concurrency,
		ConcurrencySet: ia.ConcurrencySet,
		Interval:       ia.Interval,
		IntervalSet:    ia.IntervalSet,
		DryRun:         ia.DryRun,
	}, environ)
}

type indexArgs struct {
	Path string

	Concurrency    int
	ConcurrencySet bool

	Interval    int
	IntervalSet bool

	DryRun bool
}

func parseIndexArgs(args []string) (indexArgs, error) {
	ia := indexArgs{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--concurrency" || a == "--interval":
			if i+1 >= len(args) {
				return indexArgs{}, fmt.Errorf("%s 需要一个值", a)
			}
			i++
			if err := ia.setInt(a, args[i]); err != nil {
				return indexArgs{}, err
			}
		case strings.HasPrefix(a, "--concurrency="):
			if err := ia.setInt("--concurrency", strings.TrimPrefix(a, "--concurrency=")); err != nil {
				return indexArgs{}, err
			}
		case strings.HasPrefix(a, "--interval="):
			if err := ia.setInt("--interval", strings.TrimPrefix(a, "--interval=")); err != nil {
				return indexArgs{}, err
			}
		case a == "--dry-run":
			ia.DryRun = true
		case strings.HasPrefix(a, "-"):
			return indexArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if ia.Path != "" {
				return indexArgs{}, fmt.Errorf("重复的 path：%q 与 %q", ia.Path, a)
			}
			ia.Path = a
		}
	}
	return ia, nil
}

func (ia *indexArgs) setInt(flag, raw string) error {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fmt.Errorf("%s 必须是正整数，实际是 %q", flag, raw)
	}
	switch flag {
	case "--concurrency":
		ia.Concurrency = n
		ia.ConcurrencySet = true
	case "--interval":
		ia.Interval = n
		ia.IntervalSet = true
	}
	return nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  vidx index [path] [--concurrency N] [--interval N] [--dry-run]
  vidx search <keyword> [--path P] [--index FILE]

命令：
  index   扫描目录并全量重建索引
  search  按关键词检索索引（转写文本 + 检测标签）

使用 "vidx index --help" / "vidx search --help" 查看详细说明。
`)
}

func printIndexUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  vidx index [path] [--concurrency N] [--interval N] [--dry-run]

参数：
  path           视频目录或配置所在目录（未指定则读取当前目录的 vidx.json）
  --concurrency  并发处理的视频数（默认 1，范围 [1,32]）
  --interval     每隔 N 个解码帧保留一帧（默认 30）
  --dry-run      只扫描与规划，不写任何文件
  -h, --help     显示帮助
`)
}

func emitBuildReport(c console, rr domain.BuildReport) {
	summary := fmt.Sprintf("完成：indexed=%d failed=%d", rr.Summary.Indexed, rr.Summary.Failed)
	if rr.DryRun {
		summary = fmt.Sprintf("规划完成（dry-run）：planned=%d failed=%d", rr.Summary.Planned, rr.Summary.Failed)
	}

	if c.outTTY {
		st := styleOK
		if rr.Summary.Failed > 0 {
			st = styleFail
		}
		fmt.Fprintln(c.out, st.Render(summary))
		for _, it := range rr.Items {
			if it.Status != domain.StatusFailed {
				continue
			}
			key := it.Video
			if key == "" {
				key = "<unknown>"
			}
			fmt.Fprintf(c.err, "%s %s: %s\n", key, styleFail.Render(it.ErrorCode), it.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 BuildReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(c.out)
	_ = enc.Encode(rr)
	fmt.Fprintln(c.err, summary)
}

func reportForError(sourceDir string, dryRun bool, code string, err error) domain.BuildReport {
	if code == "" {
		code = domain.ErrCodeConfigInvalid
	}
	now := time.Now().UTC()
	rr := domain.BuildReport{
		SourceDir:  sourceDir,
		DryRun:     dryRun,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Video:     "",
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func (c console) progressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if c.errTTY {
		return c.err, true
	}
	// 仅重定向 stderr 时 stdout 仍是 TTY：退化输出到 stdout。
	if c.outTTY {
		return c.out, true
	}
	return nil, false
}
