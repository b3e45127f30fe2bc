package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/vidx/internal/config"
	"github.com/John-Robertt/vidx/internal/domain"
	"github.com/John-Robertt/vidx/internal/index"
	"github.com/John-Robertt/vidx/internal/search"
)

type searchArgs struct {
	Keyword    string
	KeywordSet bool
	Path       string
	IndexPath  string
}

func searchCmd(c console, args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printSearchUsage(c.out)
			return 0
		}
	}

	sa, err := parseSearchArgs(args)
	if err != nil {
		fmt.Fprintf(c.err, "参数错误：%v\n\n", err)
		printSearchUsage(c.err)
		return 2
	}

	// 关键词非法时不读取配置与索引。
	if strings.TrimSpace(sa.Keyword) == "" {
		rep, code := searchReportFor(sa.Keyword, search.Result{}, search.ErrInvalidQuery)
		emitSearchReport(c, rep)
		return code
	}

	indexPath, err := resolveIndexPath(sa)
	if err != nil {
		rep := domain.SearchReport{
			Keyword:   sa.Keyword,
			Status:    domain.SearchNoIndex,
			Matches:   []domain.SearchMatch{},
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}
		emitSearchReport(c, rep)
		return 1
	}

	res, err := search.New(indexPath).Search(sa.Keyword)
	rep, code := searchReportFor(sa.Keyword, res, err)
	emitSearchReport(c, rep)
	return code
}

// resolveIndexPath：--index 优先（此时不需要配置文件）；否则从配置推导 index_path。
func resolveIndexPath(sa searchArgs) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if sa.IndexPath != "" && sa.Path == "" {
		p := sa.IndexPath
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		return filepath.Clean(p), nil
	}

	base := cwd
	if sa.Path != "" {
		base = sa.Path
		if !filepath.IsAbs(base) {
			base = filepath.Join(cwd, base)
		}
	}
	environ, err := config.Environ(base)
	if err != nil {
		return "", err
	}
	eff, err := config.LoadEffective(cwd, config.CLIArgs{Path: sa.Path, IndexPath: sa.IndexPath}, environ)
	if err != nil {
		return "", err
	}
	return eff.IndexPath, nil
}

// searchReportFor 把检索结果映射为对外报告与退出码：
// ok/no_matches → 0；索引问题 → 1；关键词非法 → 2。
func searchReportFor(keyword string, res search.Result, err error) (domain.SearchReport, int) {
	rep := domain.SearchReport{
		Keyword: keyword,
		Matches: res.Matches,
	}
	if rep.Matches == nil {
		rep.Matches = []domain.SearchMatch{}
	}

	switch {
	case err == nil && len(rep.Matches) > 0:
		rep.Status = domain.SearchOK
		return rep, 0
	case err == nil:
		rep.Status = domain.SearchNoMatches
		return rep, 0
	case errors.Is(err, search.ErrInvalidQuery):
		rep.Status = domain.SearchInvalidQuery
		rep.ErrorCode = domain.ErrCodeInvalidQuery
		rep.ErrorMsg = err.Error()
		return rep, 2
	case errors.Is(err, index.ErrNotFound):
		rep.Status = domain.SearchNoIndex
		rep.ErrorCode = domain.ErrCodeIndexNotFound
		rep.ErrorMsg = err.Error() + "（请先运行 vidx index）"
		return rep, 1
	case index.IsMalformed(err):
		rep.Status = domain.SearchIndexInvalid
		rep.ErrorCode = domain.ErrCodeIndexInvalid
		rep.ErrorMsg = err.Error()
		return rep, 1
	default:
		rep.Status = domain.SearchIndexInvalid
		rep.ErrorCode = domain.ErrCodeIOFailed
		rep.ErrorMsg = err.Error()
		return rep, 1
	}
}

func parseSearchArgs(args []string) (searchArgs, error) {
	sa := searchArgs{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--path" || a == "--index":
			if i+1 >= len(args) {
				return searchArgs{}, fmt.Errorf("%s 需要一个值", a)
			}
			i++
			sa.set(a, args[i])
		case strings.HasPrefix(a, "--path="):
			sa.set("--path", strings.TrimPrefix(a, "--path="))
		case strings.HasPrefix(a, "--index="):
			sa.set("--index", strings.TrimPrefix(a, "--index="))
		case a == "--":
			// "--" 之后的参数一律视为关键词（允许以 - 开头的关键词）。
			if i+1 < len(args) {
				if sa.KeywordSet {
					return searchArgs{}, fmt.Errorf("只能指定一个关键词")
				}
				sa.Keyword = strings.Join(args[i+1:], " ")
				sa.KeywordSet = true
			}
			i = len(args)
		case strings.HasPrefix(a, "-") && a != "-":
			return searchArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if sa.KeywordSet {
				return searchArgs{}, fmt.Errorf("只能指定一个关键词：%q 与 %q", sa.Keyword, a)
			}
			sa.Keyword = a
			sa.KeywordSet = true
		}
	}
	return sa, nil
}

func (sa *searchArgs) set(flag, v string) {
	switch flag {
	case "--path":
		sa.Path = v
	case "--index":
		sa.IndexPath = v
	}
}

func printSearchUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  vidx search <keyword> [--path P] [--index FILE]

参数：
  keyword     关键词：转写文本做子串匹配，检测标签做完全匹配（均忽略大小写）
  --path      配置所在目录（用于定位 index_path）
  --index     直接指定索引文件（单独使用时不读取配置）
  -h, --help  显示帮助
`)
}

func emitSearchReport(c console, rep domain.SearchReport) {
	if !c.outTTY {
		// stdout 非 TTY：stdout 只输出一个 SearchReport JSON。
		_ = json.NewEncoder(c.out).Encode(rep)
		return
	}

	switch rep.Status {
	case domain.SearchOK:
		for _, m := range rep.Matches {
			fmt.Fprintln(c.out, renderMatch(m))
		}
		fmt.Fprintln(c.out, styleDim.Render(fmt.Sprintf("共 %d 条命中", len(rep.Matches))))
	case domain.SearchNoMatches:
		fmt.Fprintln(c.out, styleDim.Render(fmt.Sprintf("没有找到 %q 的命中", rep.Keyword)))
	default:
		fmt.Fprintf(c.err, "%s: %s\n", styleFail.Render(rep.ErrorCode), rep.ErrorMsg)
	}
}
