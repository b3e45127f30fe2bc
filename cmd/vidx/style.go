package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/John-Robertt/vidx/internal/domain"
)

// 终端样式只在 TTY 下使用；非 TTY 输出 JSON，不经过这里。
var (
	styleOK     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleFail   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleText   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleObject = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	styleTime   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// renderMatch 把一条命中渲染为单行：[kind] video @time 内容 frame=...
func renderMatch(m domain.SearchMatch) string {
	var b strings.Builder
	switch m.Kind {
	case domain.MatchText:
		b.WriteString(styleText.Render("[text]"))
	default:
		b.WriteString(styleObject.Render("[object]"))
	}
	b.WriteString(" ")
	b.WriteString(m.Video)
	b.WriteString(" ")
	b.WriteString(styleTime.Render(fmt.Sprintf("@%s", formatSeconds(m.Time))))
	b.WriteString(" ")

	switch m.Kind {
	case domain.MatchText:
		b.WriteString(fmt.Sprintf("%q", m.Text))
	default:
		b.WriteString(strings.Join(m.Objects, ", "))
	}

	if m.Frame != "" {
		b.WriteString(" ")
		b.WriteString(styleDim.Render("frame=" + m.Frame))
	}
	return b.String()
}

// formatSeconds 输出 mm:ss.xx（超过 1 小时为 h:mm:ss.xx）。
func formatSeconds(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	h := int(sec) / 3600
	m := (int(sec) % 3600) / 60
	s := sec - float64(h*3600+m*60)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%05.2f", h, m, s)
	}
	return fmt.Sprintf("%02d:%05.2f", m, s)
}
