// Package render implements the statusline renderer (C9): it takes the
// resolved session totals, context usage, git status, and hook state and
// assembles the single line printed to stdout.
//
// Grounded on original_source/src/display.rs's format_output: same
// left-to-right ordering (directory, git, context bar, model, duration,
// lines changed, cost/burn-rate/daily-total), same threshold-driven
// color choices, same progress-bar construction — reimplemented on
// lipgloss styles instead of hand-rolled escape sequences, per the
// teacher's own convention in internal/mode/playground.
package render

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"github.com/rivo/uniseg"

	"github.com/hagan/claudia-statusline/internal/clock"
	"github.com/hagan/claudia-statusline/internal/config"
	"github.com/hagan/claudia-statusline/internal/gitstatus"
	"github.com/hagan/claudia-statusline/internal/hookstate"
	"github.com/hagan/claudia-statusline/internal/models"
	"github.com/hagan/claudia-statusline/internal/stats"
	"github.com/hagan/claudia-statusline/internal/transcript"
)

// maxDirWidth bounds the shortened workspace path so one long directory
// name can't push the rest of the line off a narrow terminal.
const maxDirWidth = 40

// applyColorProfile forces lipgloss's color profile from NO_COLOR alone.
// The stdout lipgloss would otherwise auto-detect from is almost never a
// terminal here — the host application always captures it through a
// pipe — so leaving color to the default isatty-based detection would
// mean the statusline never renders in color at all, NO_COLOR or not.
// Re-applied on every Render call, not just at package init, since
// lipgloss resolves colors at style-render time and NO_COLOR may be set
// after the package loads (tests do exactly that).
func applyColorProfile() {
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	} else {
		lipgloss.SetColorProfile(termenv.TrueColor)
	}
}

func init() { applyColorProfile() }

var (
	styleDir       = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))  // cyan
	styleGreen     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	styleRed       = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))  // red
	styleYellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))  // yellow
	styleOrange    = lipgloss.NewStyle().Foreground(lipgloss.Color("208")) // 256-color orange
	styleWhite     = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))  // white
	styleGray      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // bright black / gray
	styleLightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Line is every piece of resolved data the renderer needs; cmd/ assembles
// it from the store, learner, transcript, gitstatus, and hookstate
// packages before calling Render.
type Line struct {
	WorkspaceDir    string
	ModelName       string
	SessionID       string
	TranscriptPath  string
	Cost            *CostInfo
	DailyTotal      float64
	Result          stats.Result
	ContextWindow   uint64
	HookState       *hookstate.State
	Cfg             *config.Config
}

// CostInfo carries the host-reported cost/lines payload, already
// distinguished from "absent" (nil) per the JSON input's optionality.
type CostInfo struct {
	TotalCostUSD      *float64
	TotalLinesAdded   *uint64
	TotalLinesRemoved *uint64
}

// Render assembles the full statusline string. Color is forced on or off
// from NO_COLOR alone, not terminal detection; colorless runs still
// include every segment, just without escape sequences.
func Render(l Line) string {
	applyColorProfile()

	var b strings.Builder

	shortDir := clock.ShortenPath(l.WorkspaceDir)
	shortDir = truncateDisplay(shortDir, maxDirWidth)
	b.WriteString(styleDir.Render(shortDir))

	if l.Cfg.Display.ShowGit {
		if gs := gitstatus.Get(l.WorkspaceDir, l.Cfg.GitOpsRetry()); gs != nil {
			if info := formatGitInfo(*gs); info != "" {
				b.WriteString(" " + styleGray.Render("•"))
				b.WriteString(info)
			}
		}
	}

	if l.HookState != nil && l.HookState.State == "compacting" {
		b.WriteString(" " + styleLightGray.Render("•") + " " + styleYellow.Render("Compacting…"))
	} else if l.TranscriptPath != "" {
		bufLines := l.Cfg.Transcript.BufferLines
		if usage, err := transcript.LatestTokenUsage(l.TranscriptPath, bufLines, l.ContextWindow); err == nil && usage != nil {
			b.WriteString(formatContextBar(*usage, l.Cfg))
		}
	}

	if l.ModelName != "" {
		b.WriteString(" " + styleDir.Render(models.Abbreviation(l.ModelName)))
	}

	if l.TranscriptPath != "" {
		if d, err := transcript.Duration(l.TranscriptPath); err == nil && d != nil {
			b.WriteString(" " + styleLightGray.Render(formatDuration(*d)))
		}
	}

	if l.Cost != nil {
		added, removed := uint64Val(l.Cost.TotalLinesAdded), uint64Val(l.Cost.TotalLinesRemoved)
		if added > 0 || removed > 0 {
			b.WriteString(" " + styleLightGray.Render("•"))
			if added > 0 {
				b.WriteString(" " + styleGreen.Render(fmt.Sprintf("+%d", added)))
			}
			if removed > 0 {
				b.WriteString(" " + styleRed.Render(fmt.Sprintf("-%d", removed)))
			}
		}
	}

	b.WriteString(formatCostSection(l))

	if l.Cfg.Context.ShowContextTokens && l.Cfg.TokenRate.Enabled {
		b.WriteString(formatTokenRateSection(l))
	}

	return b.String()
}

// formatTokenRateSection prints the optional per-second token-rate summary
// (input/output rates plus the cache hit ratio when it is defined; the
// cache read/creation rates and cache ROI are not printed), gated on both
// show_context_tokens and [token_rate] enabled — silent below the 60s
// floor ComputeTokenRates enforces.
func formatTokenRateSection(l Line) string {
	rates, ok := stats.ComputeTokenRates(l.Result.Tokens, l.Result.DurationSeconds)
	if !ok {
		return ""
	}
	var b strings.Builder
	b.WriteString(" " + styleLightGray.Render("•"))
	b.WriteString(" " + styleGray.Render(fmt.Sprintf("tok/s: %.0f in/%.0f out", rates.InputPerSec, rates.OutputPerSec)))
	if rates.CacheHitRatioOK {
		b.WriteString(" " + styleGray.Render(fmt.Sprintf("cache:%.0f%%", rates.CacheHitRatio*100)))
	}
	return b.String()
}

func formatCostSection(l Line) string {
	hasCost := l.Cost != nil && l.Cost.TotalCostUSD != nil
	if !hasCost {
		if l.DailyTotal > 0 {
			return " " + styleWhite.Render("day: ") + costColor(l.DailyTotal, l.Cfg).Render(fmt.Sprintf("$%.2f", l.DailyTotal))
		}
		return ""
	}

	totalCost := *l.Cost.TotalCostUSD
	var b strings.Builder
	b.WriteString(" " + styleLightGray.Render("•"))
	b.WriteString(" " + costColor(totalCost, l.Cfg).Render(fmt.Sprintf("$%.2f", totalCost)))

	if rate, ok := stats.BurnRateUSDPerHour(totalCost, l.Result.DurationSeconds); ok && rate > 0 {
		b.WriteString(" " + styleGray.Render(fmt.Sprintf("($%.2f/hr)", rate)))
	}

	if l.DailyTotal > totalCost {
		b.WriteString(" " + styleWhite.Render("(day: ") + costColor(l.DailyTotal, l.Cfg).Render(fmt.Sprintf("$%.2f", l.DailyTotal)) + styleWhite.Render(")"))
	}

	return b.String()
}

func costColor(cost float64, cfg *config.Config) lipgloss.Style {
	switch {
	case cost >= cfg.Cost.MediumThreshold:
		return styleRed
	case cost >= cfg.Cost.LowThreshold:
		return styleYellow
	default:
		return styleGreen
	}
}

// formatContextBar mirrors format_context_bar: a fixed-width `[===>---]`
// bar colored by how close percentage is to the configured thresholds.
func formatContextBar(usage transcript.ContextUsage, cfg *config.Config) string {
	percentage := usage.Percentage
	barColor, pctColor := styleGreen, styleWhite
	switch {
	case percentage > cfg.Context.CriticalThreshold*100:
		barColor, pctColor = styleRed, styleRed
	case percentage > cfg.Context.WarningThreshold*100:
		barColor, pctColor = styleOrange, styleOrange
	case percentage > cfg.Context.CautionThreshold*100:
		barColor, pctColor = styleYellow, styleYellow
	}

	width := cfg.Display.ProgressBarWidth
	if width <= 0 {
		width = 10
	}
	filled := int(percentage / 100.0 * float64(width))
	if filled > width {
		filled = width
	}
	empty := width - filled
	arrow := ""
	if filled < width {
		arrow = ">"
		empty--
	}
	if empty < 0 {
		empty = 0
	}
	bar := strings.Repeat("=", filled) + arrow + strings.Repeat("-", empty)

	var b strings.Builder
	b.WriteString(" " + styleLightGray.Render("•"))
	b.WriteString(" " + pctColor.Render(fmt.Sprintf("%d%%", roundPercent(percentage))))
	b.WriteString(" " + barColor.Render("["+bar+"]"))
	return b.String()
}

func roundPercent(p float64) int {
	return int(p + 0.5)
}

func formatGitInfo(gs gitstatus.Status) string {
	var parts []string
	if gs.Branch != "" {
		parts = append(parts, styleCyan().Render(gs.Branch))
	}
	if gs.Added > 0 {
		parts = append(parts, styleGreen.Render(fmt.Sprintf("+%d", gs.Added)))
	}
	if gs.Modified > 0 {
		parts = append(parts, styleYellow.Render(fmt.Sprintf("~%d", gs.Modified)))
	}
	if gs.Deleted > 0 {
		parts = append(parts, styleRed.Render(fmt.Sprintf("-%d", gs.Deleted)))
	}
	if gs.Untracked > 0 {
		parts = append(parts, styleGray.Render(fmt.Sprintf("?%d", gs.Untracked)))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

func styleCyan() lipgloss.Style { return styleDir }

func formatDuration(seconds uint64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%dh%dm", seconds/3600, (seconds%3600)/60)
	}
}

func uint64Val(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

// truncateDisplay enforces a display-width (not byte or rune count)
// ceiling, so multi-byte directory names don't overflow a fixed-width
// terminal segment. Cuts on grapheme cluster boundaries (via uniseg) so
// a combining-mark or ZWJ sequence in a directory name is never split
// mid-cluster the way a plain rune-by-rune truncation would.
func truncateDisplay(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	const ellipsis = "..."
	budget := max - runewidth.StringWidth(ellipsis)
	if budget <= 0 {
		return ellipsis
	}

	var b strings.Builder
	width := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		cluster := g.Str()
		w := runewidth.StringWidth(cluster)
		if width+w > budget {
			break
		}
		b.WriteString(cluster)
		width += w
	}
	return b.String() + ellipsis
}

// NoColorRequested reports whether the process environment disables
// ANSI styling, mirroring the color profile this package's init already
// applied; exists for cmd/ to log the detected mode.
func NoColorRequested() bool {
	return os.Getenv("NO_COLOR") != ""
}
