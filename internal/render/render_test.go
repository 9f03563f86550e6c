package render

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hagan/claudia-statusline/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Display: config.DisplayConfig{ShowGit: false, ProgressBarWidth: 10},
		Context: config.ContextConfig{
			DefaultWindow:     160_000,
			CautionThreshold:  0.70,
			WarningThreshold:  0.85,
			CriticalThreshold: 0.95,
		},
		Cost: config.CostConfig{LowThreshold: 5.0, MediumThreshold: 20.0},
	}
}

func TestRenderIncludesWorkspaceAndModel(t *testing.T) {
	line := Render(Line{WorkspaceDir: "/tmp/proj", ModelName: "Claude Opus 4.5", Cfg: testConfig()})
	require.Contains(t, line, "proj")
	require.Contains(t, line, "Opus")
}

func TestRenderNoColorStripsEscapes(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	require.True(t, NoColorRequested())
	line := Render(Line{WorkspaceDir: "/tmp/proj", ModelName: "Opus", Cfg: testConfig()})
	require.NotContains(t, line, "\x1b[")
}

// TestRenderProducesColorRegardlessOfTTY pins down that color is decided
// from NO_COLOR alone: the go test binary's stdout is never a terminal,
// yet with NO_COLOR unset (TestMain's baseline) the rendered line must
// still carry real SGR escapes.
func TestRenderProducesColorRegardlessOfTTY(t *testing.T) {
	line := Render(Line{WorkspaceDir: "/tmp/proj", ModelName: "Opus", Cfg: testConfig()})
	require.Contains(t, line, "\x1b[")
}

func TestRenderColorDeterminism(t *testing.T) {
	cfg := testConfig()
	l := Line{WorkspaceDir: "/tmp/a", ModelName: "Opus", Cfg: cfg}
	first := Render(l)
	second := Render(l)
	require.Equal(t, first, second)
}

func TestFormatDurationBuckets(t *testing.T) {
	require.Equal(t, "45s", formatDuration(45))
	require.Equal(t, "3m", formatDuration(190))
	require.Equal(t, "1h5m", formatDuration(3900))
}

func TestCostColorThresholds(t *testing.T) {
	cfg := testConfig()
	require.Equal(t, styleGreen, costColor(1.0, cfg))
	require.Equal(t, styleYellow, costColor(10.0, cfg))
	require.Equal(t, styleRed, costColor(25.0, cfg))
}

func TestTruncateDisplayShortStringUnchanged(t *testing.T) {
	require.Equal(t, "short", truncateDisplay("short", 40))
}

func TestTruncateDisplayLongStringEllipsized(t *testing.T) {
	long := "this-is-a-very-long-directory-name-that-should-be-truncated"
	out := truncateDisplay(long, 20)
	require.LessOrEqual(t, len(out), len(long))
	require.Contains(t, out, "...")
}

func TestTruncateDisplayMultibyteSafe(t *testing.T) {
	s := "日本語のディレクトリ名はとても長い"
	out := truncateDisplay(s, 10)
	require.Contains(t, out, "...")
}

func TestFormatCostSectionDailyOnly(t *testing.T) {
	cfg := testConfig()
	l := Line{Cfg: cfg, DailyTotal: 3.5}
	out := formatCostSection(l)
	require.Contains(t, out, "3.50")
}

func TestMain(m *testing.M) {
	os.Unsetenv("NO_COLOR")
	os.Exit(m.Run())
}
