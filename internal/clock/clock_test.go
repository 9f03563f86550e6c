package clock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTodayAndMonth_Consistent(t *testing.T) {
	day, month := TodayAndMonth()
	require.Len(t, day, 10)
	require.True(t, len(month) == 7)
	require.Equal(t, day[:7], month)
}

func TestValidatePathSecurity_RejectsNullByte(t *testing.T) {
	_, err := ValidatePathSecurity("/tmp\x00/evil")
	require.Error(t, err)
}

func TestValidatePathSecurity_RejectsNonexistent(t *testing.T) {
	_, err := ValidatePathSecurity("/definitely/does/not/exist/ever")
	require.Error(t, err)
}

func TestValidatePathSecurity_ResolvesRealDir(t *testing.T) {
	dir := t.TempDir()
	real, err := ValidatePathSecurity(dir)
	require.NoError(t, err)
	require.NotEmpty(t, real)
}

func TestSanitizeForTerminal_StripsControlChars(t *testing.T) {
	require.Equal(t, "hello world", SanitizeForTerminal("hello\x07 \x01world"))
}

func TestSanitizeForTerminal_PreservesANSI(t *testing.T) {
	in := "\x1b[32mgreen\x1b[0m"
	require.Equal(t, in, SanitizeForTerminal(in))
}

func TestSanitizeForTerminal_StripsNewlinesAndTabs(t *testing.T) {
	require.Equal(t, "ab", SanitizeForTerminal("a\nb"))
	require.Equal(t, "ab", SanitizeForTerminal("a\tb"))
}

func TestShortenPath_Home(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, "~", ShortenPath(home))
	require.Equal(t, "~"+string(filepath.Separator)+"project", ShortenPath(filepath.Join(home, "project")))
}

func TestShortenPath_NonHome(t *testing.T) {
	require.Equal(t, "/usr/local/bin", ShortenPath("/usr/local/bin"))
}

func TestShortenPath_Empty(t *testing.T) {
	require.Equal(t, "", ShortenPath(""))
}

func TestParseRFC3339ToUnix_ZSuffix(t *testing.T) {
	ts, ok := ParseRFC3339ToUnix("2025-08-25T10:00:00.000Z")
	require.True(t, ok)
	ts2, ok2 := ParseRFC3339ToUnix("2025-08-25T10:05:00.000Z")
	require.True(t, ok2)
	require.Equal(t, int64(300), ts2-ts)
}

func TestParseRFC3339ToUnix_OffsetSuffix(t *testing.T) {
	_, ok := ParseRFC3339ToUnix("2025-08-24T23:24:15.577606003-07:00")
	require.True(t, ok)
}

func TestParseRFC3339ToUnix_InvalidFormat(t *testing.T) {
	_, ok := ParseRFC3339ToUnix("not a timestamp")
	require.False(t, ok)
	_, ok2 := ParseRFC3339ToUnix("2025-08-25 10:00:00")
	require.False(t, ok2)
}

func TestXDGDirs_RespectEnvOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)
	dir, err := DataDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmp, "claudia-statusline"), dir)
}
