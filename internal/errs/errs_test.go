package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	e := InvalidPath("bad path: /tmp/evil")
	require.Equal(t, "bad path: /tmp/evil", e.Error())
	require.Equal(t, KindInvalidPath, e.Kind)
}

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	e := DatabaseErr("commit failed", cause)
	require.Contains(t, e.Error(), "commit failed")
	require.Contains(t, e.Error(), "disk full")
	require.ErrorIs(t, e, cause)
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindIO, "io"},
		{KindJSONParse, "json_parse"},
		{KindDatabase, "database"},
		{KindGitOperation, "git_operation"},
		{KindInvalidPath, "invalid_path"},
		{KindStatsFile, "stats_file"},
		{KindLockFailed, "lock_failed"},
		{KindConfig, "config"},
		{KindSync, "sync"},
		{KindOther, "other"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.kind.String())
	}
}

func TestJSONParse(t *testing.T) {
	e := JSONParse(errors.New("unexpected token"))
	require.Equal(t, KindJSONParse, e.Kind)
	require.Contains(t, e.Error(), "unexpected token")
}
