package retry

import (
	"testing"
	"time"

	"github.com/hagan/claudia-statusline/internal/errs"
	"github.com/stretchr/testify/require"
)

func withFakeSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleepFunc
	sleepFunc = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { sleepFunc = orig })
	return &slept
}

func TestWithBackoff_SucceedsFirstTry(t *testing.T) {
	withFakeSleep(t)
	calls := 0
	result, err := WithBackoff(DefaultConfig(), func() (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, result)
	require.Equal(t, 1, calls)
}

func TestWithBackoff_RetriesThenSucceeds(t *testing.T) {
	slept := withFakeSleep(t)
	calls := 0
	result, err := WithBackoff(Config{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errs.IO(nil)
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, result)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestWithBackoff_ExhaustsAttempts(t *testing.T) {
	withFakeSleep(t)
	calls := 0
	_, err := WithBackoff(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}, func() (int, error) {
		calls++
		return 0, errs.Database("busy")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestWithBackoff_DelayCapsAtMaxDelay(t *testing.T) {
	slept := withFakeSleep(t)
	calls := 0
	_, _ = WithBackoff(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, BackoffFactor: 3.0}, func() (int, error) {
		calls++
		return 0, errs.IO(nil)
	})
	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		250 * time.Millisecond,
		250 * time.Millisecond,
		250 * time.Millisecond,
	}, *slept)
}

func TestIfRetryable_StopsOnNonRetryable(t *testing.T) {
	withFakeSleep(t)
	calls := 0
	_, err := IfRetryable(DefaultConfig(), func() (int, error) {
		calls++
		return 0, errs.InvalidPath("bad")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestIfRetryable_RetriesRetryableKinds(t *testing.T) {
	withFakeSleep(t)
	calls := 0
	_, err := IfRetryable(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1.0}, func() (int, error) {
		calls++
		return 0, errs.LockFailed("locked")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"io", errs.IO(nil), true},
		{"lock_failed", errs.LockFailed("x"), true},
		{"database_busy", errs.Database("database is busy"), true},
		{"database_locked", errs.Database("table locked"), true},
		{"database_timeout", errs.Database("query timeout"), true},
		{"database_other", errs.Database("constraint violation"), false},
		{"git_lock", errs.GitOperation("index.lock exists"), true},
		{"git_busy", errs.GitOperation("repository busy"), true},
		{"git_other", errs.GitOperation("not a git repository"), false},
		{"invalid_path", errs.InvalidPath("bad"), false},
		{"json_parse", errs.JSONParse(nil), false},
		{"plain_error", assertPlainError(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func assertPlainError() error {
	return &plainErr{"boom"}
}

type plainErr struct{ s string }

func (p *plainErr) Error() string { return p.s }
