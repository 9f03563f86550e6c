// Package errs defines the single tagged error type shared across the
// statusline engine, in place of a hierarchy of distinct error types.
package errs

import "fmt"

// Kind tags an Error with the category of failure it represents.
type Kind int

const (
	KindIO Kind = iota
	KindJSONParse
	KindDatabase
	KindGitOperation
	KindInvalidPath
	KindStatsFile
	KindLockFailed
	KindConfig
	KindSync
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindJSONParse:
		return "json_parse"
	case KindDatabase:
		return "database"
	case KindGitOperation:
		return "git_operation"
	case KindInvalidPath:
		return "invalid_path"
	case KindStatsFile:
		return "stats_file"
	case KindLockFailed:
		return "lock_failed"
	case KindConfig:
		return "config"
	case KindSync:
		return "sync"
	default:
		return "other"
	}
}

// Error is the single tagged error type used throughout the engine.
// A one-line Msg is always suitable for a warning printed to stderr.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Cause.Error())
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

func build(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

func wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Cause: cause}
}

// IO wraps a transient I/O failure (timeouts, interrupted reads).
func IO(cause error) *Error { return wrap(KindIO, "I/O error", cause) }

// JSONParse wraps a JSON decoding failure.
func JSONParse(cause error) *Error { return wrap(KindJSONParse, "failed to parse JSON", cause) }

// Database wraps a relational-store failure.
func Database(msg string) *Error { return build(KindDatabase, msg) }

// DatabaseErr wraps a relational-store failure with its underlying cause.
func DatabaseErr(msg string, cause error) *Error { return wrap(KindDatabase, msg, cause) }

// GitOperation reports a failed git invocation.
func GitOperation(msg string) *Error { return build(KindGitOperation, msg) }

// InvalidPath reports a path that failed security validation.
func InvalidPath(msg string) *Error { return build(KindInvalidPath, msg) }

// StatsFile reports a failure specific to the JSON stats file's semantics.
func StatsFile(msg string) *Error { return build(KindStatsFile, msg) }

// LockFailed reports failure to acquire an advisory file lock.
func LockFailed(msg string) *Error { return build(KindLockFailed, msg) }

// Config reports a configuration loading/parsing failure.
func Config(msg string) *Error { return build(KindConfig, msg) }

// Sync reports a failure in the (out-of-scope) remote-sync collaborator.
func Sync(msg string) *Error { return build(KindSync, msg) }

// Other is the catch-all for failures that don't fit another kind.
func Other(msg string) *Error { return build(KindOther, msg) }

// OtherErr is the catch-all for failures with an underlying cause.
func OtherErr(msg string, cause error) *Error { return wrap(KindOther, msg, cause) }
