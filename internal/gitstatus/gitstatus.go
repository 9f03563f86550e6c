// Package gitstatus is the git integration boundary (C-aux): given a
// directory, it yields a branch name plus added/modified/deleted/untracked
// counts, or nil if the directory isn't a validated git working tree.
//
// Grounded on original_source/src/git.rs: same validate-then-canonicalize
// security gate, same `git status --porcelain=v1 --branch` invocation and
// parse, same short retry around the subprocess call.
package gitstatus

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/hagan/claudia-statusline/internal/errs"
	"github.com/hagan/claudia-statusline/internal/retry"
)

// Status is one directory's git working-tree summary.
type Status struct {
	Branch    string
	Added     int
	Modified  int
	Deleted   int
	Untracked int
}

// resultCache memoizes git status lookups for a few seconds so repeated
// lookups of the same directory within one process reuse the result
// instead of shelling out to git again; a one-shot render asks once.
var resultCache = gocache.New(5*time.Second, 10*time.Second)

// Get validates dir per spec.md §4.9/P10, then runs `git status
// --porcelain=v1 --branch` with a short retry and parses the output.
// Returns nil for any failure (non-directory, not a repo, git not found,
// git exits non-zero).
func Get(dir string, retryCfg retry.Config) *Status {
	safeDir, err := validateGitDir(dir)
	if err != nil {
		return nil
	}

	if cached, ok := resultCache.Get(safeDir); ok {
		status, _ := cached.(Status)
		return &status
	}

	out, err := retry.WithBackoff(retryCfg, func() (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "git", "status", "--porcelain=v1", "--branch")
		cmd.Dir = safeDir
		output, err := cmd.Output()
		if err != nil {
			return "", errs.GitOperation("git status failed: " + err.Error())
		}
		return string(output), nil
	})
	if err != nil {
		return nil
	}

	status := parsePorcelain(out)
	resultCache.Set(safeDir, status, gocache.DefaultExpiration)
	return &status
}

// validateGitDir rejects null bytes, canonicalizes the path (resolving
// symlinks, rejecting non-existent paths), and requires a .git directory
// to exist underneath — matching original_source's validate_directory_path.
func validateGitDir(dir string) (string, error) {
	if strings.ContainsRune(dir, 0) {
		return "", errs.InvalidPath("path contains null bytes")
	}
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", errs.InvalidPath("cannot canonicalize path: " + dir)
	}
	info, err := os.Stat(real)
	if err != nil || !info.IsDir() {
		return "", errs.InvalidPath("path is not a directory: " + dir)
	}
	if _, err := os.Stat(filepath.Join(real, ".git")); err != nil {
		return "", errs.GitOperation("not a git repository")
	}
	return real, nil
}

func parsePorcelain(text string) Status {
	var status Status
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "## "):
			branchInfo := line[3:]
			if idx := strings.Index(branchInfo, "..."); idx >= 0 {
				status.Branch = branchInfo[:idx]
			} else {
				status.Branch = branchInfo
			}
		case len(line) > 2:
			switch line[:2] {
			case "A ", "AM", "AD", " A":
				status.Added++
			case "M ", "MM", "MD", " M", "RM", "R ":
				status.Modified++
			case "D ", "DM", " D":
				status.Deleted++
			case "??":
				status.Untracked++
			}
		}
	}
	return status
}
