// Package gitexec is a thin capability over an external git executable:
// shallow clone a ref, enumerate remote tags, resolve the default
// branch. It never parses the git wire protocol itself — every
// operation shells out, the way the teacher's repository package
// drives git through internal/utils.RunCommand rather than an
// in-process VCS library.
package gitexec

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/zigdoc/zigdoc-server/internal/utils"
)

var (
	// ErrNotInstalled is returned when the configured git binary cannot
	// be found, either on PATH or at the configured path.
	ErrNotInstalled = errors.New("git executable not found")

	// ErrNotFound is returned by Clone when git exits with status 128,
	// which git uses for "repository not found"/"reference not found".
	ErrNotFound = errors.New("repository or reference not found")

	// ErrAbnormalExit wraps any other non-zero exit from git.
	ErrAbnormalExit = errors.New("git exited abnormally")

	// ErrAbnormalReference is returned when ls-remote output cannot be
	// parsed into the shape this package expects.
	ErrAbnormalReference = errors.New("could not parse git reference output")
)

// Tag is a remote tag resolved by FetchLatestTag.
type Tag struct {
	Name   string
	Commit string
}

// Client invokes a configured git executable via os/exec.
type Client struct {
	exe string
	log *slog.Logger
}

// New returns a Client that runs exe (resolved via PATH if not already
// absolute). log defaults to slog.Default() if nil.
func New(exe string, log *slog.Logger) *Client {
	if exe == "" {
		exe = "git"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{exe: exe, log: log}
}

func (c *Client) run(ctx context.Context, cwd string, args ...string) (string, error) {
	out, err := utils.RunCommand(ctx, c.log, nil, cwd, c.exe, args...)
	if err == nil {
		return out, nil
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return "", fmt.Errorf("%w: %v", ErrNotInstalled, execErr)
	}
	// A configured path (rather than a bare name) skips the PATH lookup,
	// so a missing binary there surfaces from process start instead.
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 128 {
			return "", fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return "", fmt.Errorf("%w: %v", ErrAbnormalExit, err)
	}

	return "", err
}

// Clone performs a shallow clone ("--depth=1 --branch <ref>") of
// cloneURL at ref into dst. dst is handed straight to git clone, which
// accepts a missing or empty directory and refuses a non-empty one;
// callers are expected to have prepared a throwaway working directory.
func (c *Client) Clone(ctx context.Context, cloneURL, ref, dst string) error {
	_, err := c.run(ctx, "", "clone", "--depth=1", "--branch", ref, cloneURL, dst)
	return err
}

// FetchLatestTag lists cloneURL's tags sorted by version, descending,
// and returns the first whose name begins with 'v' or a decimal digit.
// If no tag qualifies, it falls back to DefaultBranch.
func (c *Client) FetchLatestTag(ctx context.Context, cloneURL string) (Tag, error) {
	out, err := c.run(ctx, "", "ls-remote", "--tags", "--sort=-v:refname", "-c", "versionsort.suffix=-", cloneURL)
	if err != nil {
		return Tag{}, err
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		commit, ref, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		name := strings.TrimPrefix(ref, "refs/tags/")
		if name == ref {
			// not a tags/ ref at all; ls-remote --tags shouldn't
			// produce this, but skip defensively.
			continue
		}
		if len(name) == 0 {
			continue
		}
		first := name[0]
		if first == 'v' || (first >= '0' && first <= '9') {
			return Tag{Name: name, Commit: commit}, nil
		}
	}

	return c.DefaultBranch(ctx, cloneURL)
}

// DefaultBranch resolves cloneURL's HEAD via "ls-remote --symref".
func (c *Client) DefaultBranch(ctx context.Context, cloneURL string) (Tag, error) {
	out, err := c.run(ctx, "", "ls-remote", "--symref", cloneURL, "HEAD")
	if err != nil {
		return Tag{}, err
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 2 {
		return Tag{}, fmt.Errorf("%w: %q", ErrAbnormalReference, out)
	}

	first := strings.TrimRight(lines[0], "\r")
	if !strings.HasPrefix(first, "ref: refs/heads/") {
		return Tag{}, fmt.Errorf("%w: %q", ErrAbnormalReference, first)
	}
	name := strings.TrimPrefix(first, "ref: refs/heads/")
	name = strings.TrimSuffix(name, "\tHEAD")
	if name == "" {
		return Tag{}, fmt.Errorf("%w: %q", ErrAbnormalReference, first)
	}

	second := strings.TrimRight(lines[1], "\r")
	commit, _, ok := strings.Cut(second, "\t")
	if !ok || commit == "" {
		return Tag{}, fmt.Errorf("%w: %q", ErrAbnormalReference, second)
	}

	return Tag{Name: name, Commit: commit}, nil
}
