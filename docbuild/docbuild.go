// Package docbuild is a thin capability over an external
// documentation-generator executable: given a checked-out working tree
// that opts in with a "zigdoc.zon" descriptor at its root, it produces
// a "zig-out/zigdocs/<module>/…" tree and hands back a manifest of open
// directory handles, one per module. It never parses the generator's
// own build graph — every phase shells out, the same way gitexec drives
// git and the teacher's repository package drives its VCS binary.
package docbuild

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zigdoc/zigdoc-server/internal/utils"
	"github.com/zigdoc/zigdoc-server/store"
)

// DescriptorName is the file, at a checkout's root, whose presence
// opts a repository into documentation building. It is also the
// manifest consulted for dependency URLs in the fetch phase, and is
// unconditionally overwritten with buildDescriptor before the build
// phase runs, so the generator always sees a descriptor in the shape
// this service expects regardless of what the repository committed.
const DescriptorName = "zigdoc.zon"

//go:embed build.zigdocs.json
var buildDescriptor []byte

var (
	// ErrNotInstalled is returned when the configured generator binary
	// cannot be found on PATH.
	ErrNotInstalled = errors.New("doc generator executable not found")

	// ErrAbnormalExit wraps a non-zero exit from the build subcommand.
	ErrAbnormalExit = errors.New("doc generator exited abnormally")

	// ErrInvalidDescriptor is logged, never returned, when the
	// repository's own descriptor cannot be parsed for dependency
	// URLs; the fetch phase simply proceeds without dependencies.
	ErrInvalidDescriptor = errors.New("could not parse the repository's build descriptor")
)

// Builder invokes a configured documentation-generator executable.
type Builder struct {
	exe      string
	cacheDir string
	log      *slog.Logger
}

// New returns a Builder that runs exe (resolved via PATH if not already
// absolute). cacheDir, if non-empty, populates ZIG_GLOBAL_CACHE_DIR and
// ZIG_CACHE_DIR in the generator's environment for both phases.
func New(exe, cacheDir string, log *slog.Logger) *Builder {
	if exe == "" {
		exe = "zig"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{exe: exe, cacheDir: cacheDir, log: log}
}

func (b *Builder) envs() []string {
	if b.cacheDir == "" {
		return nil
	}
	return []string{
		"ZIG_GLOBAL_CACHE_DIR=" + b.cacheDir,
		"ZIG_CACHE_DIR=" + b.cacheDir,
	}
}

// HasDescriptor reports whether checkout opts into documentation
// building, i.e. whether DescriptorName exists at its root.
func HasDescriptor(checkout string) bool {
	_, err := os.Stat(filepath.Join(checkout, DescriptorName))
	return err == nil
}

// Build runs both phases against checkout and returns the resulting
// manifest. Callers must Close the manifest once done with it.
func (b *Builder) Build(ctx context.Context, checkout string) (*store.Manifest, error) {
	b.fetchDependencies(ctx, checkout)

	descriptorPath := filepath.Join(checkout, DescriptorName)
	if err := os.WriteFile(descriptorPath, buildDescriptor, 0644); err != nil {
		return nil, fmt.Errorf("writing build descriptor: %w", err)
	}

	if _, err := utils.RunCommand(ctx, b.log, b.envs(), checkout, b.exe,
		"build", "--build-file", DescriptorName, "zigdocs"); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("%w: %v", ErrNotInstalled, execErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrAbnormalExit, err)
	}

	return openManifest(filepath.Join(checkout, "zig-out", "zigdocs"))
}

// fetchDependencies parses checkout's own descriptor for dependency
// URLs and invokes "fetch <url>" for each, stripping any #fragment.
// Every failure here — a missing or malformed descriptor, or a failed
// fetch — is logged and swallowed: dependency fetch is an optimization,
// not a precondition of a successful build.
func (b *Builder) fetchDependencies(ctx context.Context, checkout string) {
	urls, err := parseDependencyURLs(filepath.Join(checkout, DescriptorName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.log.Warn("failed to parse build descriptor for dependencies", "err", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err))
		}
		return
	}

	for _, u := range urls {
		u, _, _ = strings.Cut(u, "#")
		if _, err := utils.RunCommand(ctx, b.log, b.envs(), checkout, b.exe, "fetch", u); err != nil {
			b.log.Warn("dependency fetch failed, continuing", "url", u, "err", err)
		}
	}
}

// parseDependencyURLs reads dependency URL strings out of the
// descriptor file: at most one per line, taken from the first
// `.url = "https://example.com/pkg.tar.gz"` field on that line, whether
// the field stands on its own line or inside an inline `.name = .{ ... }`
// dependency entry. Exact schema beyond dependency URLs is not this
// service's concern.
func parseDependencyURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		field := strings.Index(line, ".url")
		if field < 0 {
			continue
		}
		line = line[field:]
		start := strings.IndexByte(line, '"')
		if start < 0 {
			continue
		}
		end := strings.IndexByte(line[start+1:], '"')
		if end < 0 {
			continue
		}
		urls = append(urls, line[start+1:start+1+end])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

// openManifest opens every immediate subdirectory of outDir as a
// module.
func openManifest(outDir string) (*store.Manifest, error) {
	if empty, err := utils.DirIsEmpty(outDir); err != nil {
		return nil, fmt.Errorf("reading build output %q: %w", outDir, err)
	} else if empty {
		return nil, fmt.Errorf("build produced no modules under %q", outDir)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("reading build output %q: %w", outDir, err)
	}

	modules := make(map[string]*os.File, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(outDir, e.Name())
		f, openErr := os.Open(path)
		if openErr != nil {
			for _, opened := range modules {
				opened.Close()
			}
			return nil, fmt.Errorf("opening module dir %q: %w", path, openErr)
		}
		modules[e.Name()] = f
	}

	if len(modules) == 0 {
		return nil, fmt.Errorf("build produced no modules under %q", outDir)
	}

	return &store.Manifest{Modules: modules}, nil
}
