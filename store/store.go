// Package store implements ArtifactStore, the filesystem-rooted cache of
// built documentation keyed by (repository, version). It never blocks on
// the network: every operation here is local disk I/O, grounded on the
// directory/symlink helpers the teacher's repository package uses to
// publish a mirror's worktree.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zigdoc/zigdoc-server/internal/utils"
	"github.com/zigdoc/zigdoc-server/source"
)

const defaultDirMode fs.FileMode = 0755

var (
	// ErrNotFound is returned by OpenManifest when the (repository,
	// version) directory does not exist yet.
	ErrNotFound = errors.New("no manifest is stored for this repository and version")

	// ErrWriteFailed is returned by WriteManifest when the write still
	// fails after the target directory has been wiped and retried once.
	ErrWriteFailed = errors.New("failed to write manifest to the store")
)

// Manifest is a set of opened module directories rooted under the store.
// Keys are module names; it is the caller's responsibility to Close it,
// which releases every directory handle it owns.
type Manifest struct {
	Modules map[string]*os.File
}

// Close releases every directory handle the manifest owns. Safe to call
// more than once.
func (m *Manifest) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	for name, f := range m.Modules {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close module %q: %w", name, err))
		}
	}
	m.Modules = nil
	return errors.Join(errs...)
}

// Names returns the manifest's module names as a fresh slice, owned by
// the caller.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Modules))
	for name := range m.Modules {
		names = append(names, name)
	}
	return names
}

// Store is ArtifactStore: a directory tree rooted at Root, laid out
// "<root>/<repository>/<version>/<module>/<files>" with a sibling
// "<root>/<repository>/latest" symlink.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating root if it does not yet
// exist.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving store root: %w", err)
	}
	if err := os.MkdirAll(abs, defaultDirMode); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the store's absolute root path.
func (s *Store) Root() string { return s.root }

func (s *Store) versionDir(loc source.Source) string {
	return filepath.Join(s.root, loc.Repository, loc.Version)
}

func (s *Store) latestLink(repository string) string {
	return filepath.Join(s.root, repository, "latest")
}

// ResolvedVersion returns the version repository's "latest" symlink
// currently points at. Used by the orchestrator to chain a Subscribe
// wait from a SyncLatest job onto the SyncRepository job it spawns,
// once the symlink has been published but before that second job has
// necessarily completed.
func (s *Store) ResolvedVersion(repository string) (string, error) {
	target, err := utils.ReadAbsLink(s.latestLink(repository))
	if err != nil {
		return "", err
	}
	if target == "" {
		return "", fmt.Errorf("no latest link for repository %q: %w", repository, os.ErrNotExist)
	}
	return filepath.Base(target), nil
}

// OpenManifest opens the directory for loc and returns a Manifest whose
// keys are its immediate subdirectory names. An empty module set is
// treated the same as a missing directory (ErrNotFound): a manifest
// directory can exist with zero modules because LinkLatest creates it
// before the chained build has written anything, or as an artifact of
// a crashed write, and there is nothing useful to serve from it.
func (s *Store) OpenManifest(loc source.Source) (*Manifest, error) {
	dir := s.versionDir(loc)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading manifest dir %q: %w", dir, err)
	}

	modules := make(map[string]*os.File, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			for _, opened := range modules {
				opened.Close()
			}
			return nil, fmt.Errorf("opening module dir %q: %w", path, err)
		}
		modules[e.Name()] = f
	}

	if len(modules) == 0 {
		return nil, ErrNotFound
	}

	return &Manifest{Modules: modules}, nil
}

// WriteManifest copies every regular file under each of src's module
// directories into "<root>/<loc.repository>/<loc.version>/<module>/",
// creating the target directory tree as needed. If the first attempt
// fails, the target directory is wiped with utils.ReCreate and the copy
// is retried once from a clean slate, so a retry never layers fresh
// files over whatever the failed attempt left behind; a second failure
// surfaces ErrWriteFailed. Copies are not atomic across files: a crash
// mid-write leaves the directory partially populated, which
// OpenManifest's empty-manifest check only catches if every module was
// lost, not if some files within a module are missing — callers that
// need stronger guarantees should RemoveVersion and retry from scratch.
func (s *Store) WriteManifest(loc source.Source, src *Manifest) error {
	dir := s.versionDir(loc)

	writeOnce := func() error {
		if err := os.MkdirAll(dir, defaultDirMode); err != nil {
			return err
		}
		for module, handle := range src.Modules {
			if err := copyModuleTree(handle.Name(), filepath.Join(dir, module)); err != nil {
				return fmt.Errorf("module %q: %w", module, err)
			}
		}
		return nil
	}

	if err := writeOnce(); err != nil {
		if err2 := utils.ReCreate(dir); err2 != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err2)
		}
		if err2 := writeOnce(); err2 != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err2)
		}
	}
	return nil
}

// copyModuleTree walks srcDir and copies every regular file it finds to
// a path of the same relative name under dstDir, creating directories
// as needed.
func copyModuleTree(srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)

		if d.IsDir() {
			return os.MkdirAll(target, defaultDirMode)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), defaultDirMode); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// LinkLatest creates the version directory for loc if absent, then
// atomically replaces "<root>/<loc.repository>/latest" with a symlink
// to loc.Version. Callers are expected to serialize calls for the same
// repository through the worker pool's fingerprint so lost-update races
// cannot happen within this process.
func (s *Store) LinkLatest(loc source.Source) error {
	dir := s.versionDir(loc)
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return fmt.Errorf("creating version dir %q: %w", dir, err)
	}
	return utils.PublishSymlink(s.latestLink(loc.Repository), dir)
}

// RemoveVersion deletes "<root>/<repository>/<version>/" and everything
// under it, so that a caller can clear a partial manifest left by a
// failed WriteManifest and have the next request re-synchronize from
// scratch. The orchestrator's own failure paths do not call it.
func (s *Store) RemoveVersion(repository, version string) error {
	dir := filepath.Join(s.root, repository, version)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing version dir %q: %w", dir, err)
	}
	return nil
}

// Versions lists the synced version directories for repository, oldest
// first by name sort, excluding the "latest" symlink itself.
func (s *Store) Versions(repository string) ([]string, error) {
	dir := filepath.Join(s.root, repository)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading repository dir %q: %w", dir, err)
	}

	var versions []string
	for _, e := range entries {
		if e.Name() == "latest" || !e.IsDir() {
			continue
		}
		versions = append(versions, e.Name())
	}
	return versions, nil
}
