// Package docservice is the thin read-side facade the HTTP layer calls
// into: module enumeration and single-file retrieval, mapping the
// "miss-in-progress" signal from docrepo to its own distinguished
// errors instead of leaking docrepo's.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zigdoc/zigdoc-server/docrepo"
	"github.com/zigdoc/zigdoc-server/source"
)

var (
	// ErrQueued is returned when the requested documentation is not
	// yet built; a build has been queued or is already running.
	ErrQueued = docrepo.ErrQueued

	// ErrModuleNotFound is returned by GetDocsResource when loc names
	// a module absent from the manifest.
	ErrModuleNotFound = errors.New("module not found")

	// ErrUnrecognizedFileExtension is returned when loc.File's
	// extension has no known content type, or has none at all.
	ErrUnrecognizedFileExtension = errors.New("unrecognized file extension")
)

var contentTypeByExt = map[string]string{
	".html": "text/html",
	".md":   "text/markdown",
	".wasm": "application/wasm",
	".js":   "application/javascript",
	".css":  "text/css",
	".tar":  "application/x-tar",
}

// Resource is an opened artifact file paired with the content type to
// serve it with. Callers must Close it.
type Resource struct {
	File        *os.File
	ContentType string
}

// Close releases the underlying file handle.
func (r *Resource) Close() error {
	if r == nil || r.File == nil {
		return nil
	}
	return r.File.Close()
}

// Service is the read-side facade.
type Service struct {
	repo *docrepo.Repository
}

// New returns a Service backed by repo.
func New(repo *docrepo.Repository) *Service {
	return &Service{repo: repo}
}

// Subscribe exposes docrepo.Repository.Subscribe to the HTTP layer so
// the /subscribe stream has something to wait on besides re-polling
// GetDocsResource.
func (s *Service) Subscribe(ctx context.Context, loc source.Source) <-chan struct{} {
	return s.repo.Subscribe(ctx, loc)
}

// GetModulesList returns loc's module names, or ErrQueued if the build
// has not completed yet.
func (s *Service) GetModulesList(ctx context.Context, loc source.Source) ([]string, error) {
	m, err := s.repo.GetDocsManifest(ctx, loc)
	if err != nil {
		return nil, translateErr(err)
	}
	defer m.Close()

	return m.Names(), nil
}

// GetDocsResource opens loc.Module/loc.File and returns it paired with
// a content type derived from loc.File's extension.
func (s *Service) GetDocsResource(ctx context.Context, loc source.Source) (*Resource, error) {
	ext := filepath.Ext(loc.File)
	contentType, ok := contentTypeByExt[ext]
	if !ok {
		return nil, ErrUnrecognizedFileExtension
	}

	m, err := s.repo.GetDocsManifest(ctx, loc)
	if err != nil {
		return nil, translateErr(err)
	}
	defer m.Close()

	moduleDir, ok := m.Modules[loc.Module]
	if !ok {
		return nil, ErrModuleNotFound
	}

	path := filepath.Join(moduleDir.Name(), strings.TrimPrefix(loc.File, "/"))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrModuleNotFound
		}
		return nil, fmt.Errorf("opening resource %q: %w", path, err)
	}

	return &Resource{File: f, ContentType: contentType}, nil
}

func translateErr(err error) error {
	if errors.Is(err, docrepo.ErrQueued) {
		return ErrQueued
	}
	return err
}
