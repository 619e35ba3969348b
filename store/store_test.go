package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zigdoc/zigdoc-server/source"
)

func mustSource(t *testing.T, repo, version string) source.Source {
	t.Helper()
	return source.Source{Repository: repo, Version: version, File: source.DefaultFile}
}

func TestOpenManifestNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.OpenManifest(mustSource(t, "github.com/org/repo", "v1.0.0"))
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWriteThenOpenManifest(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	buildRoot := t.TempDir()
	modDir := filepath.Join(buildRoot, "mymod")
	if err := os.MkdirAll(filepath.Join(modDir, "sub"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modDir, "index.html"), []byte("<html/>"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modDir, "sub", "a.js"), []byte("1"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	handle, err := os.Open(modDir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer handle.Close()

	built := &Manifest{Modules: map[string]*os.File{"mymod": handle}}

	loc := mustSource(t, "github.com/org/repo", "v1.0.0")
	if err := s.WriteManifest(loc, built); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	stored, err := s.OpenManifest(loc)
	if err != nil {
		t.Fatalf("OpenManifest: %v", err)
	}
	defer stored.Close()

	if diff := cmp.Diff([]string{"mymod"}, stored.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	copiedIndex := filepath.Join(s.Root(), "github.com/org/repo", "v1.0.0", "mymod", "index.html")
	content, err := os.ReadFile(copiedIndex)
	if err != nil {
		t.Fatalf("reading copied file: %v", err)
	}
	if string(content) != "<html/>" {
		t.Errorf("copied content = %q, want %q", content, "<html/>")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "github.com/org/repo", "v1.0.0", "mymod", "sub", "a.js")); err != nil {
		t.Errorf("nested file was not copied: %v", err)
	}
}

func TestOpenManifestEmptyDirIsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	loc := mustSource(t, "github.com/org/repo", "v1.0.0")
	if err := os.MkdirAll(filepath.Join(s.Root(), loc.Repository, loc.Version), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err = s.OpenManifest(loc)
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound for an empty manifest dir", err)
	}
}

func TestLinkLatest(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loc1 := mustSource(t, "github.com/org/repo", "v1.0.0")
	if err := s.LinkLatest(loc1); err != nil {
		t.Fatalf("LinkLatest: %v", err)
	}

	target, err := os.Readlink(filepath.Join(s.Root(), "github.com/org/repo", "latest"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "v1.0.0" {
		t.Errorf("link target = %q, want %q", target, "v1.0.0")
	}

	loc2 := mustSource(t, "github.com/org/repo", "v2.0.0")
	if err := s.LinkLatest(loc2); err != nil {
		t.Fatalf("LinkLatest (republish): %v", err)
	}
	target, err = os.Readlink(filepath.Join(s.Root(), "github.com/org/repo", "latest"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "v2.0.0" {
		t.Errorf("link target after republish = %q, want %q", target, "v2.0.0")
	}
}

func TestRemoveVersionAndVersions(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	repo := "github.com/org/repo"
	for _, v := range []string{"v1.0.0", "v2.0.0"} {
		if err := s.LinkLatest(mustSource(t, repo, v)); err != nil {
			t.Fatalf("LinkLatest(%s): %v", v, err)
		}
	}

	versions, err := s.Versions(repo)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if diff := cmp.Diff([]string{"v1.0.0", "v2.0.0"}, sortedCopy(versions)); diff != "" {
		t.Errorf("Versions() mismatch (-want +got):\n%s", diff)
	}

	if err := s.RemoveVersion(repo, "v1.0.0"); err != nil {
		t.Fatalf("RemoveVersion: %v", err)
	}
	versions, err = s.Versions(repo)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if diff := cmp.Diff([]string{"v2.0.0"}, versions); diff != "" {
		t.Errorf("Versions() after remove mismatch (-want +got):\n%s", diff)
	}
}

func TestResolvedVersion(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	repo := "github.com/org/repo"
	if err := s.LinkLatest(mustSource(t, repo, "v1.2.3")); err != nil {
		t.Fatalf("LinkLatest: %v", err)
	}

	got, err := s.ResolvedVersion(repo)
	if err != nil {
		t.Fatalf("ResolvedVersion: %v", err)
	}
	if got != "v1.2.3" {
		t.Errorf("ResolvedVersion() = %q, want %q", got, "v1.2.3")
	}
}

func TestResolvedVersionNoLatest(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.ResolvedVersion("github.com/org/never-synced"); err == nil {
		t.Fatal("ResolvedVersion() error = nil, want error when no latest link exists")
	}
}

func TestVersionsUnknownRepository(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	versions, err := s.Versions("github.com/org/never-synced")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("Versions() = %v, want empty", versions)
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
