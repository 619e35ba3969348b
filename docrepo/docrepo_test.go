package docrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zigdoc/zigdoc-server/docbuild"
	"github.com/zigdoc/zigdoc-server/gitexec"
	"github.com/zigdoc/zigdoc-server/source"
	"github.com/zigdoc/zigdoc-server/store"
	"github.com/zigdoc/zigdoc-server/workerpool"
)

type fakeGit struct {
	tag      gitexec.Tag
	tagErr   error
	cloneErr error

	clonedInto func(dst string)
}

func (f *fakeGit) FetchLatestTag(ctx context.Context, cloneURL string) (gitexec.Tag, error) {
	return f.tag, f.tagErr
}

func (f *fakeGit) Clone(ctx context.Context, cloneURL, ref, dst string) error {
	if f.cloneErr != nil {
		return f.cloneErr
	}
	if f.clonedInto != nil {
		f.clonedInto(dst)
	}
	return nil
}

type fakeBuilder struct {
	manifest *store.Manifest
	err      error
}

func (f *fakeBuilder) Build(ctx context.Context, checkout string) (*store.Manifest, error) {
	return f.manifest, f.err
}

func newManifestFromDir(t *testing.T, moduleDir string) *store.Manifest {
	t.Helper()
	f, err := os.Open(moduleDir)
	if err != nil {
		t.Fatalf("open module dir: %v", err)
	}
	return &store.Manifest{Modules: map[string]*os.File{filepath.Base(moduleDir): f}}
}

func waitOrTimeout(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for job to finish")
	}
}

func TestGetDocsManifestCacheHit(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	loc := source.Source{Repository: "github.com/org/repo", Version: "v1.0.0", File: "index.html"}
	modDir := filepath.Join(t.TempDir(), "mod")
	if err := os.MkdirAll(modDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	built := newManifestFromDir(t, modDir)
	if err := st.WriteManifest(loc, built); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	repo, err := New(st, &fakeGit{}, &fakeBuilder{}, workerpool.New(nil), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	manifest, err := repo.GetDocsManifest(context.Background(), loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer manifest.Close()

	if _, ok := manifest.Modules["mod"]; !ok {
		t.Errorf("expected module %q in manifest, got %v", "mod", manifest.Names())
	}
}

func TestGetDocsManifestMissQueuesSyncRepository(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	checkoutDescriptor := make(chan string, 1)
	git := &fakeGit{clonedInto: func(dst string) {
		if err := os.WriteFile(filepath.Join(dst, docbuild.DescriptorName), []byte("{}"), 0644); err != nil {
			t.Errorf("write descriptor: %v", err)
		}
		checkoutDescriptor <- dst
	}}

	outDir := t.TempDir()
	modDir := filepath.Join(outDir, "mod")
	if err := os.MkdirAll(modDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	builder := &fakeBuilder{manifest: newManifestFromDir(t, modDir)}

	pool := workerpool.New(nil)
	repo, err := New(st, git, builder, pool, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loc := source.Source{Repository: "github.com/org/repo", Version: "v1.0.0", File: "index.html"}

	_, err = repo.GetDocsManifest(context.Background(), loc)
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}

	select {
	case <-checkoutDescriptor:
	case <-time.After(time.Second):
		t.Fatal("clone was never invoked")
	}

	waitOrTimeout(t, pool.Notify(fingerprintFor(loc)), time.Second)

	manifest, err := st.OpenManifest(loc)
	if err != nil {
		t.Fatalf("OpenManifest after sync: %v", err)
	}
	manifest.Close()
}

func TestGetDocsManifestSecondMissIsCoalesced(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	git := &fakeGit{clonedInto: func(dst string) {
		close(started)
		<-release
	}}

	pool := workerpool.New(nil)
	repo, err := New(st, git, &fakeBuilder{}, pool, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loc := source.Source{Repository: "github.com/org/repo", Version: "v1.0.0", File: "index.html"}

	if _, err := repo.GetDocsManifest(context.Background(), loc); !errors.Is(err, ErrQueued) {
		t.Fatalf("first miss err = %v, want ErrQueued", err)
	}
	<-started

	if _, err := repo.GetDocsManifest(context.Background(), loc); !errors.Is(err, ErrQueued) {
		t.Fatalf("second miss err = %v, want ErrQueued", err)
	}

	close(release)
	pool.Shutdown()
}

func TestSyncLatestChainsToSyncRepository(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	git := &fakeGit{tag: gitexec.Tag{Name: "v9.9.9", Commit: "deadbeef"}, clonedInto: func(dst string) {
		if err := os.WriteFile(filepath.Join(dst, docbuild.DescriptorName), []byte("{}"), 0644); err != nil {
			t.Errorf("write descriptor: %v", err)
		}
	}}

	outDir := t.TempDir()
	modDir := filepath.Join(outDir, "mod")
	if err := os.MkdirAll(modDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	builder := &fakeBuilder{manifest: newManifestFromDir(t, modDir)}

	pool := workerpool.New(nil)
	repo, err := New(st, git, builder, pool, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loc := source.Source{Repository: "github.com/org/repo", Version: source.DefaultVersion, File: "index.html"}

	_, err = repo.GetDocsManifest(context.Background(), loc)
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}

	waitOrTimeout(t, pool.Notify(fingerprintFor(loc)), time.Second)

	resolvedLoc := loc.WithVersion("v9.9.9")
	waitOrTimeout(t, pool.Notify(fingerprintFor(resolvedLoc)), time.Second)

	manifest, err := st.OpenManifest(resolvedLoc)
	if err != nil {
		t.Fatalf("OpenManifest(resolved): %v", err)
	}
	manifest.Close()

	resolved, err := st.ResolvedVersion(loc.Repository)
	if err != nil {
		t.Fatalf("ResolvedVersion: %v", err)
	}
	if resolved != "v9.9.9" {
		t.Errorf("ResolvedVersion() = %q, want %q", resolved, "v9.9.9")
	}
}

func TestSubscribeLatestWaitsForChainedSync(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	releaseClone := make(chan struct{})
	git := &fakeGit{tag: gitexec.Tag{Name: "v1.2.3", Commit: "abc"}, clonedInto: func(dst string) {
		<-releaseClone
		if err := os.WriteFile(filepath.Join(dst, docbuild.DescriptorName), []byte("{}"), 0644); err != nil {
			t.Errorf("write descriptor: %v", err)
		}
	}}

	outDir := t.TempDir()
	modDir := filepath.Join(outDir, "mod")
	if err := os.MkdirAll(modDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	builder := &fakeBuilder{manifest: newManifestFromDir(t, modDir)}

	pool := workerpool.New(nil)
	repo, err := New(st, git, builder, pool, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loc := source.Source{Repository: "github.com/org/repo", Version: source.DefaultVersion, File: "index.html"}

	_, err = repo.GetDocsManifest(context.Background(), loc)
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}

	sub := repo.Subscribe(context.Background(), loc)

	select {
	case <-sub:
		t.Fatal("Subscribe fired before the chained build finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(releaseClone)

	waitOrTimeout(t, sub, 2*time.Second)
}

func TestSyncLatestFetchFailureLeavesNothingQueued(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	git := &fakeGit{tagErr: errors.New("network down")}
	pool := workerpool.New(nil)
	repo, err := New(st, git, &fakeBuilder{}, pool, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loc := source.Source{Repository: "github.com/org/repo", Version: source.DefaultVersion, File: "index.html"}
	if _, err := repo.GetDocsManifest(context.Background(), loc); !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}

	waitOrTimeout(t, pool.Notify(fingerprintFor(loc)), time.Second)

	versions, err := st.Versions(loc.Repository)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("Versions() = %v, want none after a failed fetch", versions)
	}
}
