// Package docrepo implements Repository, the orchestrator that wires
// the store, git and doc-build capabilities together behind the
// worker pool: look up a manifest, and on a miss queue whichever job
// resolves and produces it. Modeled on the teacher's repository
// package, which plays the same role for mirrored git repositories
// rather than built documentation trees.
package docrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/zigdoc/zigdoc-server/docbuild"
	"github.com/zigdoc/zigdoc-server/gitexec"
	"github.com/zigdoc/zigdoc-server/source"
	"github.com/zigdoc/zigdoc-server/store"
	"github.com/zigdoc/zigdoc-server/workerpool"
)

const (
	kindSyncLatest     = "SyncLatest"
	kindSyncRepository = "SyncRepository"
)

// ErrQueued is the distinguished success-ish signal GetDocsManifest
// returns on a cache miss: a build has been queued (or one was already
// running), and the HTTP layer is expected to render a "pending" page
// rather than treat this as a failure.
var ErrQueued = errors.New("documentation build has been queued")

// gitClient is the subset of gitexec.Client the orchestrator needs,
// narrowed so tests can supply a fake.
type gitClient interface {
	Clone(ctx context.Context, cloneURL, ref, dst string) error
	FetchLatestTag(ctx context.Context, cloneURL string) (gitexec.Tag, error)
}

// docBuilder is the subset of docbuild.Builder the orchestrator needs.
type docBuilder interface {
	Build(ctx context.Context, checkout string) (*store.Manifest, error)
}

// Repository is the read/sync orchestrator for one documentation
// store, shared across every (repository, version) it serves.
type Repository struct {
	store   *store.Store
	git     gitClient
	builder docBuilder
	pool    *workerpool.Pool
	workDir string
	log     *slog.Logger
}

// New returns a Repository. workDir is where throwaway clone working
// trees are created; it is created if absent.
func New(st *store.Store, git gitClient, builder docBuilder, pool *workerpool.Pool, workDir string, log *slog.Logger) (*Repository, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("creating work dir %q: %w", workDir, err)
	}
	return &Repository{
		store:   st,
		git:     git,
		builder: builder,
		pool:    pool,
		workDir: workDir,
		log:     log,
	}, nil
}

func kindFor(loc source.Source) string {
	if loc.Version == source.DefaultVersion {
		return kindSyncLatest
	}
	return kindSyncRepository
}

func fingerprintFor(loc source.Source) workerpool.Fingerprint {
	return workerpool.NewFingerprint(kindFor(loc), loc.Repository, loc.Version)
}

// GetDocsManifest is the central read path: open the manifest if it
// exists, otherwise queue the job that will produce it and return
// ErrQueued immediately.
func (r *Repository) GetDocsManifest(ctx context.Context, loc source.Source) (*store.Manifest, error) {
	manifest, err := r.store.OpenManifest(loc)
	if err == nil {
		return manifest, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	fp := fingerprintFor(loc)
	log := r.log.With("fingerprint", fp, "loc", loc.String())

	switch kindFor(loc) {
	case kindSyncLatest:
		err = r.pool.AddJob(fp, r.syncLatestJob(loc))
	default:
		err = r.pool.AddJob(fp, r.syncRepositoryJob(loc))
	}

	switch {
	case err == nil:
		log.Info("queued documentation build")
	case errors.Is(err, workerpool.ErrJobExists):
		log.Debug("documentation build already queued")
	case errors.Is(err, workerpool.ErrPoolStopped):
		log.Warn("could not queue documentation build, pool is shutting down")
	default:
		log.Error("could not queue documentation build", "err", err)
	}

	return nil, ErrQueued
}

// Subscribe returns a channel that closes once loc's documentation is
// expected to be available: either the fingerprint currently in flight
// for loc completes, or — when loc asks for "latest" — once the
// SyncLatest job resolves a concrete version and that version's
// SyncRepository job also completes. Callers still impose their own
// deadline (the HTTP layer's 20s cap); this channel alone never times
// out.
func (r *Repository) Subscribe(ctx context.Context, loc source.Source) <-chan struct{} {
	first := r.pool.Notify(fingerprintFor(loc))

	if kindFor(loc) != kindSyncLatest {
		return first
	}

	out := make(chan struct{})
	go func() {
		defer close(out)

		select {
		case <-first:
		case <-ctx.Done():
			return
		}

		resolved, err := r.store.ResolvedVersion(loc.Repository)
		if err != nil {
			return
		}

		fp2 := workerpool.NewFingerprint(kindSyncRepository, loc.Repository, resolved)
		select {
		case <-r.pool.Notify(fp2):
		case <-ctx.Done():
		}
	}()
	return out
}

// syncLatestJob resolves loc's "latest" to a concrete tag, publishes
// the latest symlink, then chains a SyncRepository job for that tag.
func (r *Repository) syncLatestJob(loc source.Source) func() {
	return func() {
		ctx := context.Background()
		log := r.log.With("repository", loc.Repository)
		start := time.Now()

		tag, err := r.git.FetchLatestTag(ctx, loc.CloneURL())
		if err != nil {
			log.Error("failed to resolve latest version", "err", err)
			recordBuild(kindSyncLatest, loc.Repository, false, start)
			return
		}

		resolved := loc.WithVersion(tag.Name)

		if err := r.store.LinkLatest(resolved); err != nil {
			log.Error("failed to publish latest symlink", "version", tag.Name, "err", err)
			recordBuild(kindSyncLatest, loc.Repository, false, start)
			return
		}
		recordBuild(kindSyncLatest, loc.Repository, true, start)

		fp := fingerprintFor(resolved)
		err = r.pool.AddJob(fp, r.syncRepositoryJob(resolved))
		if err != nil && !errors.Is(err, workerpool.ErrJobExists) {
			log.Error("failed to queue chained sync", "version", tag.Name, "err", err)
		}
	}
}

// syncRepositoryJob clones loc.Repository at loc.Version, builds its
// documentation if the checkout opts in, and writes the result to the
// store.
func (r *Repository) syncRepositoryJob(loc source.Source) func() {
	return func() {
		ctx := context.Background()
		log := r.log.With("repository", loc.Repository, "version", loc.Version)
		start := time.Now()

		dst, err := os.MkdirTemp(r.workDir, "checkout-*")
		if err != nil {
			log.Error("failed to create checkout dir", "err", err)
			recordBuild(kindSyncRepository, loc.Repository, false, start)
			return
		}
		defer os.RemoveAll(dst)

		if err := r.git.Clone(ctx, loc.CloneURL(), loc.Version, dst); err != nil {
			log.Error("clone failed", "err", err)
			recordBuild(kindSyncRepository, loc.Repository, false, start)
			return
		}

		if !docbuild.HasDescriptor(dst) {
			log.Info("repository does not opt into documentation building, skipping")
			recordBuild(kindSyncRepository, loc.Repository, true, start)
			return
		}

		manifest, err := r.builder.Build(ctx, dst)
		if err != nil {
			log.Error("documentation build failed", "err", err)
			recordBuild(kindSyncRepository, loc.Repository, false, start)
			return
		}
		defer manifest.Close()

		if err := r.store.WriteManifest(loc, manifest); err != nil {
			log.Error("failed to write manifest to store", "err", err)
			recordBuild(kindSyncRepository, loc.Repository, false, start)
			return
		}

		log.Info("documentation build complete", "modules", len(manifest.Modules))
		recordBuild(kindSyncRepository, loc.Repository, true, start)
	}
}
