// Package workerpool is a fingerprinted job registry: it admits a job
// only if no job with the same fingerprint is already running, spawns
// a goroutine to run it, deregisters it on completion, and blocks
// shutdown until every spawned goroutine has finished. It also hands
// out completion-notification channels so callers can wait for a
// specific fingerprint to finish without polling, the way the
// teacher's repository package exposes a queueMirror channel instead
// of having callers re-check state on a timer.
package workerpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zigdoc/zigdoc-server/internal/lock"
)

var (
	// ErrPoolStopped is returned by AddJob once Shutdown has been
	// called; callers should treat it as "nothing will run this job".
	ErrPoolStopped = errors.New("worker pool has been shut down")

	// ErrJobExists is returned by AddJob when a job with the same
	// fingerprint is already running; callers are expected to treat
	// this as "someone else is already handling it", not a hard error.
	ErrJobExists = errors.New("a job with this fingerprint is already running")
)

// Fingerprint identifies a job. Two jobs with the same fingerprint
// never run concurrently in the same pool.
type Fingerprint string

// NewFingerprint builds the canonical `kind ":" repository "@" version`
// fingerprint string.
func NewFingerprint(kind, repository, version string) Fingerprint {
	return Fingerprint(fmt.Sprintf("%s:%s@%s", kind, repository, version))
}

type entry struct {
	done chan struct{}
}

// Pool is the fingerprinted job registry.
type Pool struct {
	mu       lock.Mutex
	running  map[Fingerprint]*entry
	shutdown bool
	wg       sync.WaitGroup
	log      *slog.Logger
}

// New returns an empty, running Pool.
func New(log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		running: make(map[Fingerprint]*entry),
		log:     log,
	}
}

// AddJob admits body to run under fingerprint on its own goroutine. It
// returns ErrPoolStopped once Shutdown has been called, or ErrJobExists
// if fingerprint is already running. The fingerprint table's guard is
// held for the entire admission decision, including registering the
// fingerprint, so two callers racing on the same fingerprint cannot
// both succeed; the guard is released before the goroutine that runs
// body is spawned.
func (p *Pool) AddJob(fingerprint Fingerprint, body func()) error {
	p.mu.Lock()

	if p.shutdown {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	if _, ok := p.running[fingerprint]; ok {
		p.mu.Unlock()
		return ErrJobExists
	}

	e := &entry{done: make(chan struct{})}
	p.running[fingerprint] = e
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.completeJob(fingerprint, e)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("job panicked", "fingerprint", fingerprint, "panic", r)
			}
		}()
		body()
	}()

	return nil
}

// completeJob removes fingerprint from the table and closes its done
// channel, unblocking anyone waiting on Notify. Guarded so it can race
// safely against concurrent AddJob/Shutdown calls; only the goroutine
// that registered e may call this, exactly once, on its terminal path.
func (p *Pool) completeJob(fingerprint Fingerprint, e *entry) {
	p.mu.Lock()
	if p.running[fingerprint] == e {
		delete(p.running, fingerprint)
	}
	p.mu.Unlock()
	close(e.done)
}

// Notify returns a channel that is closed when the job running under
// fingerprint completes. If no job is currently running under
// fingerprint, it returns an already-closed channel, so a caller that
// races a miss against a completion never blocks forever.
func (p *Pool) Notify(fingerprint Fingerprint) <-chan struct{} {
	p.mu.Lock()
	e, ok := p.running[fingerprint]
	p.mu.Unlock()

	if !ok {
		done := make(chan struct{})
		close(done)
		return done
	}
	return e.done
}

// Shutdown sets the stopped flag, refusing all further AddJob calls,
// then blocks until every in-flight job has returned. Idempotent:
// calling it more than once, including concurrently, is safe and each
// call still waits for drain. It is safe to invoke from a goroutine fed
// by a signal channel; it must never be called directly from a signal
// handler since taking p.mu there risks deadlocking against a handler
// that was itself interrupted mid-lock.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()

	p.wg.Wait()
}
