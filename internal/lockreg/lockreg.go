// Package lockreg implements the per-database lock registry of spec.md §5:
// a {queued, running} writer counter plus a reader counter, FIFO among
// writers, shared readers excluded while any writer is queued or running.
// In-process ordering is a sync.Cond ticket queue; cross-process mutual
// exclusion for writers is backed by gofrs/flock (the teacher's own
// file-locking dependency) on one lock file per database, so two separate
// node processes never both hold the writer role on the same database.
package lockreg

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

// Registry tracks one lockState per database name, created on first use.
type Registry struct {
	dir string

	mu    sync.Mutex
	locks map[string]*lockState
}

// New returns a registry whose cross-process lock files live under lockDir.
func New(lockDir string) *Registry {
	return &Registry{dir: lockDir, locks: make(map[string]*lockState)}
}

func (r *Registry) state(name string) *lockState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.locks[name]
	if !ok {
		s = newLockState()
		r.locks[name] = s
	}
	return s
}

// Handle is a held lock; Release must be called exactly once.
type Handle struct {
	state     *lockState
	exclusive bool
	flock     *flock.Flock
}

// Acquire blocks until the requested lock on database name is held.
// exclusive=true is a writer acquire (FIFO among other writers, excludes
// all readers); exclusive=false is a shared reader acquire (excludes any
// queued or running writer).
func (r *Registry) Acquire(name string, exclusive bool) (*Handle, error) {
	s := r.state(name)

	if !exclusive {
		s.acquireShared()
		return &Handle{state: s, exclusive: false}, nil
	}

	s.acquireExclusive()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		s.releaseExclusive()
		return nil, loaditerr.Wrap(loaditerr.KindIO, "create lock dir", err)
	}
	fl := flock.New(filepath.Join(r.dir, name+".lock"))
	if err := fl.Lock(); err != nil {
		s.releaseExclusive()
		return nil, loaditerr.Wrap(loaditerr.KindIO, "acquire cross-process lock", err)
	}
	return &Handle{state: s, exclusive: true, flock: fl}, nil
}

// Release gives up the lock, decrementing counters and waking the next
// waiter, per spec.md §5: "release decrements counters and wakes waiters".
func (h *Handle) Release() {
	if !h.exclusive {
		h.state.releaseShared()
		return
	}
	if h.flock != nil {
		_ = h.flock.Unlock()
	}
	h.state.releaseExclusive()
}

// lockState is one database's {queued, running} writer counters plus a
// reader counter, with writers served in strict FIFO order via an
// incrementing ticket checked against a serving counter.
type lockState struct {
	mu   sync.Mutex
	cond *sync.Cond

	readers       int
	writerRunning bool
	queuedWriters int
	nextTicket    int64
	servingTicket int64
}

func newLockState() *lockState {
	s := &lockState{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *lockState) acquireExclusive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := s.nextTicket
	s.nextTicket++
	s.queuedWriters++
	for s.readers > 0 || s.writerRunning || ticket != s.servingTicket {
		s.cond.Wait()
	}
	s.queuedWriters--
	s.writerRunning = true
}

func (s *lockState) releaseExclusive() {
	s.mu.Lock()
	s.writerRunning = false
	s.servingTicket++
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *lockState) acquireShared() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A queued or running writer excludes new readers, so a long writer
	// queue can starve readers — exactly the starvation policy spec.md §5
	// calls for.
	for s.writerRunning || s.queuedWriters > 0 {
		s.cond.Wait()
	}
	s.readers++
}

func (s *lockState) releaseShared() {
	s.mu.Lock()
	s.readers--
	if s.readers == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}
