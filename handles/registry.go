// Package handles tracks server-resident state that outlives a single RPC:
// prepared statements, executing queries and in-flight ingest uploads. Every
// entry is keyed by a server-generated UUID carried in tickets and action
// payloads.
package handles

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies registry entries.
type Kind int

const (
	Prepared Kind = iota
	Query
	Ingest
)

func (k Kind) String() string {
	switch k {
	case Prepared:
		return "prepared"
	case Query:
		return "query"
	default:
		return "ingest"
	}
}

var (
	// ErrNotFound is returned for lookups of unknown or disposed handles.
	ErrNotFound = errors.New("handle not found")
	// ErrWrongOwner is returned when a caller touches another user's handle.
	ErrWrongOwner = errors.New("handle owned by another user")
	// ErrCancelled is returned when a stream is opened on a cancelled handle.
	ErrCancelled = errors.New("handle cancelled")
)

// Entry is the live state behind one handle.
type Entry struct {
	ID    uuid.UUID
	Kind  Kind
	Owner string
	// SQL is the rewritten statement this handle executes.
	SQL string
	// SerializedSchema caches the engine schema computed at registration.
	SerializedSchema []byte

	mu        sync.Mutex
	cancelled bool
	cancels   map[int]context.CancelFunc
	nextHook  int
	streams   int
	lastUsed  time.Time
}

// Cancelled reports whether Cancel has fired for this entry.
func (e *Entry) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// AttachCancel registers a stream's cancel function and marks the stream
// active. The returned release must be called when the stream ends. If the
// entry is already cancelled the function fires immediately.
func (e *Entry) AttachCancel(cancel context.CancelFunc) (release func()) {
	e.mu.Lock()
	if e.cancelled {
		e.mu.Unlock()
		cancel()
		return func() {}
	}
	if e.cancels == nil {
		e.cancels = make(map[int]context.CancelFunc)
	}
	id := e.nextHook
	e.nextHook++
	e.cancels[id] = cancel
	e.streams++
	e.lastUsed = time.Now()
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.cancels, id)
			e.streams--
			e.lastUsed = time.Now()
			e.mu.Unlock()
		})
	}
}

func (e *Entry) cancel() {
	e.mu.Lock()
	if e.cancelled {
		e.mu.Unlock()
		return
	}
	e.cancelled = true
	hooks := make([]context.CancelFunc, 0, len(e.cancels))
	for _, fn := range e.cancels {
		hooks = append(hooks, fn)
	}
	e.cancels = nil
	e.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (e *Entry) busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams > 0
}

func (e *Entry) idleSince(now time.Time, ttl time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams == 0 && now.Sub(e.lastUsed) >= ttl
}

func (e *Entry) touch() {
	e.mu.Lock()
	e.lastUsed = time.Now()
	e.mu.Unlock()
}

// Registry is the process-wide handle table.
type Registry struct {
	idleTTL      time.Duration
	reapInterval time.Duration

	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

const (
	defaultHandleIdleTTL = 15 * time.Minute
	defaultReapInterval  = time.Minute
)

// NewRegistry creates a registry and starts its idle reaper.
func NewRegistry(idleTTL, reapInterval time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = defaultHandleIdleTTL
	}
	if reapInterval <= 0 {
		reapInterval = defaultReapInterval
	}
	r := &Registry{
		idleTTL:      idleTTL,
		reapInterval: reapInterval,
		entries:      make(map[uuid.UUID]*Entry),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// Insert registers a new entry and returns its generated id.
func (r *Registry) Insert(kind Kind, owner, sql string, serializedSchema []byte) *Entry {
	entry := &Entry{
		ID:               uuid.New(),
		Kind:             kind,
		Owner:            owner,
		SQL:              sql,
		SerializedSchema: serializedSchema,
		lastUsed:         time.Now(),
	}
	r.mu.Lock()
	r.entries[entry.ID] = entry
	r.mu.Unlock()
	return entry
}

// Get looks up a live handle and verifies ownership. A cancelled entry is
// still returned so callers can distinguish Cancelled from NotFound.
func (r *Registry) Get(id uuid.UUID, owner string) (*Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if entry.Owner != owner {
		return nil, ErrWrongOwner
	}
	entry.touch()
	return entry, nil
}

// Cancel fires the entry's cancel hooks. Unknown ids and repeated cancels
// are no-ops.
func (r *Registry) Cancel(id uuid.UUID) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		entry.cancel()
	}
}

// Remove disposes the entry, cancelling any in-flight streams first.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops the reaper and cancels every entry. Used at shutdown so no
// engine statement outlives the server.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh

		r.mu.Lock()
		entries := make([]*Entry, 0, len(r.entries))
		for _, e := range r.entries {
			entries = append(entries, e)
		}
		r.entries = make(map[uuid.UUID]*Entry)
		r.mu.Unlock()

		for _, e := range entries {
			e.cancel()
		}
	})
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()
	defer close(r.doneCh)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reapIdle(time.Now())
		}
	}
}

func (r *Registry) reapIdle(now time.Time) int {
	var stale []*Entry
	r.mu.Lock()
	for id, e := range r.entries {
		if e.busy() || !e.idleSince(now, r.idleTTL) {
			continue
		}
		delete(r.entries, id)
		stale = append(stale, e)
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.cancel()
	}
	return len(stale)
}
