package terminal

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/trinityai/trinity-gateway/internal/logutil"
)

// DefaultStaleAfter is the age at which an admitted entry is presumed
// abandoned and may be reclaimed by a new admission.
const DefaultStaleAfter = 5 * time.Minute

var (
	// ErrSessionBusy is returned by Admit while the principal already holds
	// a live session.
	ErrSessionBusy = errors.New("session already active for principal")
	// ErrSessionEvicted is the cancellation cause of a session whose entry
	// was reclaimed as stale.
	ErrSessionEvicted = errors.New("session reclaimed by a newer connection")
	// ErrSessionTerminated is the cancellation cause of a session closed by
	// an administrator.
	ErrSessionTerminated = errors.New("session terminated by administrator")
)

// Entry describes one admitted session.
type Entry struct {
	Principal string
	Username  string
	SessionID string
	Mode      Mode
	Container string
	StartedAt time.Time
}

type registryEntry struct {
	Entry
	evict context.CancelCauseFunc
}

// Lease is proof of one admission. Releasing a lease removes the entry only
// while it still belongs to that admission.
type Lease struct {
	r     *Registry
	entry *registryEntry
}

// Entry returns the admitted entry.
func (l *Lease) Entry() Entry { return l.entry.Entry }

// Release removes the entry if this lease still owns it.
func (l *Lease) Release() bool { return l.r.ReleaseLease(l) }

// Registry is the process-wide table of active sessions keyed by principal.
// At most one non-stale entry exists per principal.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*registryEntry
	staleAfter time.Duration
	now        func() time.Time
}

func NewRegistry(staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Registry{
		entries:    make(map[string]*registryEntry),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// SetNowFunc replaces the clock. Used by tests.
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	r.now = fn
	r.mu.Unlock()
}

// StaleAfter returns the reclamation threshold.
func (r *Registry) StaleAfter() time.Duration { return r.staleAfter }

// Admit registers e for its principal, stamping StartedAt. It fails with
// ErrSessionBusy while a younger entry exists. A stale entry is replaced
// and its evict func is called with ErrSessionEvicted. evict may be nil.
func (r *Registry) Admit(e Entry, evict context.CancelCauseFunc) (*Lease, error) {
	r.mu.Lock()
	now := r.now()
	var reclaimed *registryEntry
	if existing, ok := r.entries[e.Principal]; ok {
		age := now.Sub(existing.StartedAt)
		if age < r.staleAfter {
			r.mu.Unlock()
			return nil, ErrSessionBusy
		}
		reclaimed = existing
		log.Printf("[registry] WARNING: reclaiming stale session %s for principal %s (age %s)",
			existing.SessionID, logutil.SanitizeForLog(e.Principal), age.Round(time.Second))
	}
	e.StartedAt = now
	entry := &registryEntry{Entry: e, evict: evict}
	r.entries[e.Principal] = entry
	r.mu.Unlock()

	if reclaimed != nil && reclaimed.evict != nil {
		reclaimed.evict(ErrSessionEvicted)
	}
	return &Lease{r: r, entry: entry}, nil
}

// Release removes the principal's entry unconditionally. It is a no-op when
// no entry exists.
func (r *Registry) Release(principal string) {
	r.mu.Lock()
	delete(r.entries, principal)
	r.mu.Unlock()
}

// ReleaseLease removes the entry held by l, unless it has since been
// reclaimed by another admission.
func (r *Registry) ReleaseLease(l *Lease) bool {
	if l == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[l.entry.Principal]; ok && cur == l.entry {
		delete(r.entries, l.entry.Principal)
		return true
	}
	return false
}

// Evict removes the principal's entry and cancels its session with cause.
func (r *Registry) Evict(principal string, cause error) bool {
	r.mu.Lock()
	entry, ok := r.entries[principal]
	if ok {
		delete(r.entries, principal)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if entry.evict != nil {
		entry.evict(cause)
	}
	return true
}

// Lookup returns the principal's entry.
func (r *Registry) Lookup(principal string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[principal]
	if !ok {
		return Entry{}, false
	}
	return entry.Entry, true
}

// List returns all entries, oldest first.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Entry)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Age reports how long ago e was admitted by the registry's clock.
func (r *Registry) Age(e Entry) time.Duration {
	r.mu.Lock()
	now := r.now()
	r.mu.Unlock()
	return now.Sub(e.StartedAt)
}
