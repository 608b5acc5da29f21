package terminal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRegistry_AdmitAndRelease(t *testing.T) {
	r := NewRegistry(5 * time.Minute)

	lease, err := r.Admit(Entry{Principal: "1", Username: "alice", Mode: ModeShell}, nil)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if lease.Entry().StartedAt.IsZero() {
		t.Error("expected StartedAt to be stamped")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", r.Len())
	}
	if _, ok := r.Lookup("1"); !ok {
		t.Error("expected entry for principal 1")
	}

	r.Release("1")
	r.Release("1")
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_SecondAdmissionIsBusy(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	evicted := false
	first, err := r.Admit(Entry{Principal: "1", SessionID: "s1"}, func(error) { evicted = true })
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if _, err := r.Admit(Entry{Principal: "1", SessionID: "s2"}, nil); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	if evicted {
		t.Error("first session must not be evicted by a busy rejection")
	}
	entry, _ := r.Lookup("1")
	if entry.SessionID != "s1" {
		t.Errorf("expected first entry to remain, got %q", entry.SessionID)
	}

	// other principals are unaffected
	if _, err := r.Admit(Entry{Principal: "2"}, nil); err != nil {
		t.Errorf("expected principal 2 to be admitted, got %v", err)
	}

	if !first.Release() {
		t.Error("expected first lease to release its entry")
	}
}

func TestRegistry_ReclaimsStaleEntry(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(5 * time.Minute)
	r.SetNowFunc(clock.Now)

	var cause error
	old, err := r.Admit(Entry{Principal: "1", SessionID: "old"}, func(c error) { cause = c })
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	clock.Advance(4*time.Minute + 59*time.Second)
	if _, err := r.Admit(Entry{Principal: "1", SessionID: "new"}, nil); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected busy just under the threshold, got %v", err)
	}

	clock.Advance(time.Second)
	fresh, err := r.Admit(Entry{Principal: "1", SessionID: "new"}, nil)
	if err != nil {
		t.Fatalf("expected stale entry to be reclaimed, got %v", err)
	}
	if !errors.Is(cause, ErrSessionEvicted) {
		t.Errorf("expected old session to be evicted with ErrSessionEvicted, got %v", cause)
	}
	if !fresh.Entry().StartedAt.Equal(clock.Now()) {
		t.Errorf("expected fresh StartedAt, got %v", fresh.Entry().StartedAt)
	}

	// The reclaimed session's teardown must not remove its successor.
	if old.Release() {
		t.Error("expected stale lease release to be a no-op")
	}
	entry, ok := r.Lookup("1")
	if !ok || entry.SessionID != "new" {
		t.Errorf("expected successor entry to survive, got %+v ok=%v", entry, ok)
	}
}

func TestRegistry_ConcurrentAdmission(t *testing.T) {
	r := NewRegistry(5 * time.Minute)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Admit(Entry{Principal: "1"}, nil); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 {
		t.Errorf("expected exactly 1 admission, got %d", admitted.Load())
	}
}

func TestRegistry_EvictAndList(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(0)
	r.SetNowFunc(clock.Now)
	if r.StaleAfter() != DefaultStaleAfter {
		t.Errorf("expected default threshold, got %s", r.StaleAfter())
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	if _, err := r.Admit(Entry{Principal: "2"}, cancel); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if _, err := r.Admit(Entry{Principal: "1"}, nil); err != nil {
		t.Fatal(err)
	}

	list := r.List()
	if len(list) != 2 || list[0].Principal != "2" || list[1].Principal != "1" {
		t.Fatalf("expected oldest first, got %+v", list)
	}
	if age := r.Age(list[0]); age != time.Minute {
		t.Errorf("expected age 1m, got %s", age)
	}

	if !r.Evict("2", ErrSessionTerminated) {
		t.Fatal("expected Evict to find principal 2")
	}
	if !errors.Is(context.Cause(ctx), ErrSessionTerminated) {
		t.Errorf("expected session context cancelled with ErrSessionTerminated, got %v", context.Cause(ctx))
	}
	if r.Evict("2", ErrSessionTerminated) {
		t.Error("expected second Evict to report nothing removed")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", r.Len())
	}
}
