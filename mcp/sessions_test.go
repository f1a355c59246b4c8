package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func newBareRegistry(t *testing.T, ids ...string) *sessionRegistry {
	t.Helper()

	var (
		mu   sync.Mutex
		next int
	)
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(ids) {
			return ""
		}
		id := ids[next]
		next++
		return id
	}
	r := newSessionRegistry(sessionRegistryConfig{
		NewServer: func() *mcpsdk.Server {
			return mcpsdk.NewServer(&mcpsdk.Implementation{Name: "bare", Version: "0"}, nil)
		},
		NewID: newID,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Close(ctx)
	})
	return r
}

func TestRegistryCreateLookupTerminate(t *testing.T) {
	t.Parallel()

	r := newBareRegistry(t, "s1")
	rec, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.id != "s1" || rec.transport.SessionID != "s1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	got, ok := r.Lookup("s1")
	if !ok || got != rec {
		t.Fatalf("lookup failed")
	}
	if !r.Terminate("s1", closeReasonClientDelete) {
		t.Fatalf("terminate reported inactive session")
	}
	if _, ok := r.Lookup("s1"); ok {
		t.Fatalf("session still active after terminate")
	}
	if r.Terminate("s1", closeReasonClientDelete) {
		t.Fatalf("second terminate should report false")
	}
}

func TestRegistryNeverReusesClosedIDs(t *testing.T) {
	t.Parallel()

	r := newBareRegistry(t, "dup", "dup", "fresh")
	first, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r.Terminate(first.id, closeReasonClientDelete)

	second, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.id != "fresh" {
		t.Fatalf("expected tombstoned id to be skipped, got %q", second.id)
	}
}

func TestRegistryRejectsLiveCollision(t *testing.T) {
	t.Parallel()

	r := newBareRegistry(t, "same", "same", "other")
	if _, err := r.Create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.id != "other" {
		t.Fatalf("expected collision retry, got %q", rec.id)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}
}

func TestRegistryGivesUpAfterRepeatedCollisions(t *testing.T) {
	t.Parallel()

	r := newBareRegistry(t, "x")
	if _, err := r.Create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Create(context.Background()); err == nil {
		t.Fatalf("expected id generation failure")
	}
}

func TestRegistryWatcherRemovesEndedSessions(t *testing.T) {
	t.Parallel()

	r := newBareRegistry(t, "w1")
	rec, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Close the connection directly, bypassing Terminate.
	_ = rec.session.Close()
	waitFor(t, "watcher removal", func() bool {
		_, ok := r.Lookup("w1")
		return !ok
	})
	if rec.closeReason(closeReasonDisconnected) != closeReasonDisconnected {
		t.Fatalf("unexpected close reason %q", rec.closeReason(""))
	}
}

func TestRegistryCloseRejectsNewSessions(t *testing.T) {
	t.Parallel()

	r := newBareRegistry(t, "a", "b")
	if _, err := r.Create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.Close(ctx)
	if r.Len() != 0 {
		t.Fatalf("expected no sessions after close, got %d", r.Len())
	}
	if _, err := r.Create(context.Background()); err != errRegistryClosed {
		t.Fatalf("expected errRegistryClosed, got %v", err)
	}
}

func TestRegistryLookupEmptyID(t *testing.T) {
	t.Parallel()

	r := newBareRegistry(t)
	if _, ok := r.Lookup(""); ok {
		t.Fatalf("empty id must never resolve")
	}
}

func TestRegistryTombstonesAreBounded(t *testing.T) {
	t.Parallel()

	r := newBareRegistry(t)
	r.mu.Lock()
	for i := 0; i < maxTombstones+10; i++ {
		r.tombstone(string(rune('a'+i%26)) + time.Duration(i).String())
	}
	n := len(r.tombstones)
	r.mu.Unlock()
	if n != maxTombstones {
		t.Fatalf("expected %d tombstones, got %d", maxTombstones, n)
	}
}
