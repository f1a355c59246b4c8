package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Siddhant412/chatgpt-notes-app/internal/clock"
	"pkt.systems/pslog"
)

const (
	closeReasonClientDelete = "client_delete"
	closeReasonDisconnected = "disconnected"
	closeReasonShutdown     = "shutdown"
	closeReasonInitFailed   = "init_failed"

	// maxTombstones bounds how many closed ids are remembered.
	maxTombstones = 4096
	// maxIDAttempts bounds id generation retries on collision.
	maxIDAttempts = 8
)

var errRegistryClosed = errors.New("session registry closed")

// sessionRecord binds one MCP session id to its transport and server. It is
// published to the registry only once fully constructed.
type sessionRecord struct {
	id        string
	server    *mcpsdk.Server
	transport *mcpsdk.StreamableServerTransport
	session   *mcpsdk.ServerSession
	createdAt time.Time

	reasonMu sync.Mutex
	reason   string
}

// markClosing records why the session is being closed. The first reason wins.
func (rec *sessionRecord) markClosing(reason string) {
	rec.reasonMu.Lock()
	defer rec.reasonMu.Unlock()
	if rec.reason == "" {
		rec.reason = reason
	}
}

func (rec *sessionRecord) closeReason(fallback string) string {
	rec.reasonMu.Lock()
	defer rec.reasonMu.Unlock()
	if rec.reason == "" {
		return fallback
	}
	return rec.reason
}

type sessionRegistryConfig struct {
	NewServer func() *mcpsdk.Server
	NewID     func() string
	Clock     clock.Clock
	Logger    pslog.Logger
	Metrics   *serverMetrics
}

// sessionRegistry owns the id -> session mapping. Lifecycle per id is
// absent -> active -> closed; closed is terminal.
type sessionRegistry struct {
	newServer func() *mcpsdk.Server
	newID     func() string
	clock     clock.Clock
	logger    pslog.Logger
	metrics   *serverMetrics

	mu         sync.RWMutex
	active     map[string]*sessionRecord
	reserved   map[string]struct{}
	tombstones map[string]struct{}
	tombOrder  []string
	closed     bool
	watchers   sync.WaitGroup
}

func newSessionRegistry(cfg sessionRegistryConfig) *sessionRegistry {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &sessionRegistry{
		newServer:  cfg.NewServer,
		newID:      cfg.NewID,
		clock:      clk,
		logger:     logger,
		metrics:    cfg.Metrics,
		active:     make(map[string]*sessionRecord),
		reserved:   make(map[string]struct{}),
		tombstones: make(map[string]struct{}),
	}
}

// Create builds a fresh session and registers it. ctx becomes the base
// context of the session connection, so it must outlive the request that
// triggered the creation.
func (r *sessionRegistry) Create(ctx context.Context) (*sessionRecord, error) {
	id, err := r.reserveID()
	if err != nil {
		return nil, err
	}
	srv := r.newServer()
	transport := &mcpsdk.StreamableServerTransport{SessionID: id}
	ss, err := srv.Connect(ctx, transport, nil)
	if err != nil {
		r.releaseID(id)
		return nil, fmt.Errorf("connect session: %w", err)
	}
	rec := &sessionRecord{
		id:        id,
		server:    srv,
		transport: transport,
		session:   ss,
		createdAt: r.clock.Now(),
	}

	r.mu.Lock()
	delete(r.reserved, id)
	if r.closed {
		r.mu.Unlock()
		_ = ss.Close()
		return nil, errRegistryClosed
	}
	r.active[id] = rec
	r.watchers.Add(1)
	r.mu.Unlock()

	r.metrics.sessionOpened(ctx)
	r.logger.Info("mcp.session.initialized", "session_id", id)
	go r.watch(rec)
	return rec, nil
}

// Lookup returns the active session for id.
func (r *sessionRegistry) Lookup(id string) (*sessionRecord, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.active[id]
	return rec, ok
}

// Terminate closes the session connection and then drops the entry. It
// reports whether id was active.
func (r *sessionRegistry) Terminate(id, reason string) bool {
	rec, ok := r.Lookup(id)
	if !ok {
		return false
	}
	rec.markClosing(reason)
	if err := rec.session.Close(); err != nil {
		r.logger.Debug("mcp.session.close_error", "session_id", id, "error", err)
	}
	r.remove(rec, reason)
	return true
}

// Len returns the number of active sessions.
func (r *sessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Close terminates every active session and rejects further creation. It
// waits for watchers until ctx is done.
func (r *sessionRegistry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	live := make([]*sessionRecord, 0, len(r.active))
	for _, rec := range r.active {
		live = append(live, rec)
	}
	r.mu.Unlock()

	for _, rec := range live {
		rec.markClosing(closeReasonShutdown)
		_ = rec.session.Close()
		r.remove(rec, closeReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		r.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("mcp.sessions.close_timeout", "pending", len(live))
	}
}

func (r *sessionRegistry) watch(rec *sessionRecord) {
	defer r.watchers.Done()
	err := rec.session.Wait()
	if r.remove(rec, rec.closeReason(closeReasonDisconnected)) {
		r.logger.Debug("mcp.session.connection_ended", "session_id", rec.id, "error", err)
	}
}

// remove drops rec if it is still the active record for its id, and
// tombstones the id. It reports whether this call removed it.
func (r *sessionRegistry) remove(rec *sessionRecord, reason string) bool {
	r.mu.Lock()
	current, ok := r.active[rec.id]
	if !ok || current != rec {
		r.mu.Unlock()
		return false
	}
	delete(r.active, rec.id)
	r.tombstone(rec.id)
	r.mu.Unlock()

	age := r.clock.Now().Sub(rec.createdAt)
	r.metrics.sessionClosed(context.Background(), reason)
	r.logger.Info("mcp.session.closed",
		"session_id", rec.id,
		"reason", reason,
		"age_ms", age.Milliseconds(),
	)
	return true
}

// tombstone must be called with r.mu held.
func (r *sessionRegistry) tombstone(id string) {
	if _, ok := r.tombstones[id]; ok {
		return
	}
	r.tombstones[id] = struct{}{}
	r.tombOrder = append(r.tombOrder, id)
	if len(r.tombOrder) > maxTombstones {
		oldest := r.tombOrder[0]
		r.tombOrder = r.tombOrder[1:]
		delete(r.tombstones, oldest)
	}
}

func (r *sessionRegistry) reserveID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", errRegistryClosed
	}
	for range maxIDAttempts {
		id := r.newID()
		if id == "" {
			continue
		}
		if _, ok := r.active[id]; ok {
			continue
		}
		if _, ok := r.reserved[id]; ok {
			continue
		}
		if _, ok := r.tombstones[id]; ok {
			continue
		}
		r.reserved[id] = struct{}{}
		return id, nil
	}
	return "", errors.New("generate session id: too many collisions")
}

func (r *sessionRegistry) releaseID(id string) {
	r.mu.Lock()
	delete(r.reserved, id)
	r.mu.Unlock()
}
