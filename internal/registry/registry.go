// Package registry tracks live sessions and their transport handles.
//
// The registry is the single source of truth for "is this session alive".
// It never touches the subscription index directly; cleanup is propagated
// through the deregistration callback so the two stay decoupled.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
)

type session struct {
	transport    domain.Transport
	connectedAt  time.Time
	lastActivity time.Time
	status       domain.SessionStatus
}

// Registry owns the session ID → transport mapping.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session

	clock        clockwork.Clock
	idleTimeout  time.Duration
	onDeregister func(uuid.UUID)
}

// New creates a registry. onDeregister fires after a session is removed,
// whether by explicit Deregister or by the idle sweep; it runs on the
// caller's goroutine and must not block.
func New(clock clockwork.Clock, idleTimeout time.Duration, onDeregister func(uuid.UUID)) *Registry {
	return &Registry{
		sessions:     make(map[uuid.UUID]*session),
		clock:        clock,
		idleTimeout:  idleTimeout,
		onDeregister: onDeregister,
	}
}

// Register adds a session. Registering an existing ID replaces its transport
// handle and refreshes activity, making reconnects idempotent.
func (r *Registry) Register(sessionID uuid.UUID, transport domain.Transport) {
	now := r.clock.Now()
	r.mu.Lock()
	if existing, ok := r.sessions[sessionID]; ok {
		existing.transport = transport
		existing.lastActivity = now
		existing.status = domain.SessionActive
		r.mu.Unlock()
		return
	}
	r.sessions[sessionID] = &session{
		transport:    transport,
		connectedAt:  now,
		lastActivity: now,
		status:       domain.SessionActive,
	}
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.RegistrySessionsCurrent.Set(float64(count))
}

// Deregister removes the session and closes its transport. No-op for unknown
// IDs. The deregistration callback fires exactly once per removal.
func (r *Registry) Deregister(sessionID uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	count := len(r.sessions)
	r.mu.Unlock()

	_ = s.transport.Close()
	metrics.RegistrySessionsCurrent.Set(float64(count))

	if r.onDeregister != nil {
		r.onDeregister(sessionID)
	}
}

// Resolve returns the transport handle for a live session.
func (r *Registry) Resolve(sessionID uuid.UUID) (domain.Transport, bool) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.transport, true
}

// MarkActivity refreshes the session's last-activity timestamp and clears a
// stale flag set by MarkSuspect.
func (r *Registry) MarkActivity(sessionID uuid.UUID) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok {
		s.lastActivity = r.clock.Now()
		if s.status == domain.SessionStale {
			s.status = domain.SessionActive
		}
	}
	r.mu.Unlock()
}

// MarkSuspect flags a session for eviction consideration after a delivery
// failure. The next sweep evicts it unless activity arrives first.
func (r *Registry) MarkSuspect(sessionID uuid.UUID) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok && s.status == domain.SessionActive {
		s.status = domain.SessionStale
		metrics.RegistrySuspectsTotal.Inc()
	}
	r.mu.Unlock()
}

// Info returns a metadata snapshot for a session.
func (r *Registry) Info(sessionID uuid.UUID) (domain.SessionInfo, bool) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.RUnlock()
		return domain.SessionInfo{}, false
	}
	info := domain.SessionInfo{
		ID:           sessionID,
		ConnectedAt:  s.connectedAt,
		LastActivity: s.lastActivity,
		Status:       s.status,
	}
	r.mu.RUnlock()
	return info, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle beyond the staleness threshold, plus sessions
// flagged stale by MarkSuspect. Eviction goes through Deregister so the
// callback side effects match an explicit disconnect.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	// Candidates are flagged closing before eviction starts; activity arriving
	// between the flag and the Deregister no longer rescues them.
	r.mu.Lock()
	var evict []uuid.UUID
	for id, s := range r.sessions {
		if s.status == domain.SessionStale || now.Sub(s.lastActivity) > r.idleTimeout {
			s.status = domain.SessionClosing
			evict = append(evict, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evict {
		slog.Info("Evicting idle session", "session_id", id.String())
		metrics.RegistrySweepEvictionsTotal.Inc()
		r.Deregister(id)
	}
	return len(evict)
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := r.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				r.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}
