package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStatus tracks connection health as seen by the registry.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionStale   SessionStatus = "stale"
	SessionClosing SessionStatus = "closing"
)

// Transport is the live connection abstraction supplied by the edge layer.
// The registry treats it as an opaque handle; Send must respect ctx deadlines.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// SessionInfo is a read-only snapshot of registry metadata for a session.
type SessionInfo struct {
	ID           uuid.UUID     `json:"id"`
	ConnectedAt  time.Time     `json:"connected_at"`
	LastActivity time.Time     `json:"last_activity"`
	Status       SessionStatus `json:"status"`
}

// Subscription pairs a session with the criteria it registered.
type Subscription struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Criteria  Criteria
}

// HealthSnapshot is the operational summary exposed by the facade.
type HealthSnapshot struct {
	IndexSize     int     `json:"index_size"`
	CacheHitRatio float64 `json:"cache_hit_ratio"`
	QueueDepth    int     `json:"queue_depth"`
	SessionCount  int     `json:"session_count"`
}
