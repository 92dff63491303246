// Package app is the integration facade — the single entry point the rest of
// the application uses. It wires the subscription index, connection registry,
// event router, and broadcaster, and owns their lifecycles.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/broadcast"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/index"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/registry"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/router"
)

// Service orchestrates subscribe/unsubscribe/publish/health. All methods are
// safe for concurrent use.
type Service struct {
	index       *index.Index
	registry    *registry.Registry
	router      *router.Router
	broadcaster *broadcast.Broadcaster

	// wildcardLimiter throttles wildcard subscriptions: they force full-cache
	// invalidation, so policy discourages them instead of the router.
	wildcardLimiter *rate.Limiter
}

// New creates the facade over already-constructed components. Construct the
// registry with OnDeregister as its callback so disconnect cleanup flows
// through the facade.
func New(ix *index.Index, reg *registry.Registry, rt *router.Router, bc *broadcast.Broadcaster, wildcardPerMinute int) *Service {
	limit := rate.Inf
	burst := 1
	if wildcardPerMinute > 0 {
		limit = rate.Limit(float64(wildcardPerMinute) / 60.0)
		burst = wildcardPerMinute
	}
	return &Service{
		index:           ix,
		registry:        reg,
		router:          rt,
		broadcaster:     bc,
		wildcardLimiter: rate.NewLimiter(limit, burst),
	}
}

// Subscribe validates and normalizes criteria, registers the subscription,
// and invalidates affected routing cache entries. The session must be live.
func (s *Service) Subscribe(sessionID uuid.UUID, criteria domain.Criteria) (uuid.UUID, error) {
	if _, ok := s.registry.Resolve(sessionID); !ok {
		metrics.SubscribeRequestsTotal.WithLabelValues("no_session").Inc()
		return uuid.Nil, fmt.Errorf("subscribe: %w", domain.ErrSessionNotFound)
	}

	criteria = criteria.Normalize()
	if err := criteria.Validate(); err != nil {
		metrics.SubscribeRequestsTotal.WithLabelValues("invalid").Inc()
		return uuid.Nil, err
	}

	if criteria.IsWildcard() && !s.wildcardLimiter.Allow() {
		metrics.SubscribeRequestsTotal.WithLabelValues("rate_limited").Inc()
		return uuid.Nil, domain.ErrWildcardRateLimited
	}

	sub := domain.Subscription{ID: uuid.New(), SessionID: sessionID, Criteria: criteria}
	s.index.Add(sub)
	s.router.Invalidate(criteria)

	metrics.SubscribeRequestsTotal.WithLabelValues("ok").Inc()
	slog.Debug("Subscription added", "session_id", sessionID.String(), "subscription_id", sub.ID.String())
	return sub.ID, nil
}

// Unsubscribe removes one subscription. Removing an unknown subscription
// returns domain.ErrSubscriptionNotFound but leaves no state behind, so
// callers that want idempotent semantics can ignore that sentinel.
func (s *Service) Unsubscribe(sessionID, subscriptionID uuid.UUID) error {
	criteria, ok := s.index.Remove(sessionID, subscriptionID)
	if !ok {
		return fmt.Errorf("unsubscribe: %w", domain.ErrSubscriptionNotFound)
	}
	s.router.Invalidate(criteria)
	slog.Debug("Subscription removed", "session_id", sessionID.String(), "subscription_id", subscriptionID.String())
	return nil
}

// Publish routes one event and hands the delivery plan to the broadcaster.
// It returns the number of sessions the event is dispatched towards. Routing
// runs synchronously; per-session sends happen on the dispatch workers, so a
// slow session never blocks the publisher.
func (s *Service) Publish(event domain.Event) (int, error) {
	targets := s.router.Route(event)
	if len(targets) == 0 {
		metrics.PublishDeliveryCount.Observe(0)
		return 0, nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("publish: marshal event: %w", err)
	}

	count, err := s.broadcaster.Enqueue(payload, targets)
	if err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	metrics.PublishDeliveryCount.Observe(float64(count))
	return count, nil
}

// OnDeregister is the registry's deregistration callback: it purges the
// session's subscriptions from the index and invalidates the cache entries
// their criteria could have touched.
func (s *Service) OnDeregister(sessionID uuid.UUID) {
	removed := s.index.RemoveSession(sessionID)
	for _, criteria := range removed {
		s.router.Invalidate(criteria)
	}
	if len(removed) > 0 {
		slog.Info("Purged subscriptions for disconnected session",
			"session_id", sessionID.String(),
			"subscriptions", len(removed),
		)
	}
}

// Health reports the operational snapshot used by the health endpoint.
func (s *Service) Health() domain.HealthSnapshot {
	return domain.HealthSnapshot{
		IndexSize:     s.index.Size(),
		CacheHitRatio: s.router.HitRatio(),
		QueueDepth:    s.broadcaster.QueueDepth(),
		SessionCount:  s.registry.Count(),
	}
}
