package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subscription Index Metrics
var (
	// IndexSubscriptionsCurrent tracks number of live subscriptions in the index
	IndexSubscriptionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "index_subscriptions_current",
			Help: "Current number of subscriptions held by the index",
		},
	)

	// IndexQueryDuration tracks index match query latency in seconds
	IndexQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "index_query_duration_seconds",
			Help:    "Subscription index match query duration in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	// IndexSessionPurgesTotal tracks per-session subscription purges on disconnect
	IndexSessionPurgesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "index_session_purges_total",
			Help: "Total per-session subscription purges triggered by disconnects",
		},
	)
)

// Event Router Metrics
var (
	// RouterCacheHitsTotal tracks routing cache hits
	RouterCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_cache_hits_total",
			Help: "Total routing cache hits",
		},
	)

	// RouterCacheMissesTotal tracks routing cache misses
	RouterCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_cache_misses_total",
			Help: "Total routing cache misses",
		},
	)

	// RouterCacheInvalidationsTotal tracks cache invalidations by scope
	RouterCacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_cache_invalidations_total",
			Help: "Total routing cache invalidations by scope (dimension/full)",
		},
		[]string{"scope"},
	)

	// RouterCacheEntries tracks current number of cached routing signatures
	RouterCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_cache_entries",
			Help: "Current number of routing cache entries",
		},
	)

	// RouterRouteDuration tracks end-to-end routing duration per event
	RouterRouteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_route_duration_seconds",
			Help:    "Event routing duration in seconds (cache lookup plus index query)",
			Buckets: []float64{.00001, .0001, .0005, .001, .005, .01, .025},
		},
	)
)

// Broadcaster Metrics
var (
	// BroadcastQueueDepth tracks total queued work items across dispatch workers
	BroadcastQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_queue_depth",
			Help: "Total queued delivery batches across all dispatch workers",
		},
	)

	// BroadcastDroppedBatchesTotal tracks batches dropped by backpressure
	BroadcastDroppedBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_dropped_batches_total",
			Help: "Total delivery batches dropped under newest-wins backpressure",
		},
	)

	// BroadcastSendsTotal tracks per-session send attempts by result
	BroadcastSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_sends_total",
			Help: "Total per-session send attempts by result (sent/timeout/error/unresolved)",
		},
		[]string{"result"},
	)

	// BroadcastCoalescedTotal tracks work items merged by the batching window
	BroadcastCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_coalesced_total",
			Help: "Total work items coalesced into an earlier identical payload",
		},
	)

	// BroadcastSendDuration tracks per-session send duration
	BroadcastSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_send_duration_seconds",
			Help:    "Per-session send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)
)

// Connection Registry Metrics
var (
	// RegistrySessionsCurrent tracks current registered sessions
	RegistrySessionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_sessions_current",
			Help: "Current number of registered sessions",
		},
	)

	// RegistrySweepEvictionsTotal tracks sessions evicted by the idle sweep
	RegistrySweepEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_sweep_evictions_total",
			Help: "Total sessions evicted by the idle-session sweep",
		},
	)

	// RegistrySuspectsTotal tracks sessions flagged for health re-check after send failures
	RegistrySuspectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_suspects_total",
			Help: "Total sessions flagged stale after delivery failures",
		},
	)
)

// Event Bus Metrics
var (
	// BusEventsTotal tracks consumed upstream events by result
	BusEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_total",
			Help: "Total upstream bus events by result (published/malformed/dropped)",
		},
		[]string{"result"},
	)

	// BusReconnectionsTotal tracks bus reconnection attempts
	BusReconnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnections_total",
			Help: "Total upstream bus reconnection attempts after disconnect",
		},
	)

	// BusSubscriptionActive tracks whether the bus subscription is active (1) or disconnected (0)
	BusSubscriptionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_subscription_active",
			Help: "1 if the upstream bus subscription is active, 0 if disconnected",
		},
	)

	// BusPublishLatency tracks time from bus receive to broadcaster enqueue
	BusPublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bus_publish_latency_seconds",
			Help:    "Latency from bus message receive to broadcaster enqueue",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)
)

// Circuit Breaker Metrics
var (
	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// WebSocket Metrics
var (
	// WebSocketConnectionsCurrent tracks current active WebSocket connections
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
	)

	// WebSocketConnectionsTotal tracks total WebSocket connection attempts by result
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (success/error/rejected)",
		},
		[]string{"result"},
	)

	// WebSocketConnectionsRejected tracks rejected connection attempts by reason
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket connections rejected by reason (rate_limit/ip_limit/global_limit)",
		},
		[]string{"reason"},
	)

	// WebSocketPingFailures tracks WebSocket ping failures
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total WebSocket ping failures (client not responding)",
		},
	)
)

// Subscription Management Metrics
var (
	// SubscribeRequestsTotal tracks subscribe calls by result
	SubscribeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscribe_requests_total",
			Help: "Total subscribe calls by result (ok/invalid/no_session/rate_limited)",
		},
		[]string{"result"},
	)

	// PublishDeliveryCount tracks the delivery set size per publish call
	PublishDeliveryCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publish_delivery_count",
			Help:    "Number of sessions targeted per publish call",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
)

// Redis Metrics
var (
	// RedisOpsTotal tracks Redis operations by command and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by command and status (success/error)",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency by command
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds by command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks failed connection attempts to Redis
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection (dial) errors",
		},
	)
)

// Coordination Metrics
var (
	// ActiveInstances tracks the number of fan-out instances with a live heartbeat
	ActiveInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordination_active_instances",
			Help: "Number of fan-out instances with a heartbeat in the last 60 seconds",
		},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)
