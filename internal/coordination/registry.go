// Package coordination tracks live fan-out instances through a shared Redis
// hash, so operators can see which replicas serve WebSocket traffic.
package coordination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
)

const (
	instancesKey = "fanout:instances"

	// Instances without a heartbeat inside this window are considered gone.
	livenessWindow = 60 * time.Second
)

// InstanceRegistry tracks active fan-out instances in Redis.
// Each instance sends periodic heartbeats to a shared hash.
type InstanceRegistry struct {
	redis        *redis.Client
	instanceID   string
	heartbeat    time.Duration
	version      string
	sessionCount func() int
}

// InstanceInfo holds metadata about an instance.
type InstanceInfo struct {
	InstanceID string `json:"instance_id"`
	Timestamp  int64  `json:"timestamp"`
	Version    string `json:"version"`
	Sessions   int    `json:"sessions"`
}

// NewInstanceRegistry creates a new instance registry.
// instanceID should be unique per instance (e.g., hostname or UUID).
// sessionCount reports the instance's current connection count and is
// sampled on every heartbeat.
func NewInstanceRegistry(redis *redis.Client, instanceID string, heartbeat time.Duration, version string, sessionCount func() int) *InstanceRegistry {
	return &InstanceRegistry{
		redis:        redis,
		instanceID:   instanceID,
		heartbeat:    heartbeat,
		version:      version,
		sessionCount: sessionCount,
	}
}

// Start begins the heartbeat loop.
// Registers immediately, then sends heartbeats on the ticker interval.
// Blocks until ctx is cancelled, then unregisters and returns.
func (r *InstanceRegistry) Start(ctx context.Context) {
	r.register(ctx)

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.register(ctx)
			if active, err := r.GetActiveInstances(ctx); err == nil {
				metrics.ActiveInstances.Set(float64(len(active)))
			}
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

// register writes this instance's heartbeat to Redis.
func (r *InstanceRegistry) register(ctx context.Context) {
	value := InstanceInfo{
		InstanceID: r.instanceID,
		Timestamp:  time.Now().Unix(),
		Version:    r.version,
		Sessions:   r.sessionCount(),
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	r.redis.HSet(ctx, instancesKey, r.instanceID, data)
}

// unregister removes this instance from the registry.
// Called during graceful shutdown with a fresh context because the
// run context is already cancelled by then.
func (r *InstanceRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.redis.HDel(ctx, instancesKey, r.instanceID)
}

// GetActiveInstances returns instance IDs with a heartbeat inside the liveness window.
func (r *InstanceRegistry) GetActiveInstances(ctx context.Context) ([]string, error) {
	infos, err := r.GetInstanceInfo(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]string, 0, len(infos))
	for _, info := range infos {
		active = append(active, info.InstanceID)
	}
	return active, nil
}

// GetInstanceInfo returns metadata for all instances inside the liveness window.
func (r *InstanceRegistry) GetInstanceInfo(ctx context.Context) ([]InstanceInfo, error) {
	instances, err := r.redis.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, err
	}

	infos := []InstanceInfo{}
	now := time.Now().Unix()

	for _, data := range instances {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if now-info.Timestamp < int64(livenessWindow.Seconds()) {
			infos = append(infos, info)
		}
	}

	return infos, nil
}
