package broadcast

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
)

const stopTimeout = 10 * time.Second

// SessionResolver is the slice of the connection registry the broadcaster
// needs: resolving transports immediately before sending (the liveness
// revalidation for cached routing decisions) and flagging failed sessions.
type SessionResolver interface {
	Resolve(sessionID uuid.UUID) (domain.Transport, bool)
	MarkSuspect(sessionID uuid.UUID)
}

// Config holds the broadcaster tunables. All zero values fall back to
// conservative defaults.
type Config struct {
	Workers       int
	QueueCapacity int           // per-worker queue capacity
	BatchWindow   time.Duration // coalescing window, 0 disables coalescing
	SendTimeout   time.Duration // per-session send bound
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 64
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 2 * time.Second
	}
	return c
}

type workItem struct {
	payload []byte
	targets []uuid.UUID
}

type batch struct {
	payload []byte
	targets []uuid.UUID
}

// Broadcaster owns the dispatch pipeline. Enqueue is safe for concurrent use.
type Broadcaster struct {
	resolver SessionResolver
	clock    clockwork.Clock
	cfg      Config

	inCh    chan workItem
	queues  []chan batch
	done    chan struct{}
	stopped chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a broadcaster and starts its coalescer and worker pool.
func New(resolver SessionResolver, clock clockwork.Clock, cfg Config) *Broadcaster {
	cfg = cfg.withDefaults()
	b := &Broadcaster{
		resolver: resolver,
		clock:    clock,
		cfg:      cfg,
		inCh:     make(chan workItem, cfg.QueueCapacity),
		queues:   make([]chan batch, cfg.Workers),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for i := range b.queues {
		b.queues[i] = make(chan batch, cfg.QueueCapacity)
	}

	b.wg.Add(1)
	go b.runCoalescer()
	for i := range b.queues {
		b.wg.Add(1)
		go b.runWorker(b.queues[i])
	}
	go func() {
		b.wg.Wait()
		close(b.stopped)
	}()
	return b
}

// Enqueue schedules delivery of payload to the target sessions, filtering out
// sessions that no longer resolve. It returns the number of sessions the
// payload is actually dispatched towards, or domain.ErrStopped after Stop.
// Enqueue never blocks on slow consumers: when the intake queue is full the
// oldest queued item is dropped in favor of the newest (live dashboards
// prefer current state over complete history).
func (b *Broadcaster) Enqueue(payload []byte, targets []uuid.UUID) (int, error) {
	select {
	case <-b.done:
		return 0, domain.ErrStopped
	default:
	}

	live := make([]uuid.UUID, 0, len(targets))
	for _, sessionID := range targets {
		if _, ok := b.resolver.Resolve(sessionID); ok {
			live = append(live, sessionID)
		} else {
			metrics.BroadcastSendsTotal.WithLabelValues("unresolved").Inc()
		}
	}
	if len(live) == 0 {
		return 0, nil
	}

	b.offer(b.inCh, workItem{payload: payload, targets: live})
	metrics.BroadcastQueueDepth.Set(float64(b.QueueDepth()))
	return len(live), nil
}

// offer pushes newest-wins: on a full queue the oldest item is discarded.
func (b *Broadcaster) offer(q chan workItem, item workItem) {
	for {
		select {
		case q <- item:
			return
		default:
		}
		select {
		case <-q:
			metrics.BroadcastDroppedBatchesTotal.Inc()
			slog.Debug("Dropped oldest queued item under backpressure")
		default:
		}
	}
}

func (b *Broadcaster) offerBatch(q chan batch, bt batch) {
	for {
		select {
		case q <- bt:
			return
		default:
		}
		select {
		case <-q:
			metrics.BroadcastDroppedBatchesTotal.Inc()
			slog.Debug("Dropped oldest queued batch under backpressure")
		default:
		}
	}
}

// runCoalescer drains the intake queue, merging work items that carry
// identical payload bytes within one batching window into a single
// send-to-all-targets batch.
func (b *Broadcaster) runCoalescer() {
	defer b.wg.Done()

	pending := make(map[string]*batch)
	order := make([]string, 0, 16)
	var timer clockwork.Timer
	var timerCh <-chan time.Time

	flush := func() {
		for _, key := range order {
			b.dispatch(*pending[key])
		}
		pending = make(map[string]*batch)
		order = order[:0]
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case item := <-b.inCh:
			key := string(item.payload)
			if existing, ok := pending[key]; ok {
				existing.targets = mergeTargets(existing.targets, item.targets)
				metrics.BroadcastCoalescedTotal.Inc()
			} else {
				pending[key] = &batch{payload: item.payload, targets: item.targets}
				order = append(order, key)
			}

			if b.cfg.BatchWindow <= 0 {
				flush()
				continue
			}
			if timer == nil {
				timer = b.clock.NewTimer(b.cfg.BatchWindow)
				timerCh = timer.Chan()
			}

		case <-timerCh:
			flush()

		case <-b.done:
			if timer != nil {
				timer.Stop()
			}
			flush()
			for i := range b.queues {
				close(b.queues[i])
			}
			return
		}
	}
}

// dispatch splits a batch across workers by session hash so one session is
// always served by the same worker (preserves per-session enqueue order).
func (b *Broadcaster) dispatch(bt batch) {
	if len(b.queues) == 1 {
		b.offerBatch(b.queues[0], bt)
		return
	}

	perWorker := make([][]uuid.UUID, len(b.queues))
	for _, sessionID := range bt.targets {
		w := workerFor(sessionID, len(b.queues))
		perWorker[w] = append(perWorker[w], sessionID)
	}
	for w, targets := range perWorker {
		if len(targets) == 0 {
			continue
		}
		b.offerBatch(b.queues[w], batch{payload: bt.payload, targets: targets})
	}
}

func (b *Broadcaster) runWorker(queue chan batch) {
	defer b.wg.Done()

	for bt := range queue {
		for _, sessionID := range bt.targets {
			b.send(sessionID, bt.payload)
		}
		metrics.BroadcastQueueDepth.Set(float64(b.QueueDepth()))
	}
}

// send delivers to one session, bounded by the per-send timeout. Failures
// are counted and the session flagged for a health re-check; they never
// affect the remaining sessions in the batch.
func (b *Broadcaster) send(sessionID uuid.UUID, payload []byte) {
	transport, ok := b.resolver.Resolve(sessionID)
	if !ok {
		metrics.BroadcastSendsTotal.WithLabelValues("unresolved").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SendTimeout)
	start := b.clock.Now()
	err := transport.Send(ctx, payload)
	cancel()

	metrics.BroadcastSendDuration.Observe(b.clock.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.BroadcastSendsTotal.WithLabelValues("sent").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		metrics.BroadcastSendsTotal.WithLabelValues("timeout").Inc()
		slog.Warn("Send timed out, abandoning for this session", "session_id", sessionID.String(), "timeout", b.cfg.SendTimeout)
		b.resolver.MarkSuspect(sessionID)
	default:
		metrics.BroadcastSendsTotal.WithLabelValues("error").Inc()
		slog.Debug("Send failed", "session_id", sessionID.String(), "error", err)
		b.resolver.MarkSuspect(sessionID)
	}
}

// QueueDepth returns the total number of queued items across the intake
// queue and all worker queues.
func (b *Broadcaster) QueueDepth() int {
	depth := len(b.inCh)
	for _, q := range b.queues {
		depth += len(q)
	}
	return depth
}

// Stop drains the pipeline and waits for the workers to exit, bounded by a
// stop timeout.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		timer := b.clock.NewTimer(stopTimeout)
		defer timer.Stop()

		select {
		case <-b.stopped:
			slog.Info("Broadcaster stopped gracefully")
		case <-timer.Chan():
			slog.Warn("Broadcaster stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

func workerFor(sessionID uuid.UUID, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write(sessionID[:])
	return int(h.Sum32() % uint32(workers))
}

func mergeTargets(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	out := make([]uuid.UUID, 0, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
