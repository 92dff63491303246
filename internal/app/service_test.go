package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/broadcast"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/domain"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/index"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/registry"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/router"
)

type memTransport struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (m *memTransport) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, data)
	return nil
}

func (m *memTransport) Close() error { return nil }

func (m *memTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

func (m *memTransport) last() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.payloads) == 0 {
		return nil
	}
	return m.payloads[len(m.payloads)-1]
}

type fixture struct {
	svc *Service
	reg *registry.Registry
	bc  *broadcast.Broadcaster
}

func newFixture(t *testing.T, wildcardPerMinute int) *fixture {
	t.Helper()

	clock := clockwork.NewRealClock()
	ix := index.New(4)
	rt := router.New(ix, clock, time.Minute)

	var svc *Service
	reg := registry.New(clock, time.Minute, func(sessionID uuid.UUID) {
		svc.OnDeregister(sessionID)
	})
	bc := broadcast.New(reg, clock, broadcast.Config{Workers: 2, BatchWindow: -1})
	t.Cleanup(bc.Stop)

	svc = New(ix, reg, rt, bc, wildcardPerMinute)
	return &fixture{svc: svc, reg: reg, bc: bc}
}

func (f *fixture) connect(t *testing.T) (uuid.UUID, *memTransport) {
	t.Helper()
	sessionID := uuid.New()
	transport := &memTransport{}
	f.reg.Register(sessionID, transport)
	return sessionID, transport
}

func TestSubscribeRequiresLiveSession(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.svc.Subscribe(uuid.New(), domain.Criteria{Symbols: []string{"XYZ"}})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSubscribeRejectsInvalidCriteria(t *testing.T) {
	f := newFixture(t, 0)
	sessionID, _ := f.connect(t)

	bad := -0.5
	_, err := f.svc.Subscribe(sessionID, domain.Criteria{MinConfidence: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidCriteria)
}

func TestPublishFansOutToMatchingSessions(t *testing.T) {
	f := newFixture(t, 0)

	sessionA, transportA := f.connect(t)
	sessionB, transportB := f.connect(t)

	subA, err := f.svc.Subscribe(sessionA, domain.Criteria{Symbols: []string{"xyz"}})
	require.NoError(t, err)
	_, err = f.svc.Subscribe(sessionB, domain.Criteria{})
	require.NoError(t, err)

	event := domain.Event{Symbol: "XYZ", Category: "breakout", Confidence: 0.9, Sequence: 1}
	count, err := f.svc.Publish(event)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Eventually(t, func() bool {
		return transportA.count() == 1 && transportB.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	var got domain.Event
	require.NoError(t, json.Unmarshal(transportA.last(), &got))
	assert.Equal(t, "XYZ", got.Symbol)
	assert.Equal(t, uint64(1), got.Sequence)

	// After A unsubscribes, the same event reaches only the wildcard session.
	require.NoError(t, f.svc.Unsubscribe(sessionA, subA))

	count, err = f.svc.Publish(domain.Event{Symbol: "XYZ", Category: "breakout", Confidence: 0.9, Sequence: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Eventually(t, func() bool { return transportB.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, transportA.count())
}

func TestPublishWithNoMatches(t *testing.T) {
	f := newFixture(t, 0)
	sessionID, _ := f.connect(t)

	_, err := f.svc.Subscribe(sessionID, domain.Criteria{Symbols: []string{"AAPL"}})
	require.NoError(t, err)

	count, err := f.svc.Publish(domain.Event{Symbol: "MSFT", Category: "surge", Confidence: 0.5})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	sessionID, _ := f.connect(t)

	subID, err := f.svc.Subscribe(sessionID, domain.Criteria{Symbols: []string{"XYZ"}})
	require.NoError(t, err)

	require.NoError(t, f.svc.Unsubscribe(sessionID, subID))

	// Repeats land in the same state; only the sentinel distinguishes them.
	assert.ErrorIs(t, f.svc.Unsubscribe(sessionID, subID), domain.ErrSubscriptionNotFound)
	assert.ErrorIs(t, f.svc.Unsubscribe(uuid.New(), uuid.New()), domain.ErrSubscriptionNotFound)

	assert.Zero(t, f.svc.Health().IndexSize)
}

func TestPublishAfterStopReturnsStopped(t *testing.T) {
	f := newFixture(t, 0)
	sessionID, _ := f.connect(t)

	_, err := f.svc.Subscribe(sessionID, domain.Criteria{Symbols: []string{"XYZ"}})
	require.NoError(t, err)

	f.bc.Stop()

	_, err = f.svc.Publish(domain.Event{Symbol: "XYZ", Category: "breakout", Confidence: 0.9})
	assert.ErrorIs(t, err, domain.ErrStopped)
}

func TestDeregisterPurgesSubscriptions(t *testing.T) {
	f := newFixture(t, 0)

	sessionA, _ := f.connect(t)
	sessionB, transportB := f.connect(t)

	_, err := f.svc.Subscribe(sessionA, domain.Criteria{Symbols: []string{"XYZ"}})
	require.NoError(t, err)
	_, err = f.svc.Subscribe(sessionA, domain.Criteria{Categories: []string{"breakout"}})
	require.NoError(t, err)
	_, err = f.svc.Subscribe(sessionB, domain.Criteria{Symbols: []string{"XYZ"}})
	require.NoError(t, err)

	f.reg.Deregister(sessionA)

	assert.Equal(t, 1, f.svc.Health().IndexSize)
	assert.Equal(t, 1, f.svc.Health().SessionCount)

	count, err := f.svc.Publish(domain.Event{Symbol: "XYZ", Category: "breakout", Confidence: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Eventually(t, func() bool { return transportB.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWildcardSubscriptionsAreRateLimited(t *testing.T) {
	f := newFixture(t, 2)
	sessionID, _ := f.connect(t)

	_, err := f.svc.Subscribe(sessionID, domain.Criteria{})
	require.NoError(t, err)
	_, err = f.svc.Subscribe(sessionID, domain.Criteria{})
	require.NoError(t, err)

	_, err = f.svc.Subscribe(sessionID, domain.Criteria{})
	assert.ErrorIs(t, err, domain.ErrWildcardRateLimited)

	// Non-wildcard subscriptions are unaffected.
	_, err = f.svc.Subscribe(sessionID, domain.Criteria{Symbols: []string{"XYZ"}})
	assert.NoError(t, err)
}

func TestHealthSnapshot(t *testing.T) {
	f := newFixture(t, 0)
	sessionID, _ := f.connect(t)

	_, err := f.svc.Subscribe(sessionID, domain.Criteria{Symbols: []string{"XYZ"}})
	require.NoError(t, err)

	event := domain.Event{Symbol: "XYZ", Category: "breakout", Confidence: 0.9}
	_, err = f.svc.Publish(event)
	require.NoError(t, err)
	_, err = f.svc.Publish(event)
	require.NoError(t, err)

	h := f.svc.Health()
	assert.Equal(t, 1, h.IndexSize)
	assert.Equal(t, 1, h.SessionCount)
	assert.Equal(t, 0.5, h.CacheHitRatio)
}
