package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/economyengine/internal/queue/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New("business", 30*time.Second, 5*time.Minute, WithClock(clock.Now)), clock
}

func send(t *testing.T, q *Queue, typ, group, dedup string) *domain.Message {
	t.Helper()
	msg, err := domain.NewMessage(typ, map[string]int{"n": 1})
	require.NoError(t, err)
	msg.GroupID = group
	msg.DedupID = dedup
	require.NoError(t, q.Send(context.Background(), msg))
	return msg
}

func TestReceiveDeleteCycle(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	m := send(t, q, domain.TypePhonePurchase, "", "")

	got, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].ID)
	assert.Equal(t, 1, got[0].ReceiveCount)

	again, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, q.Delete(ctx, m.ID))
	assert.Zero(t, q.Len())
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	q, clock := newQueue(t)
	ctx := context.Background()
	send(t, q, domain.TypePhoneRecycle, "", "")

	_, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	got, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].ReceiveCount)
}

func TestDedupWindow(t *testing.T) {
	q, clock := newQueue(t)
	send(t, q, domain.TypePhoneRecycle, "recycling", "recycle-sim-1-2050-01-08")
	send(t, q, domain.TypePhoneRecycle, "recycling", "recycle-sim-1-2050-01-08")
	assert.Equal(t, 1, q.Len())

	clock.Advance(6 * time.Minute)
	send(t, q, domain.TypePhoneRecycle, "recycling", "recycle-sim-1-2050-01-08")
	assert.Equal(t, 2, q.Len())
}

func TestGroupFIFO(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	first := send(t, q, domain.TypePhoneRecycle, "recycling", "")
	second := send(t, q, domain.TypePhoneRecycle, "recycling", "")
	other := send(t, q, domain.TypePhonePurchase, "", "")

	got, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, other.ID, got[1].ID)

	require.NoError(t, q.Delete(ctx, first.ID))
	got, err = q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)
}

func TestDelayedDelivery(t *testing.T) {
	q, clock := newQueue(t)
	ctx := context.Background()
	msg, err := domain.NewMessage(domain.TypeDeliveryRetry, map[string]string{})
	require.NoError(t, err)
	msg.Delay = 10 * time.Second
	require.NoError(t, q.Send(ctx, msg))

	got, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	clock.Advance(10 * time.Second)
	got, err = q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReceiveZeroIsConnectivityCheck(t *testing.T) {
	q, _ := newQueue(t)
	send(t, q, domain.TypeRateUpdate, "", "")

	got, err := q.Receive(context.Background(), 0, time.Second)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, q.Len())
}

func TestReceiveWaitsForSend(t *testing.T) {
	q := New("critical", time.Minute, time.Minute)
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		msg, _ := domain.NewMessage(domain.TypeRateUpdate, map[string]string{})
		_ = q.Send(ctx, msg)
	}()

	got, err := q.Receive(ctx, 1, 2*time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReceiveHonoursCancel(t *testing.T) {
	q := New("critical", time.Minute, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Receive(ctx, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
