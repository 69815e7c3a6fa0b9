package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/internal/queue/infrastructure/memory"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/metrics"
)

type recordedLetter struct {
	id       string
	attempts int
	reason   string
}

type recordingSink struct {
	mu      sync.Mutex
	letters []recordedLetter
}

func (s *recordingSink) DeadLetter(_ context.Context, _ string, msg *domain.Message, attempts int, reason string, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, recordedLetter{id: msg.ID, attempts: attempts, reason: reason})
	return nil
}

func (s *recordingSink) all() []recordedLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedLetter(nil), s.letters...)
}

// scriptedQueue 按脚本返回接收结果
type scriptedQueue struct {
	mu       sync.Mutex
	results  []receiveResult
	deleted   []string
	deleteErr error
	receives  int
}

type receiveResult struct {
	msgs []*domain.Message
	err  error
}

func (q *scriptedQueue) Name() string { return "business" }

func (q *scriptedQueue) Send(context.Context, *domain.Message) error { return nil }

func (q *scriptedQueue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, id)
	return q.deleteErr
}

func (q *scriptedQueue) Receive(_ context.Context, max int, _ time.Duration) ([]*domain.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max == 0 {
		return nil, nil
	}
	q.receives++
	if len(q.results) == 0 {
		return nil, nil
	}
	r := q.results[0]
	q.results = q.results[1:]
	return r.msgs, r.err
}

func (q *scriptedQueue) deletedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

func testMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m := metrics.New("test")
	require.NoError(t, m.Register(prometheus.NewRegistry()))
	return m
}

func message(id, typ string) *domain.Message {
	return &domain.Message{ID: id, Body: domain.Body{Type: typ, Payload: []byte(`{}`)}, ReceiveCount: 1}
}

func newTestConsumer(t *testing.T, q domain.Queue, reg *Registry, sink DeadLetterSink) (*Consumer, *metrics.Metrics) {
	t.Helper()
	m := testMetrics(t)
	c := NewConsumer(q, reg, sink, m, ConsumerConfig{
		BatchSize:    10,
		PollInterval: time.Millisecond,
		ErrorBackoff: time.Millisecond,
		MaxRetries:   3,
	}, logger.Discard())
	return c, m
}

func TestHandleSuccessDeletes(t *testing.T) {
	q := &scriptedQueue{}
	reg := NewRegistry(domain.ClassBusiness).MustRegister(domain.TypePhonePurchase, func(context.Context, *domain.Message) error { return nil })
	c, m := newTestConsumer(t, q, reg, &recordingSink{})

	c.handle(context.Background(), message("m-1", domain.TypePhonePurchase))

	assert.Equal(t, []string{"m-1"}, q.deletedIDs())
	assert.Zero(t, c.Failures("m-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueMessages.WithLabelValues("business", domain.TypePhonePurchase, "processed")))
}

func TestHandleFailureGivesUpAtThree(t *testing.T) {
	q := &scriptedQueue{}
	sink := &recordingSink{}
	reg := NewRegistry(domain.ClassBusiness).MustRegister(domain.TypePhoneRecycle, func(context.Context, *domain.Message) error {
		return errors.New("downstream unavailable")
	})
	c, _ := newTestConsumer(t, q, reg, sink)
	ctx := context.Background()

	c.handle(ctx, message("m-1", domain.TypePhoneRecycle))
	c.handle(ctx, message("m-1", domain.TypePhoneRecycle))
	assert.Empty(t, q.deletedIDs())
	assert.Equal(t, 2, c.Failures("m-1"))

	c.handle(ctx, message("m-1", domain.TypePhoneRecycle))
	assert.Equal(t, []string{"m-1"}, q.deletedIDs())
	require.Len(t, sink.all(), 1)
	assert.Equal(t, recordedLetter{id: "m-1", attempts: 3, reason: "max retries exceeded"}, sink.all()[0])
	assert.Zero(t, c.Failures("m-1"))
}

func TestGiveUpClearsFailuresWhenDeleteFails(t *testing.T) {
	q := &scriptedQueue{deleteErr: errors.New("redis timeout")}
	sink := &recordingSink{}
	reg := NewRegistry(domain.ClassBusiness).MustRegister(domain.TypePhoneRecycle, func(context.Context, *domain.Message) error {
		return errors.New("downstream unavailable")
	})
	c, _ := newTestConsumer(t, q, reg, sink)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.handle(ctx, message("m-1", domain.TypePhoneRecycle))
	}
	require.Len(t, sink.all(), 1)
	assert.Equal(t, []string{"m-1"}, q.deletedIDs())
	assert.Zero(t, c.Failures("m-1"))

	// 删除失败后重投，队列侧投递次数仍然触发放弃
	redelivered := message("m-1", domain.TypePhoneRecycle)
	redelivered.ReceiveCount = 4
	c.handle(ctx, redelivered)
	require.Len(t, sink.all(), 2)
	assert.Equal(t, 4, sink.all()[1].attempts)
	assert.Zero(t, c.Failures("m-1"))
}

func TestHandleUsesDurableReceiveCount(t *testing.T) {
	q := &scriptedQueue{}
	sink := &recordingSink{}
	reg := NewRegistry(domain.ClassBusiness).MustRegister(domain.TypePhoneRecycle, func(context.Context, *domain.Message) error {
		return errors.New("still failing")
	})
	c, _ := newTestConsumer(t, q, reg, sink)

	// 重启后本地计数为零，但队列侧已投递三次
	msg := message("m-9", domain.TypePhoneRecycle)
	msg.ReceiveCount = 3
	c.handle(context.Background(), msg)

	assert.Equal(t, []string{"m-9"}, q.deletedIDs())
	require.Len(t, sink.all(), 1)
	assert.Equal(t, 3, sink.all()[0].attempts)
}

func TestHandleUnknownTypeIsDeadLettered(t *testing.T) {
	q := &scriptedQueue{}
	sink := &recordingSink{}
	c, m := newTestConsumer(t, q, NewRegistry(domain.ClassCritical), sink)

	c.handle(context.Background(), message("m-2", "teleport"))

	assert.Equal(t, []string{"m-2"}, q.deletedIDs())
	require.Len(t, sink.all(), 1)
	assert.Equal(t, "unknown message type", sink.all()[0].reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueMessages.WithLabelValues("business", "teleport", "unknown_type")))
}

func TestBatchRunsConcurrently(t *testing.T) {
	q := &scriptedQueue{}
	var started sync.WaitGroup
	started.Add(3)
	release := make(chan struct{})
	reg := NewRegistry(domain.ClassBusiness).MustRegister(domain.TypePhonePurchase, func(context.Context, *domain.Message) error {
		started.Done()
		<-release
		return nil
	})
	c, _ := newTestConsumer(t, q, reg, &recordingSink{})

	done := make(chan struct{})
	go func() {
		c.processBatch(context.Background(), []*domain.Message{
			message("a", domain.TypePhonePurchase),
			message("b", domain.TypePhonePurchase),
			message("c", domain.TypePhonePurchase),
		})
		close(done)
	}()

	waited := make(chan struct{})
	go func() { started.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run concurrently")
	}
	close(release)
	<-done
	assert.ElementsMatch(t, []string{"a", "b", "c"}, q.deletedIDs())
}

func TestStartSurvivesReceiveErrors(t *testing.T) {
	q := &scriptedQueue{results: []receiveResult{
		{err: errors.New("connection reset")},
		{msgs: []*domain.Message{message("m-1", domain.TypePhonePurchase)}},
	}}
	processed := make(chan struct{})
	reg := NewRegistry(domain.ClassBusiness).MustRegister(domain.TypePhonePurchase, func(context.Context, *domain.Message) error {
		close(processed)
		return nil
	})
	c, m := newTestConsumer(t, q, reg, &recordingSink{})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not processed after receive error")
	}
	c.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueReceiveErrors.WithLabelValues("business")))
	assert.False(t, c.Running())
}

func TestStopBeforeStartIsHonored(t *testing.T) {
	q := &scriptedQueue{}
	c, _ := newTestConsumer(t, q, NewRegistry(domain.ClassBusiness), &recordingSink{})

	c.Stop()
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer ignored an earlier Stop")
	}
	assert.False(t, c.Running())
	q.mu.Lock()
	assert.Zero(t, q.receives)
	q.mu.Unlock()
}

func TestStartEndToEndWithMemoryQueue(t *testing.T) {
	q := memory.New("notification", 20*time.Millisecond, time.Minute)
	var mu sync.Mutex
	calls := 0
	reg := NewRegistry(domain.ClassNotification).MustRegister(domain.TypeEpochUpdate, func(context.Context, *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	c, _ := newTestConsumer(t, q, reg, &recordingSink{})
	require.NoError(t, c.Initialize(context.Background()))

	msg, err := domain.NewMessage(domain.TypeEpochUpdate, map[string]string{"simulation_id": "sim-1"})
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), msg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Start(ctx) }()

	require.Eventually(t, func() bool { return q.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestRegistryRejectsForeignType(t *testing.T) {
	reg := NewRegistry(domain.ClassCritical)
	err := reg.Register(domain.TypePhoneRecycle, func(context.Context, *domain.Message) error { return nil })
	assert.Error(t, err)
}
