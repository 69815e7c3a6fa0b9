package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/economyengine/internal/notification/domain"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/metrics"
)

type memoryRecords struct {
	mu   sync.Mutex
	recs map[string]domain.Record
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{recs: make(map[string]domain.Record)}
}

func (r *memoryRecords) Save(_ context.Context, rec *domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.NotificationID] = *rec
	return nil
}

func (r *memoryRecords) Get(_ context.Context, id string) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memoryRecords) ListByOrder(_ context.Context, orderID string) ([]*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Record
	for _, rec := range r.recs {
		if rec.OrderID == orderID {
			cp := rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// flakyNotifier 前 failures 次调用失败
type flakyNotifier struct {
	failures int32
	calls    atomic.Int32
	block    bool
}

func (n *flakyNotifier) NotifyDelivery(ctx context.Context, _ domain.Delivery) error {
	if n.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if n.calls.Add(1) <= n.failures {
		return errors.New("logistics unavailable")
	}
	return nil
}

type sinkRecorder struct {
	mu   sync.Mutex
	jobs []domain.RetryJob
}

func (s *sinkRecorder) Exhausted(_ context.Context, job domain.RetryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

type deliveryFixture struct {
	manager  *DeliveryManager
	retries  *RetryQueue
	records  *memoryRecords
	notifier *flakyNotifier
	durable  *sinkRecorder
	metrics  *metrics.Metrics
}

func newDeliveryFixture(t *testing.T, notifier *flakyNotifier, timeout time.Duration) *deliveryFixture {
	t.Helper()
	m := metrics.New("test")
	require.NoError(t, m.Register(prometheus.NewRegistry()))

	retries := NewRetryQueue(RetryConfig{BaseDelay: time.Millisecond, MaxAttempts: 3, AttemptTimeout: time.Second}, m, logger.Discard())
	records := newMemoryRecords()
	manager := NewDeliveryManager(records, notifier, retries, DeliveryConfig{Target: "http://logistics", Timeout: timeout}, m, logger.Discard())
	durable := &sinkRecorder{}
	manager.SetDurableSink(durable)
	retries.SetExhaustedSink(manager)

	return &deliveryFixture{manager: manager, retries: retries, records: records, notifier: notifier, durable: durable, metrics: m}
}

func sampleDelivery() domain.Delivery {
	return domain.Delivery{OrderID: "ORD-1", SimulationID: "sim-1", ItemName: "truck", Market: "vehicle", ItemIDs: []string{"v-1"}}
}

func TestDispatchSuccessMarksSent(t *testing.T) {
	f := newDeliveryFixture(t, &flakyNotifier{}, time.Second)

	id := f.manager.Dispatch(context.Background(), sampleDelivery())
	require.NotEmpty(t, id)

	rec, err := f.records.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RecordSent, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Zero(t, f.retries.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotifyAttempts.WithLabelValues(domain.TypeDelivery, "success")))
}

func TestDispatchFailureRetriesUntilSent(t *testing.T) {
	f := newDeliveryFixture(t, &flakyNotifier{failures: 2}, time.Second)

	id := f.manager.Dispatch(context.Background(), sampleDelivery())
	waitIdle(t, f.retries)

	// 一次同步调用加两次重试
	assert.Equal(t, int32(3), f.notifier.calls.Load())
	rec, err := f.records.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordSent, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Empty(t, f.durable.jobs)
}

func TestDispatchExhaustedGoesDurable(t *testing.T) {
	f := newDeliveryFixture(t, &flakyNotifier{failures: 100}, time.Second)

	id := f.manager.Dispatch(context.Background(), sampleDelivery())
	waitIdle(t, f.retries)

	// 同步调用不计入重试次数
	assert.Equal(t, int32(1+3), f.notifier.calls.Load())
	rec, err := f.records.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordExhausted, rec.Status)
	require.Len(t, f.durable.jobs, 1)
	assert.Equal(t, domain.TypeDelivery, f.durable.jobs[0].Type)
}

func TestDispatchTimeoutDoesNotBlockCaller(t *testing.T) {
	f := newDeliveryFixture(t, &flakyNotifier{block: true}, 20*time.Millisecond)
	f.retries.Close()

	start := time.Now()
	id := f.manager.Dispatch(context.Background(), sampleDelivery())
	assert.Less(t, time.Since(start), time.Second)

	rec, err := f.records.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordFailed, rec.Status)
	// 重试队列已关闭时直接转存
	require.Len(t, f.durable.jobs, 1)
}

func TestNotifyDeliveryCreatesMissingRecord(t *testing.T) {
	f := newDeliveryFixture(t, &flakyNotifier{}, time.Second)
	d := sampleDelivery()
	d.NotificationID = "NTF-restored"

	require.NoError(t, f.manager.NotifyDelivery(context.Background(), d))

	recs, err := f.manager.Records(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.RecordSent, recs[0].Status)
}
