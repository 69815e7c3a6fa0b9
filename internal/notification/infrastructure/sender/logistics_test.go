package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/economyengine/internal/notification/domain"
	"github.com/wyfcoding/economyengine/pkg/apperr"
	"github.com/wyfcoding/economyengine/pkg/logger"
)

func sampleDelivery() domain.Delivery {
	return domain.Delivery{
		NotificationID: "NTF-1",
		OrderID:        "ORD-1",
		SimulationID:   "sim-1",
		CompanyName:    "Acme",
		ItemName:       "Assembly Line",
		Market:         "equipment",
		Quantity:       decimal.NewFromInt(2),
		ItemIDs:        []string{"eq-1", "eq-2"},
		Weight:         decimal.NewFromInt(1500),
		OperatingCost:  decimal.RequireFromString("12.50"),
		OrderDate:      "2025-01-08",
	}
}

func TestNotifyDeliveryPostsJSON(t *testing.T) {
	var got domain.Delivery
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Notification-ID")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewLogisticsSender(LogisticsConfig{URL: srv.URL, Timeout: time.Second}, logger.Discard())
	require.NoError(t, s.NotifyDelivery(context.Background(), sampleDelivery()))

	assert.Equal(t, "NTF-1", header)
	assert.Equal(t, "ORD-1", got.OrderID)
	assert.Equal(t, []string{"eq-1", "eq-2"}, got.ItemIDs)
	assert.True(t, got.Weight.Equal(decimal.NewFromInt(1500)))
}

func TestNotifyDeliveryServerErrorIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewLogisticsSender(LogisticsConfig{URL: srv.URL, Timeout: time.Second}, logger.Discard())
	err := s.NotifyDelivery(context.Background(), sampleDelivery())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotificationFailed, apperr.CodeOf(err))
	assert.True(t, apperr.IsKind(err, apperr.KindExternalService))
}

func TestNotifyDeliveryTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := NewLogisticsSender(LogisticsConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}, logger.Discard())
	start := time.Now()
	err := s.NotifyDelivery(context.Background(), sampleDelivery())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewLogisticsSender(LogisticsConfig{
		URL:             srv.URL,
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, logger.Discard())

	for range 4 {
		require.Error(t, s.NotifyDelivery(context.Background(), sampleDelivery()))
	}
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, gobreaker.StateOpen, s.State())
}
