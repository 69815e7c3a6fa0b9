// Package metrics 提供引擎的 Prometheus 指标集合与暴露端点
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/economyengine/pkg/logger"
)

// Metrics 指标集合，所有方法对 nil 接收者安全
type Metrics struct {
	DaysAdvanced       *prometheus.CounterVec
	AdvanceFailures    *prometheus.CounterVec
	RecycleEnqueued    prometheus.Counter
	OrdersCompleted    *prometheus.CounterVec
	OrdersUnfulfilled  *prometheus.CounterVec
	ItemTypeFallbacks  prometheus.Counter
	NotifyAttempts     *prometheus.CounterVec
	RetriesExhausted   *prometheus.CounterVec
	QueueMessages      *prometheus.CounterVec
	QueueReceiveErrors *prometheus.CounterVec
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		DaysAdvanced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "days_advanced_total", Help: "Simulated days advanced",
		}, []string{"simulation"}),
		AdvanceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "advance_failures_total", Help: "Failed daily advancements by error kind",
		}, []string{"kind"}),
		RecycleEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "recycle_batches_enqueued_total", Help: "Recycling batches published to the business queue",
		}),
		OrdersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "orders_completed_total", Help: "Orders fulfilled",
		}, []string{"market"}),
		OrdersUnfulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "orders_unfulfilled_total", Help: "Payment attempts left pending for lack of inventory",
		}, []string{"market"}),
		ItemTypeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "item_type_fallbacks_total", Help: "Orders classified by the unknown item type fallback",
		}),
		NotifyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "notification_attempts_total", Help: "Outbound notification attempts by outcome",
		}, []string{"type", "outcome"}),
		RetriesExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "notification_retries_exhausted_total", Help: "Retry jobs dropped after max attempts",
		}, []string{"type"}),
		QueueMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "queue_messages_total", Help: "Durable queue messages by outcome",
		}, []string{"queue", "type", "outcome"}),
		QueueReceiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy", Subsystem: serviceName,
			Name: "queue_receive_errors_total", Help: "Durable queue receive failures",
		}, []string{"queue"}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		m.DaysAdvanced, m.AdvanceFailures, m.RecycleEnqueued,
		m.OrdersCompleted, m.OrdersUnfulfilled, m.ItemTypeFallbacks,
		m.NotifyAttempts, m.RetriesExhausted,
		m.QueueMessages, m.QueueReceiveErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}
	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

func (m *Metrics) DayAdvanced(simulationID string) {
	if m != nil {
		m.DaysAdvanced.WithLabelValues(simulationID).Inc()
	}
}

func (m *Metrics) AdvanceFailed(kind string) {
	if m != nil {
		m.AdvanceFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RecycleBatchEnqueued() {
	if m != nil {
		m.RecycleEnqueued.Inc()
	}
}

func (m *Metrics) OrderCompleted(market string) {
	if m != nil {
		m.OrdersCompleted.WithLabelValues(market).Inc()
	}
}

func (m *Metrics) OrderUnfulfilled(market string) {
	if m != nil {
		m.OrdersUnfulfilled.WithLabelValues(market).Inc()
	}
}

func (m *Metrics) ItemTypeFallback() {
	if m != nil {
		m.ItemTypeFallbacks.Inc()
	}
}

func (m *Metrics) NotifyAttempt(notificationType, outcome string) {
	if m != nil {
		m.NotifyAttempts.WithLabelValues(notificationType, outcome).Inc()
	}
}

func (m *Metrics) RetryExhausted(notificationType string) {
	if m != nil {
		m.RetriesExhausted.WithLabelValues(notificationType).Inc()
	}
}

func (m *Metrics) QueueMessage(queue, messageType, outcome string) {
	if m != nil {
		m.QueueMessages.WithLabelValues(queue, messageType, outcome).Inc()
	}
}

func (m *Metrics) QueueReceiveError(queue string) {
	if m != nil {
		m.QueueReceiveErrors.WithLabelValues(queue).Inc()
	}
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", srv.Addr, "path", path)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "Prometheus HTTP server stopped", "error", err)
		}
	}()
	return srv
}
