// Package sender 外部通知的 HTTP 投递实现
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/economyengine/internal/notification/domain"
)

// LogisticsConfig 物流系统投递配置
type LogisticsConfig struct {
	URL             string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// LogisticsSender 通过 HTTP 把交付通知推送给物流系统，连续失败时熔断
type LogisticsSender struct {
	url     string
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewLogisticsSender 创建物流通知发送器
func NewLogisticsSender(cfg LogisticsConfig, logger *slog.Logger) *LogisticsSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	logger = logger.With("module", "logistics_sender")

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "logistics",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &LogisticsSender{url: cfg.URL, client: client, breaker: breaker, logger: logger}
}

// NotifyDelivery 实现 domain.DeliveryNotifier
func (s *LogisticsSender) NotifyDelivery(ctx context.Context, delivery domain.Delivery) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.client.R().
			SetContext(ctx).
			SetHeader("X-Notification-ID", delivery.NotificationID).
			SetBody(delivery).
			Post(s.url)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("logistics responded %d: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "delivery notification failed", "order_id", delivery.OrderID, "error", err)
		return domain.ExternalServiceError(domain.TypeDelivery, s.url, err)
	}

	s.logger.DebugContext(ctx, "delivery notification sent", "order_id", delivery.OrderID, "item", delivery.ItemName)
	return nil
}

// State 熔断器当前状态
func (s *LogisticsSender) State() gobreaker.State {
	return s.breaker.State()
}
