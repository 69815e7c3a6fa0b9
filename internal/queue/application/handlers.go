package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	market "github.com/wyfcoding/economyengine/internal/market/domain"
	notification "github.com/wyfcoding/economyengine/internal/notification/domain"
	"github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/pkg/apperr"
)

// PriceUpdater 市场价格更新
type PriceUpdater interface {
	UpdatePrice(ctx context.Context, simulationID string, kind market.Kind, itemName string, price decimal.Decimal) error
}

// EpochResyncer 时钟基准重置
type EpochResyncer interface {
	ResyncEpoch(ctx context.Context, simulationID string, epoch time.Time) error
}

// RecycleMarker 回收批次落账
type RecycleMarker interface {
	MarkRecycled(ctx context.Context, simulationID string, batchKey string, upToID uint64) (int64, error)
}

// Dependencies 处理器依赖；为空的协作方使用仅记录日志的默认实现
type Dependencies struct {
	Prices     PriceUpdater
	Epochs     EpochResyncer
	Recycling  RecycleMarker
	Deliveries notification.DeliveryNotifier
	// Collaborators 外部协作方处理器，按消息类型覆盖默认实现
	Collaborators map[string]Handler
	Logger        *slog.Logger
}

// NewCriticalRegistry 关键队列：开户与价格更新
func NewCriticalRegistry(deps Dependencies) *Registry {
	r := NewRegistry(domain.ClassCritical)
	r.MustRegister(domain.TypeAccountCreation, deps.collaborator(domain.TypeAccountCreation))
	r.MustRegister(domain.TypeRateUpdate, deps.rateUpdate)
	return r
}

// NewBusinessRegistry 业务队列：手机采购与回收
func NewBusinessRegistry(deps Dependencies) *Registry {
	r := NewRegistry(domain.ClassBusiness)
	r.MustRegister(domain.TypePhonePurchase, deps.collaborator(domain.TypePhonePurchase))
	r.MustRegister(domain.TypePhoneRecycle, deps.phoneRecycle)
	return r
}

// NewNotificationRegistry 通知队列：设备故障、时钟基准、交付重试
func NewNotificationRegistry(deps Dependencies) *Registry {
	r := NewRegistry(domain.ClassNotification)
	r.MustRegister(domain.TypeEquipmentFailure, deps.collaborator(domain.TypeEquipmentFailure))
	r.MustRegister(domain.TypeEpochUpdate, deps.epochUpdate)
	r.MustRegister(domain.TypeDeliveryRetry, deps.deliveryRetry)
	return r
}

func (d Dependencies) log() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Dependencies) collaborator(msgType string) Handler {
	if h, ok := d.Collaborators[msgType]; ok {
		return h
	}
	return func(ctx context.Context, msg *domain.Message) error {
		d.log().InfoContext(ctx, "message forwarded to external collaborator",
			"type", msgType, "message_id", msg.ID, "payload", string(msg.Body.Payload))
		return nil
	}
}

func (d Dependencies) rateUpdate(ctx context.Context, msg *domain.Message) error {
	var p domain.RateUpdatePayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	kind, err := market.ParseKind(p.Market)
	if err != nil {
		return err
	}
	if d.Prices == nil {
		return apperr.New(apperr.CodeInternal, "price updater not configured")
	}
	return d.Prices.UpdatePrice(ctx, p.SimulationID, kind, p.ItemName, p.Price)
}

func (d Dependencies) epochUpdate(ctx context.Context, msg *domain.Message) error {
	var p domain.EpochUpdatePayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if d.Epochs == nil {
		return apperr.New(apperr.CodeInternal, "epoch resyncer not configured")
	}
	return d.Epochs.ResyncEpoch(ctx, p.SimulationID, p.Epoch)
}

func (d Dependencies) phoneRecycle(ctx context.Context, msg *domain.Message) error {
	var p domain.PhoneRecyclePayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if d.Recycling == nil {
		return d.collaborator(domain.TypePhoneRecycle)(ctx, msg)
	}
	n, err := d.Recycling.MarkRecycled(ctx, p.SimulationID, p.BatchKey(), p.UpToID)
	if err != nil {
		return err
	}
	d.log().InfoContext(ctx, "recycling batch processed",
		"simulation_id", p.SimulationID, "simulated_date", p.SimulatedDate,
		"requested", p.TotalQuantity, "recycled", n, "up_to_id", p.UpToID)
	return nil
}

func (d Dependencies) deliveryRetry(ctx context.Context, msg *domain.Message) error {
	var delivery notification.Delivery
	if err := msg.Decode(&delivery); err != nil {
		return err
	}
	if d.Deliveries == nil {
		return apperr.New(apperr.CodeInternal, "delivery notifier not configured")
	}
	return d.Deliveries.NotifyDelivery(ctx, delivery)
}
