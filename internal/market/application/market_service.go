// Package application 市场的价格维护与可售查询
package application

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/economyengine/internal/market/domain"
	simulation "github.com/wyfcoding/economyengine/internal/simulation/domain"
)

// MarketService 市场应用服务
type MarketService struct {
	sessions simulation.Sessions
	repo     domain.MarketRepository
	logger   *slog.Logger
}

// NewMarketService 构造函数。
func NewMarketService(sessions simulation.Sessions, repo domain.MarketRepository, logger *slog.Logger) *MarketService {
	return &MarketService{
		sessions: sessions,
		repo:     repo,
		logger:   logger.With("module", "market_service"),
	}
}

// UpdatePrice 在副本上改价并持久化，成功后才替换会话中的市场
func (s *MarketService) UpdatePrice(ctx context.Context, simulationID string, kind domain.Kind, itemName string, price decimal.Decimal) error {
	session, err := s.sessions.Get(ctx, simulationID)
	if err != nil {
		return err
	}
	session.Lock()
	defer session.Unlock()

	current, err := session.Market(kind)
	if err != nil {
		return err
	}
	staged := current.Clone()
	if err := staged.UpdatePrice(itemName, price); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, staged); err != nil {
		return err
	}
	staged.ClearDirty()
	session.SetMarket(staged)

	s.logger.InfoContext(ctx, "market price updated", "simulation_id", simulationID, "market", kind, "item", itemName, "price", price.String())
	return nil
}

// Offers 按品名汇总的可售库存
func (s *MarketService) Offers(ctx context.Context, simulationID string, kind domain.Kind) ([]domain.Offer, error) {
	session, err := s.sessions.Get(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	m, err := session.Market(kind)
	if err != nil {
		return nil, err
	}
	return m.Offers(), nil
}

// Inventory 未售出的库存行
func (s *MarketService) Inventory(ctx context.Context, simulationID string, kind domain.Kind) ([]domain.InventoryLine, error) {
	session, err := s.sessions.Get(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	m, err := session.Market(kind)
	if err != nil {
		return nil, err
	}
	return m.Available(), nil
}
