package domain

import (
	"context"
	"sync"

	market "github.com/wyfcoding/economyengine/internal/market/domain"
	"github.com/wyfcoding/economyengine/pkg/apperr"
)

// Session 单个模拟运行的上下文：时钟与三个市场。
// 每日推进与订单履约都必须持有会话锁
type Session struct {
	mu      sync.Mutex
	id      string
	clock   *Clock
	markets map[market.Kind]*market.Market
}

// NewSession 创建模拟会话
func NewSession(clock *Clock, markets map[market.Kind]*market.Market) *Session {
	return &Session{id: clock.SimulationID, clock: clock, markets: markets}
}

func (s *Session) ID() string { return s.id }

// Lock 获取会话锁
func (s *Session) Lock() { s.mu.Lock() }

// Unlock 释放会话锁
func (s *Session) Unlock() { s.mu.Unlock() }

// Clock 当前时钟，调用方需持有会话锁
func (s *Session) Clock() *Clock { return s.clock }

// Market 按类别取市场，调用方需持有会话锁
func (s *Session) Market(kind market.Kind) (*market.Market, error) {
	m, ok := s.markets[kind]
	if !ok {
		return nil, PreconditionError(s.id, "market "+string(kind))
	}
	return m, nil
}

// Markets 返回市场映射的浅拷贝
func (s *Session) Markets() map[market.Kind]*market.Market {
	out := make(map[market.Kind]*market.Market, len(s.markets))
	for k, m := range s.markets {
		out[k] = m
	}
	return out
}

// Commit 用已持久化的暂存状态替换会话状态
func (s *Session) Commit(clock *Clock, markets map[market.Kind]*market.Market) {
	s.clock = clock
	for k, m := range markets {
		s.markets[k] = m
	}
}

// SetMarket 替换单个市场
func (s *Session) SetMarket(m *market.Market) {
	s.markets[m.Kind] = m
}

// PreconditionError 模拟运行缺少必要状态
func PreconditionError(simulationID, missing string) error {
	return apperr.WithMetadata(apperr.CodePreconditionFailed, "simulation state is incomplete: missing "+missing,
		map[string]string{"simulation_id": simulationID, "missing": missing})
}

// Sessions 会话查找接口，不存在时返回 PreconditionError
type Sessions interface {
	Get(ctx context.Context, simulationID string) (*Session, error)
}
