// Package application 模拟运行的生命周期、每日推进编排与调度
package application

import (
	"context"
	"log/slog"
	"sync"

	market "github.com/wyfcoding/economyengine/internal/market/domain"
	"github.com/wyfcoding/economyengine/internal/simulation/domain"
	"golang.org/x/sync/singleflight"
)

// SessionStore 进程内的模拟会话缓存。首次访问时从仓储加载时钟与三个市场，
// 同一模拟的并发加载只执行一次
type SessionStore struct {
	clocks  domain.ClockRepository
	markets market.MarketRepository
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*domain.Session
	loads    singleflight.Group
}

// NewSessionStore 创建会话缓存
func NewSessionStore(clocks domain.ClockRepository, markets market.MarketRepository, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		clocks:   clocks,
		markets:  markets,
		logger:   logger.With("module", "session_store"),
		sessions: make(map[string]*domain.Session),
	}
}

// Get 实现 domain.Sessions；状态不完整时返回 PreconditionError
func (s *SessionStore) Get(ctx context.Context, simulationID string) (*domain.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[simulationID]
	s.mu.RUnlock()
	if ok {
		return session, nil
	}

	v, err, _ := s.loads.Do(simulationID, func() (any, error) {
		s.mu.RLock()
		cached, ok := s.sessions[simulationID]
		s.mu.RUnlock()
		if ok {
			return cached, nil
		}

		loaded, err := s.load(ctx, simulationID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.sessions[simulationID] = loaded
		s.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Session), nil
}

func (s *SessionStore) load(ctx context.Context, simulationID string) (*domain.Session, error) {
	clock, err := s.clocks.Get(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		return nil, domain.PreconditionError(simulationID, "clock")
	}

	markets := make(map[market.Kind]*market.Market, len(market.Kinds))
	for _, kind := range market.Kinds {
		m, err := s.markets.Get(ctx, simulationID, kind)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, domain.PreconditionError(simulationID, "market "+string(kind))
		}
		markets[kind] = m
	}

	s.logger.InfoContext(ctx, "simulation session loaded", "simulation_id", simulationID, "day", clock.CurrentDay, "status", clock.Status)
	return domain.NewSession(clock, markets), nil
}

// Put 缓存新创建的会话
func (s *SessionStore) Put(session *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID()] = session
}

// Evict 丢弃缓存，下次访问重新加载
func (s *SessionStore) Evict(simulationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, simulationID)
}
