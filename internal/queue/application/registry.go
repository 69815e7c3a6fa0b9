// Package application 持久化队列消费者与消息处理器
package application

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/wyfcoding/economyengine/internal/queue/domain"
)

// Handler 消息处理函数，返回 nil 表示处理成功
type Handler func(ctx context.Context, msg *domain.Message) error

// Registry 某个队列类别的消息类型到处理器映射，类型集合封闭
type Registry struct {
	class    domain.Class
	handlers map[string]Handler
}

// NewRegistry 创建类别注册表
func NewRegistry(class domain.Class) *Registry {
	return &Registry{class: class, handlers: make(map[string]Handler)}
}

func (r *Registry) Class() domain.Class { return r.class }

// Register 注册处理器，类型必须属于该类别
func (r *Registry) Register(msgType string, h Handler) error {
	if !slices.Contains(domain.ClassTypes[r.class], msgType) {
		return fmt.Errorf("message type %q does not belong to %s queue", msgType, r.class)
	}
	r.handlers[msgType] = h
	return nil
}

// MustRegister 注册失败时 panic，用于启动期装配
func (r *Registry) MustRegister(msgType string, h Handler) *Registry {
	if err := r.Register(msgType, h); err != nil {
		panic(err)
	}
	return r
}

// Dispatch 按消息类型分派
func (r *Registry) Dispatch(ctx context.Context, msg *domain.Message) error {
	h, ok := r.handlers[msg.Body.Type]
	if !ok {
		return fmt.Errorf("%w: %q on %s queue", domain.ErrUnknownMessageType, msg.Body.Type, r.class)
	}
	return h(ctx, msg)
}

// Types 已注册的消息类型
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
