package domain

import (
	"fmt"

	market "github.com/wyfcoding/economyengine/internal/market/domain"
	"github.com/wyfcoding/economyengine/pkg/apperr"
)

// FallbackPolicy 未知商品类型的处理策略
type FallbackPolicy string

const (
	// FallbackBulkMaterial 按散装材料处理
	FallbackBulkMaterial FallbackPolicy = "bulk_material"
	// FallbackReject 拒绝订单
	FallbackReject FallbackPolicy = "reject"
)

// ItemClassifier 按商品类型 ID 确定市场类别
type ItemClassifier struct {
	types    map[string]market.Kind
	fallback FallbackPolicy
}

// NewItemClassifier 创建分类器，映射中的类别必须合法
func NewItemClassifier(types map[string]string, fallback FallbackPolicy) (*ItemClassifier, error) {
	switch fallback {
	case "":
		fallback = FallbackBulkMaterial
	case FallbackBulkMaterial, FallbackReject:
	default:
		return nil, fmt.Errorf("unknown item type fallback policy %q", fallback)
	}

	c := &ItemClassifier{types: make(map[string]market.Kind, len(types)), fallback: fallback}
	for id, k := range types {
		kind, err := market.ParseKind(k)
		if err != nil {
			return nil, fmt.Errorf("item type %s: %w", id, err)
		}
		c.types[id] = kind
	}
	return c, nil
}

// Classify 返回市场类别；fellBack 表示使用了兜底策略
func (c *ItemClassifier) Classify(itemTypeID string) (kind market.Kind, fellBack bool, err error) {
	if kind, ok := c.types[itemTypeID]; ok {
		return kind, false, nil
	}
	if c.fallback == FallbackReject {
		return "", false, apperr.WithMetadata(apperr.CodeUnknownItemType, "unknown item type",
			map[string]string{"item_type_id": itemTypeID})
	}
	return market.KindBulkMaterial, true, nil
}
