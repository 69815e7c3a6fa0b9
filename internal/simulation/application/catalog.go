package application

import (
	"fmt"

	"github.com/shopspring/decimal"
	market "github.com/wyfcoding/economyengine/internal/market/domain"
)

// ItemSeed 模拟开始时某个品名的初始库存
type ItemSeed struct {
	ItemName      string          `json:"item_name"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Quantity      decimal.Decimal `json:"quantity"`
	Weight        decimal.Decimal `json:"weight"`
	OperatingCost decimal.Decimal `json:"operating_cost"`
}

// Catalog 每个市场的初始库存
type Catalog map[market.Kind][]ItemSeed

func seed(name, cost, qty, weight, opCost string) ItemSeed {
	return ItemSeed{
		ItemName:      name,
		UnitCost:      decimal.RequireFromString(cost),
		Quantity:      decimal.RequireFromString(qty),
		Weight:        decimal.RequireFromString(weight),
		OperatingCost: decimal.RequireFromString(opCost),
	}
}

// DefaultCatalog 手机制造经济的标准初始库存
func DefaultCatalog() Catalog {
	return Catalog{
		market.KindBulkMaterial: {
			seed("aluminium", "18.50", "5000", "1", "0"),
			seed("copper", "42.00", "3000", "1", "0"),
			seed("plastic", "9.75", "8000", "1", "0"),
			seed("sand", "1.20", "20000", "1", "0"),
			seed("silicon", "27.30", "4000", "1", "0"),
		},
		market.KindEquipment: {
			seed("case_machine", "250000", "10", "2000", "1500"),
			seed("electronics_machine", "480000", "8", "1800", "2200"),
			seed("ephone_machine", "1200000", "4", "3500", "4800"),
			seed("recycling_machine", "300000", "6", "2500", "1800"),
		},
		market.KindVehicle: {
			seed("small_truck", "450000", "12", "3500", "900"),
			seed("medium_truck", "900000", "8", "7500", "1600"),
			seed("large_truck", "1800000", "4", "16000", "2800"),
		},
	}
}

// Lines 展开为库存行。散装材料每个品名一行；设备与车辆每件一行，ID 为 品名-序号
func (c Catalog) Lines(kind market.Kind) ([]market.InventoryLine, error) {
	var lines []market.InventoryLine
	for _, s := range c[kind] {
		if s.UnitCost.IsNegative() || s.Quantity.IsNegative() {
			return nil, fmt.Errorf("catalog item %s has a negative cost or quantity", s.ItemName)
		}
		if !kind.Discrete() {
			lines = append(lines, market.InventoryLine{
				ItemID: s.ItemName, ItemName: s.ItemName, UnitCost: s.UnitCost,
				Quantity: s.Quantity, Weight: s.Weight, OperatingCost: s.OperatingCost,
			})
			continue
		}
		if !s.Quantity.Equal(s.Quantity.Truncate(0)) {
			return nil, fmt.Errorf("catalog item %s needs a whole quantity", s.ItemName)
		}
		for i := int64(1); i <= s.Quantity.IntPart(); i++ {
			lines = append(lines, market.InventoryLine{
				ItemID: fmt.Sprintf("%s-%d", s.ItemName, i), ItemName: s.ItemName, UnitCost: s.UnitCost,
				Quantity: decimal.NewFromInt(1), Weight: s.Weight, OperatingCost: s.OperatingCost,
			})
		}
	}
	return lines, nil
}
