// Package domain 市场账本的领域模型：库存行、每日漂移与原子预留
package domain

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/economyengine/pkg/apperr"
)

// Kind 商品大类，每个模拟每类一个市场
type Kind string

const (
	KindBulkMaterial Kind = "bulk_material"
	KindEquipment    Kind = "equipment"
	KindVehicle      Kind = "vehicle"
)

// Kinds 全部市场类别
var Kinds = []Kind{KindBulkMaterial, KindEquipment, KindVehicle}

// Discrete 设备与车辆按件售卖
func (k Kind) Discrete() bool {
	return k == KindEquipment || k == KindVehicle
}

// ParseKind 解析市场类别
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBulkMaterial, KindEquipment, KindVehicle:
		return Kind(s), nil
	}
	return "", apperr.WithMetadata(apperr.CodeMarketNotFound, "unknown market kind", map[string]string{"kind": s})
}

// MarketID 市场唯一标识
func MarketID(simulationID string, kind Kind) string {
	return simulationID + "/" + string(kind)
}

// InventoryLine 库存行。散装材料每个品名一行，设备与车辆每件一行且 Quantity=1
type InventoryLine struct {
	ItemID        string
	ItemName      string
	UnitCost      decimal.Decimal
	Quantity      decimal.Decimal
	Weight        decimal.Decimal
	OperatingCost decimal.Decimal
	Sold          bool
}

// Offer 某品名的可售汇总
type Offer struct {
	ItemName  string          `json:"item_name"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Available decimal.Decimal `json:"available"`
}

// RandomSource 均匀分布 [0,1) 随机源，*rand.Rand 满足该接口
type RandomSource interface {
	Float64() float64
}

// InsufficientInventoryError 库存不足，属于业务结果而非故障
type InsufficientInventoryError struct {
	ItemName  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s: requested %s, available %s",
		e.ItemName, e.Requested.String(), e.Available.String())
}

func (e *InsufficientInventoryError) Unwrap() error {
	return apperr.New(apperr.CodeInsufficientInventory, "insufficient inventory")
}

// InvalidPriceError 价格非法
func InvalidPriceError(itemName string, price decimal.Decimal) error {
	return apperr.WithMetadata(apperr.CodeInvalidPrice, "price must not be negative",
		map[string]string{"item_name": itemName, "price": price.String()})
}

// FatalInvariantError 漂移后出现非有限值或负值
func FatalInvariantError(itemID, field string, value float64) error {
	return apperr.WithMetadata(apperr.CodeDriftInvariant, "market drift produced an invalid value",
		map[string]string{"item_id": itemID, "field": field, "value": fmt.Sprint(value)})
}

// Market 市场聚合，库存只能经由本类型的方法修改
type Market struct {
	mu sync.Mutex

	ID           string
	SimulationID string
	Kind         Kind
	// Floor 漂移后单价下限
	Floor decimal.Decimal
	// LastDriftDay 最近一次应用漂移的模拟日
	LastDriftDay int

	lines []*InventoryLine
	byID  map[string]*InventoryLine
	dirty map[string]struct{}
}

// NewMarket 创建市场聚合，所有库存行初始标记为待持久化
func NewMarket(simulationID string, kind Kind, floor decimal.Decimal, lines []InventoryLine) *Market {
	m := &Market{
		ID:           MarketID(simulationID, kind),
		SimulationID: simulationID,
		Kind:         kind,
		Floor:        floor,
		byID:         make(map[string]*InventoryLine, len(lines)),
		dirty:        make(map[string]struct{}),
	}
	for i := range lines {
		line := lines[i]
		m.lines = append(m.lines, &line)
		m.byID[line.ItemID] = &line
		m.markDirty(line.ItemID)
	}
	return m
}

// Reserve 原子地检查并扣减库存，返回被售出的库存行 ID
func (m *Market) Reserve(itemName string, qty decimal.Decimal) ([]string, error) {
	if !qty.IsPositive() {
		return nil, apperr.WithMetadata(apperr.CodeInvalidQuantity, "quantity must be positive",
			map[string]string{"item_name": itemName, "quantity": qty.String()})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Kind.Discrete() {
		if !qty.Equal(qty.Truncate(0)) {
			return nil, apperr.WithMetadata(apperr.CodeInvalidQuantity, "discrete goods require a whole quantity",
				map[string]string{"item_name": itemName, "quantity": qty.String()})
		}
		units := m.unsoldUnits(itemName)
		if decimal.NewFromInt(int64(len(units))).LessThan(qty) {
			return nil, &InsufficientInventoryError{ItemName: itemName, Requested: qty, Available: decimal.NewFromInt(int64(len(units)))}
		}
		n := int(qty.IntPart())
		ids := make([]string, 0, n)
		for _, line := range units[:n] {
			line.Sold = true
			m.markDirty(line.ItemID)
			ids = append(ids, line.ItemID)
		}
		return ids, nil
	}

	line := m.bulkLine(itemName)
	if line == nil {
		return nil, &InsufficientInventoryError{ItemName: itemName, Requested: qty, Available: decimal.Zero}
	}
	if line.Quantity.LessThan(qty) {
		return nil, &InsufficientInventoryError{ItemName: itemName, Requested: qty, Available: line.Quantity}
	}
	line.Quantity = line.Quantity.Sub(qty)
	m.markDirty(line.ItemID)
	return []string{line.ItemID}, nil
}

// Release 撤销一次持久化失败的预留
func (m *Market) Release(itemName string, qty decimal.Decimal, itemIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range itemIDs {
		line, ok := m.byID[id]
		if !ok || line.ItemName != itemName {
			continue
		}
		if m.Kind.Discrete() {
			line.Sold = false
		} else {
			line.Quantity = line.Quantity.Add(qty)
		}
		m.markDirty(id)
	}
}

// UpdatePrice 设置某品名所有库存行的单价
func (m *Market) UpdatePrice(itemName string, price decimal.Decimal) error {
	if price.IsNegative() {
		return InvalidPriceError(itemName, price)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for _, line := range m.lines {
		if line.ItemName == itemName {
			line.UnitCost = price
			m.markDirty(line.ItemID)
			found = true
		}
	}
	if !found {
		return apperr.WithMetadata(apperr.CodeItemNotFound, "item not found in market",
			map[string]string{"market_id": m.ID, "item_name": itemName})
	}
	return nil
}

type driftResult struct {
	line     *InventoryLine
	cost     decimal.Decimal
	quantity decimal.Decimal
}

// ApplyDailyRandomness 每个模拟日调用一次：单价乘以 U[0.9,1.1]，散装数量扰动 ±5%。
// 结果先暂存，出现非法值时整体放弃，聚合保持不变
func (m *Market) ApplyDailyRandomness(day int, rng RandomSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if day <= m.LastDriftDay {
		return apperr.WithMetadata(apperr.CodeDriftAlreadyApplied, "daily drift already applied",
			map[string]string{"market_id": m.ID, "day": fmt.Sprint(day), "last_drift_day": fmt.Sprint(m.LastDriftDay)})
	}

	staged := make([]driftResult, 0, len(m.lines))
	for _, line := range m.lines {
		if line.Sold {
			continue
		}
		if line.Weight.IsNegative() {
			return FatalInvariantError(line.ItemID, "weight", line.Weight.InexactFloat64())
		}

		priceFactor := 0.9 + 0.2*rng.Float64()
		cost := line.UnitCost.InexactFloat64() * priceFactor
		if !finite(priceFactor) || !finite(cost) {
			return FatalInvariantError(line.ItemID, "unit_cost", cost)
		}
		newCost := line.UnitCost.Mul(decimal.NewFromFloat(priceFactor)).Round(2)
		if newCost.LessThan(m.Floor) {
			newCost = m.Floor
		}

		newQty := line.Quantity
		if !m.Kind.Discrete() {
			qtyFactor := 1 + (rng.Float64()*0.1 - 0.05)
			q := line.Quantity.InexactFloat64() * qtyFactor
			if !finite(qtyFactor) || !finite(q) {
				return FatalInvariantError(line.ItemID, "quantity", q)
			}
			newQty = line.Quantity.Mul(decimal.NewFromFloat(qtyFactor)).Round(3)
			if newQty.IsNegative() {
				newQty = decimal.Zero
			}
		}
		staged = append(staged, driftResult{line: line, cost: newCost, quantity: newQty})
	}

	for _, r := range staged {
		r.line.UnitCost = r.cost
		r.line.Quantity = r.quantity
		m.markDirty(r.line.ItemID)
	}
	m.LastDriftDay = day
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Available 返回未售出的库存行副本
func (m *Market) Available() []InventoryLine {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]InventoryLine, 0, len(m.lines))
	for _, line := range m.lines {
		if line.Sold || (!m.Kind.Discrete() && !line.Quantity.IsPositive()) {
			continue
		}
		out = append(out, *line)
	}
	return out
}

// AvailableQuantity 某品名的可售数量
func (m *Market) AvailableQuantity(itemName string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableQuantity(itemName)
}

func (m *Market) availableQuantity(itemName string) decimal.Decimal {
	if m.Kind.Discrete() {
		return decimal.NewFromInt(int64(len(m.unsoldUnits(itemName))))
	}
	if line := m.bulkLine(itemName); line != nil {
		return line.Quantity
	}
	return decimal.Zero
}

// UnitCost 某品名的当前单价，取下一件可售单位的报价；离散品全部售出时返回库存不足
func (m *Market) UnitCost(itemName string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if line := m.quoteLine(itemName); line != nil {
		return line.UnitCost, nil
	}
	for _, line := range m.lines {
		if line.ItemName == itemName {
			return decimal.Zero, &InsufficientInventoryError{ItemName: itemName, Requested: decimal.NewFromInt(1), Available: decimal.Zero}
		}
	}
	return decimal.Zero, apperr.WithMetadata(apperr.CodeItemNotFound, "item not found in market",
		map[string]string{"market_id": m.ID, "item_name": itemName})
}

// Line 按库存行 ID 查询
func (m *Market) Line(itemID string) (InventoryLine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	line, ok := m.byID[itemID]
	if !ok {
		return InventoryLine{}, false
	}
	return *line, true
}

// Offers 按品名汇总可售库存
func (m *Market) Offers() []Offer {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var offers []Offer
	for _, line := range m.lines {
		if seen[line.ItemName] {
			continue
		}
		seen[line.ItemName] = true
		quote := m.quoteLine(line.ItemName)
		available := m.availableQuantity(line.ItemName)
		if quote == nil || !available.IsPositive() {
			continue
		}
		offers = append(offers, Offer{ItemName: line.ItemName, UnitCost: quote.UnitCost, Available: available})
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ItemName < offers[j].ItemName })
	return offers
}

// Lines 返回全部库存行副本（含已售）
func (m *Market) Lines() []InventoryLine {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]InventoryLine, len(m.lines))
	for i, line := range m.lines {
		out[i] = *line
	}
	return out
}

// DirtyLines 返回自上次 ClearDirty 以来被修改的库存行
func (m *Market) DirtyLines() []InventoryLine {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]InventoryLine, 0, len(m.dirty))
	for _, line := range m.lines {
		if _, ok := m.dirty[line.ItemID]; ok {
			out = append(out, *line)
		}
	}
	return out
}

// ClearDirty 持久化成功后清空修改标记
func (m *Market) ClearDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = make(map[string]struct{})
}

// Clone 深拷贝，用于暂存修改
func (m *Market) Clone() *Market {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := &Market{
		ID:           m.ID,
		SimulationID: m.SimulationID,
		Kind:         m.Kind,
		Floor:        m.Floor,
		LastDriftDay: m.LastDriftDay,
		byID:         make(map[string]*InventoryLine, len(m.lines)),
		dirty:        make(map[string]struct{}, len(m.dirty)),
	}
	for _, line := range m.lines {
		l := *line
		cp.lines = append(cp.lines, &l)
		cp.byID[l.ItemID] = &l
	}
	for id := range m.dirty {
		cp.dirty[id] = struct{}{}
	}
	return cp
}

func (m *Market) unsoldUnits(itemName string) []*InventoryLine {
	var units []*InventoryLine
	for _, line := range m.lines {
		if line.ItemName == itemName && !line.Sold {
			units = append(units, line)
		}
	}
	return units
}

// quoteLine 报价依据：离散品为下一件将售出的单位，散装为该品名的唯一行
func (m *Market) quoteLine(itemName string) *InventoryLine {
	if !m.Kind.Discrete() {
		return m.bulkLine(itemName)
	}
	if units := m.unsoldUnits(itemName); len(units) > 0 {
		return units[0]
	}
	return nil
}

func (m *Market) bulkLine(itemName string) *InventoryLine {
	for _, line := range m.lines {
		if line.ItemName == itemName {
			return line
		}
	}
	return nil
}

func (m *Market) markDirty(itemID string) {
	m.dirty[itemID] = struct{}{}
}
