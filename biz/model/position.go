package model

import "time"

// PositionSide discriminates hedge-mode exposures. NET is used when the
// exchange does not report a side.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
	SideNet   = "NET"
)

// RiskLevel is a coarse ordinal classification: low < medium < high < critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Position 持仓模型（GORM）
// At most one row per (account, symbol, side). Rows are deactivated, never
// deleted, when the exchange stops reporting the exposure.
type Position struct {
	ID               uint      `gorm:"primaryKey;column:id" json:"id"`
	AccountID        uint      `gorm:"column:account_id;index:idx_account_symbol_side,priority:1" json:"account_id"`
	Symbol           string    `gorm:"column:symbol;size:20;index:idx_account_symbol_side,priority:2" json:"symbol"`
	PositionSide     string    `gorm:"column:position_side;size:10;index:idx_account_symbol_side,priority:3" json:"position_side"`
	Size             float64   `gorm:"column:size" json:"size"`
	EntryPrice       float64   `gorm:"column:entry_price" json:"entry_price"`
	CurrentPrice     float64   `gorm:"column:current_price" json:"current_price"`
	UnrealizedPnl    float64   `gorm:"column:unrealized_pnl" json:"unrealized_pnl"`
	Leverage         float64   `gorm:"column:leverage" json:"leverage"`
	RiskLevel        RiskLevel `gorm:"column:risk_level;size:10" json:"risk_level"`
	LiquidationPrice *float64  `gorm:"column:liquidation_price" json:"liquidation_price,omitempty"`
	IsActive         bool      `gorm:"column:is_active" json:"is_active"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// PositionDelta lists exactly the fields the reconcile and price paths are
// allowed to change on an existing row. Nil pointer means "leave unchanged".
type PositionDelta struct {
	Size          *float64
	EntryPrice    *float64
	CurrentPrice  *float64
	UnrealizedPnl *float64
	Leverage      *float64
	RiskLevel     *RiskLevel
	IsActive      *bool
}

// Apply copies the set fields onto p.
func (d PositionDelta) Apply(p *Position) {
	if d.Size != nil {
		p.Size = *d.Size
	}
	if d.EntryPrice != nil {
		p.EntryPrice = *d.EntryPrice
	}
	if d.CurrentPrice != nil {
		p.CurrentPrice = *d.CurrentPrice
	}
	if d.UnrealizedPnl != nil {
		p.UnrealizedPnl = *d.UnrealizedPnl
	}
	if d.Leverage != nil {
		p.Leverage = *d.Leverage
	}
	if d.RiskLevel != nil {
		p.RiskLevel = *d.RiskLevel
	}
	if d.IsActive != nil {
		p.IsActive = *d.IsActive
	}
}

// Columns returns the delta as a gorm Updates map.
func (d PositionDelta) Columns() map[string]any {
	cols := make(map[string]any, 7)
	if d.Size != nil {
		cols["size"] = *d.Size
	}
	if d.EntryPrice != nil {
		cols["entry_price"] = *d.EntryPrice
	}
	if d.CurrentPrice != nil {
		cols["current_price"] = *d.CurrentPrice
	}
	if d.UnrealizedPnl != nil {
		cols["unrealized_pnl"] = *d.UnrealizedPnl
	}
	if d.Leverage != nil {
		cols["leverage"] = *d.Leverage
	}
	if d.RiskLevel != nil {
		cols["risk_level"] = *d.RiskLevel
	}
	if d.IsActive != nil {
		cols["is_active"] = *d.IsActive
	}
	return cols
}
