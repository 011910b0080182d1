package model

import "time"

// Ledger entry types. TypeTradeFill marks legacy per-fill rows that the
// history sync purges before re-aggregating per order.
const (
	TypeTrade     = "TRADE"
	TypeTradeFill = "TRADE_FILL"
)

// TransactionHistory 交易/资金流水（append-only，GORM）
// transaction_id is globally unique and is the sole idempotency key. Income
// rows carry the exchange tranId verbatim; aggregated trade rows use
// "order-<orderId>".
type TransactionHistory struct {
	ID              uint      `gorm:"primaryKey;column:id" json:"id"`
	AccountID       uint      `gorm:"column:account_id;index" json:"account_id"`
	TransactionID   string    `gorm:"column:transaction_id;size:64;uniqueIndex" json:"transaction_id"`
	Symbol          string    `gorm:"column:symbol;size:20;index" json:"symbol"`
	Type            string    `gorm:"column:type;size:32;index" json:"type"`
	Side            string    `gorm:"column:side;size:10" json:"side"`
	Price           float64   `gorm:"column:price" json:"price"`
	Qty             float64   `gorm:"column:qty" json:"qty"`
	QuoteQty        float64   `gorm:"column:quote_qty" json:"quote_qty"`
	Commission      float64   `gorm:"column:commission" json:"commission"`
	CommissionAsset string    `gorm:"column:commission_asset;size:16" json:"commission_asset"`
	RealizedPnl     float64   `gorm:"column:realized_pnl" json:"realized_pnl"`
	Time            time.Time `gorm:"column:time;index" json:"time"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
}

func (TransactionHistory) TableName() string {
	return "transaction_history"
}
