package model

import "time"

// Account 账户模型（GORM）
// Owned by the admin layer. The core only refreshes the cached equity,
// balance and today-PnL columns.
type Account struct {
	ID               uint      `gorm:"primaryKey;column:id" json:"id"`
	Name             string    `gorm:"column:name;size:100" json:"name"`
	Exchange         string    `gorm:"column:exchange;size:50" json:"exchange"`
	APIKey           string    `gorm:"column:api_key;size:255" json:"-"`
	APISecret        string    `gorm:"column:api_secret;size:255" json:"-"`
	IsActive         bool      `gorm:"column:is_active" json:"is_active"`
	TotalEquity      float64   `gorm:"column:total_equity" json:"total_equity"`
	AvailableBalance float64   `gorm:"column:available_balance" json:"available_balance"`
	TodayPnl         float64   `gorm:"column:today_pnl" json:"today_pnl"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// AccountSnapshot 账户快照（append-only）
// At most one row per account per rolling snapshot interval.
type AccountSnapshot struct {
	ID        uint      `gorm:"primaryKey;column:id" json:"id"`
	AccountID uint      `gorm:"column:account_id;index" json:"account_id"`
	Equity    float64   `gorm:"column:equity" json:"equity"`
	Balance   float64   `gorm:"column:balance" json:"balance"`
	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (AccountSnapshot) TableName() string {
	return "account_snapshots"
}
