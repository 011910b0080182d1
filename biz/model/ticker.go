package model

import "time"

// TickerHistory 行情采样（append-only，GORM）
type TickerHistory struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	Symbol     string    `gorm:"column:symbol;size:20;index" json:"symbol"`
	Price      float64   `gorm:"column:price" json:"price"`
	Source     string    `gorm:"column:source;size:50" json:"source"`
	PositionID *uint     `gorm:"column:position_id" json:"position_id,omitempty"`
	AccountID  *uint     `gorm:"column:account_id" json:"account_id,omitempty"`
	Timestamp  time.Time `gorm:"column:timestamp;index" json:"timestamp"`
}

func (TickerHistory) TableName() string {
	return "ticker_history"
}
