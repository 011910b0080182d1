package model

import "time"

// RiskConfig 风控配置（GORM）
// One active configuration per account, written by the admin layer and
// read-only to the reconciliation core.
type RiskConfig struct {
	ID                  uint      `gorm:"primaryKey;column:id" json:"id"`
	AccountID           uint      `gorm:"column:account_id;index" json:"account_id"`
	MaxLeverage         float64   `gorm:"column:max_leverage" json:"max_leverage"`
	MaxPositionValue    float64   `gorm:"column:max_position_value" json:"max_position_value"`
	RiskRatioThreshold  float64   `gorm:"column:risk_ratio_threshold" json:"risk_ratio_threshold"`
	MaxSingleOrder      float64   `gorm:"column:max_single_order" json:"max_single_order"`
	PriceDeviationLimit float64   `gorm:"column:price_deviation_limit" json:"price_deviation_limit"`
	OrderFrequencyLimit int       `gorm:"column:order_frequency_limit" json:"order_frequency_limit"`
	MaxDailyLoss        float64   `gorm:"column:max_daily_loss" json:"max_daily_loss"`
	IsActive            bool      `gorm:"column:is_active" json:"is_active"`
	CreatedAt           time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (RiskConfig) TableName() string {
	return "risk_configs"
}
