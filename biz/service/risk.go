package service

import (
	"riskguard/biz/model"
)

// CalculateRiskLevel 计算风险等级
// Pure classification of one position against the account's active risk
// configuration. A loss-ratio breach dominates the value-based tiers; when
// either price is missing the valuation is unknown and the conservative
// default is medium.
func CalculateRiskLevel(pos *model.Position, cfg *model.RiskConfig) model.RiskLevel {
	if pos.CurrentPrice == 0 || pos.EntryPrice == 0 {
		return model.RiskMedium
	}

	pnlRatio := (pos.CurrentPrice - pos.EntryPrice) / pos.EntryPrice
	positionValue := pos.Size * pos.CurrentPrice

	switch {
	case pnlRatio <= -cfg.RiskRatioThreshold:
		return model.RiskCritical
	case positionValue >= cfg.MaxPositionValue*0.9:
		return model.RiskHigh
	case positionValue >= cfg.MaxPositionValue*0.7:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// AccountRiskSummary aggregates the active positions of one account.
type AccountRiskSummary struct {
	TotalPositionValue  float64                 `json:"total_position_value"`
	TotalUnrealizedPnl  float64                 `json:"total_unrealized_pnl"`
	HighestRiskLevel    model.RiskLevel         `json:"highest_risk_level"`
	ActivePositionCount int                     `json:"active_positions_count"`
	RiskDistribution    map[model.RiskLevel]int `json:"risk_level_distribution"`
}

var riskOrder = map[model.RiskLevel]int{
	model.RiskLow:      0,
	model.RiskMedium:   1,
	model.RiskHigh:     2,
	model.RiskCritical: 3,
}

// SummarizeRisk folds a position list into an account-level overview.
func SummarizeRisk(positions []model.Position) AccountRiskSummary {
	summary := AccountRiskSummary{
		HighestRiskLevel: model.RiskLow,
		RiskDistribution: make(map[model.RiskLevel]int),
	}
	for _, pos := range positions {
		if !pos.IsActive {
			continue
		}
		summary.ActivePositionCount++
		if pos.CurrentPrice > 0 {
			summary.TotalPositionValue += pos.Size * pos.CurrentPrice
		}
		summary.TotalUnrealizedPnl += pos.UnrealizedPnl
		summary.RiskDistribution[pos.RiskLevel]++
		if riskOrder[pos.RiskLevel] > riskOrder[summary.HighestRiskLevel] {
			summary.HighestRiskLevel = pos.RiskLevel
		}
	}
	return summary
}
