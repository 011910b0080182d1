package pg

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"riskguard/biz/model"
)

type AccountRepo struct {
	db *gorm.DB
}

func NewAccountRepo(db *gorm.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Active(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepo) Get(ctx context.Context, id uint) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateBalances refreshes the cached equity/balance/today-PnL columns, the
// only Account mutation owned by the sync core.
func (r *AccountRepo) UpdateBalances(ctx context.Context, id uint, equity, balance, todayPnl float64) error {
	return r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Updates(map[string]any{
		"total_equity":      equity,
		"available_balance": balance,
		"today_pnl":         todayPnl,
	}).Error
}

type RiskConfigRepo struct {
	db *gorm.DB
}

func NewRiskConfigRepo(db *gorm.DB) *RiskConfigRepo {
	return &RiskConfigRepo{db: db}
}

// Active returns the account's active risk configuration, or (nil, nil) when
// none is configured.
func (r *RiskConfigRepo) Active(ctx context.Context, accountID uint) (*model.RiskConfig, error) {
	var cfg model.RiskConfig
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND is_active = ?", accountID, true).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
