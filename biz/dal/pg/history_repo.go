package pg

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"riskguard/biz/model"
)

type HistoryRepo struct {
	db *gorm.DB
}

func NewHistoryRepo(db *gorm.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// FindByTransactionID looks a ledger row up by its global idempotency key.
func (r *HistoryRepo) FindByTransactionID(ctx context.Context, txID string) (*model.TransactionHistory, error) {
	var row model.TransactionHistory
	err := r.db.WithContext(ctx).Where("transaction_id = ?", txID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *HistoryRepo) Insert(ctx context.Context, row *model.TransactionHistory) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// UpdateAggregate rewrites the value columns of an aggregated trade row.
// Values may grow as more fills land for the same order.
func (r *HistoryRepo) UpdateAggregate(ctx context.Context, id uint, row *model.TransactionHistory) error {
	return r.db.WithContext(ctx).Model(&model.TransactionHistory{}).Where("id = ?", id).Updates(map[string]any{
		"price":        row.Price,
		"qty":          row.Qty,
		"quote_qty":    row.QuoteQty,
		"commission":   row.Commission,
		"realized_pnl": row.RealizedPnl,
		"time":         row.Time,
	}).Error
}

// DeleteGranularFills removes legacy per-fill rows so the ledger keeps one
// row per order.
func (r *HistoryRepo) DeleteGranularFills(ctx context.Context, accountID uint) error {
	return r.db.WithContext(ctx).
		Where("account_id = ? AND type = ?", accountID, model.TypeTradeFill).
		Delete(&model.TransactionHistory{}).Error
}

func (r *HistoryRepo) Recent(ctx context.Context, accountID uint, limit int) ([]model.TransactionHistory, error) {
	var rows []model.TransactionHistory
	q := r.db.WithContext(ctx).Model(&model.TransactionHistory{})
	if accountID != 0 {
		q = q.Where("account_id = ?", accountID)
	}
	err := q.Order("time desc").Limit(limit).Find(&rows).Error
	return rows, err
}
