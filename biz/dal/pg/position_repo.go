package pg

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"riskguard/biz/model"
)

// PositionRepo persists positions. Lookups return (nil, nil) when no row
// matches so callers can distinguish absence from failure.
type PositionRepo struct {
	db *gorm.DB
}

func NewPositionRepo(db *gorm.DB) *PositionRepo {
	return &PositionRepo{db: db}
}

func (r *PositionRepo) ActiveByAccount(ctx context.Context, accountID uint) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND is_active = ?", accountID, true).
		Find(&positions).Error
	return positions, err
}

func (r *PositionRepo) AllActive(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&positions).Error
	return positions, err
}

func (r *PositionRepo) Find(ctx context.Context, accountID uint, symbol, side string) (*model.Position, error) {
	var pos model.Position
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND position_side = ?", accountID, symbol, side).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// FindBySymbol is the degraded lookup for schemas without the position_side
// column.
func (r *PositionRepo) FindBySymbol(ctx context.Context, accountID uint, symbol string) (*model.Position, error) {
	var pos model.Position
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (r *PositionRepo) Get(ctx context.Context, id uint) (*model.Position, error) {
	var pos model.Position
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (r *PositionRepo) Create(ctx context.Context, pos *model.Position) error {
	return r.db.WithContext(ctx).Create(pos).Error
}

// Update applies a typed delta and returns the stored row.
func (r *PositionRepo) Update(ctx context.Context, id uint, delta model.PositionDelta) (*model.Position, error) {
	cols := delta.Columns()
	if len(cols) > 0 {
		if err := r.db.WithContext(ctx).Model(&model.Position{}).Where("id = ?", id).Updates(cols).Error; err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, id)
}
