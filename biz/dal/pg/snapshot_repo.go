package pg

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"riskguard/biz/model"
)

type SnapshotRepo struct {
	db *gorm.DB
}

func NewSnapshotRepo(db *gorm.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Latest returns the most recent snapshot for the account, or (nil, nil).
func (r *SnapshotRepo) Latest(ctx context.Context, accountID uint) (*model.AccountSnapshot, error) {
	var snap model.AccountSnapshot
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *SnapshotRepo) Insert(ctx context.Context, snap *model.AccountSnapshot) error {
	return r.db.WithContext(ctx).Create(snap).Error
}
