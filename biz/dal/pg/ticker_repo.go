package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"riskguard/biz/model"
)

// TickerRepo appends price samples on the hot polling path through the pgx
// pool and serves reads through GORM.
type TickerRepo struct {
	db   *gorm.DB
	pool *pgxpool.Pool
}

func NewTickerRepo(db *gorm.DB, pool *pgxpool.Pool) *TickerRepo {
	return &TickerRepo{db: db, pool: pool}
}

func (r *TickerRepo) Insert(ctx context.Context, sample *model.TickerHistory) error {
	if r.pool != nil {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO ticker_history (symbol, price, source, position_id, account_id, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sample.Symbol, sample.Price, sample.Source, sample.PositionID, sample.AccountID, sample.Timestamp)
		return err
	}
	return r.db.WithContext(ctx).Create(sample).Error
}

func (r *TickerRepo) Recent(ctx context.Context, symbol string, limit int) ([]model.TickerHistory, error) {
	var rows []model.TickerHistory
	q := r.db.WithContext(ctx).Model(&model.TickerHistory{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	err := q.Order("timestamp desc").Limit(limit).Find(&rows).Error
	return rows, err
}
