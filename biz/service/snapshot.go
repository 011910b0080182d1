package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"riskguard/biz/exchange"
	"riskguard/biz/model"
)

// SnapshotRecorder appends an equity/balance sample per account at most once
// per interval and refreshes the account's cached balances alongside.
type SnapshotRecorder struct {
	snapshots SnapshotStore
	accounts  AccountStore
	interval  time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewSnapshotRecorder(snapshots SnapshotStore, accounts AccountStore, interval time.Duration, log *zap.Logger) *SnapshotRecorder {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SnapshotRecorder{
		snapshots: snapshots,
		accounts:  accounts,
		interval:  interval,
		now:       time.Now,
		log:       log,
	}
}

// Record refreshes the account's cached equity/balance/today-PnL and appends
// a snapshot when the latest one is missing or older than the interval.
func (r *SnapshotRecorder) Record(ctx context.Context, accountID uint, info *exchange.AccountInfo) error {
	equity := parseFloat(info.TotalMarginBalance)
	balance := parseFloat(info.AvailableBalance)
	todayPnl := parseFloat(info.TotalUnrealizedProfit)

	if err := r.accounts.UpdateBalances(ctx, accountID, equity, balance, todayPnl); err != nil {
		r.log.Error("account balance refresh failed", zap.Uint("account", accountID), zap.Error(err))
	}

	latest, err := r.snapshots.Latest(ctx, accountID)
	if err != nil {
		return err
	}
	now := r.now()
	if latest != nil && now.Sub(latest.CreatedAt) < r.interval {
		return nil
	}

	snap := &model.AccountSnapshot{
		AccountID: accountID,
		Equity:    equity,
		Balance:   balance,
		CreatedAt: now,
	}
	if err := r.snapshots.Insert(ctx, snap); err != nil {
		return err
	}
	r.log.Info("account snapshot recorded",
		zap.Uint("account", accountID),
		zap.Float64("equity", equity),
		zap.Float64("balance", balance))
	return nil
}
