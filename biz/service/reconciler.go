package service

import (
	"context"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"riskguard/biz/exchange"
	"riskguard/biz/model"
)

// sizeEpsilon guards float rounding when deciding whether a net amount still
// represents an open exposure.
const sizeEpsilon = 1e-12

// Reconciler folds the exchange's raw position rows into the local store:
// aggregate by (symbol, side), upsert, deactivate whatever the exchange
// stopped reporting, and emit one change event per touched row.
type Reconciler struct {
	positions  PositionStore
	configs    RiskConfigStore
	pub        Publisher
	sideColumn bool
	log        *zap.Logger
}

func NewReconciler(positions PositionStore, configs RiskConfigStore, pub Publisher, sideColumn bool, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		positions:  positions,
		configs:    configs,
		pub:        pub,
		sideColumn: sideColumn,
		log:        log,
	}
}

type groupKey struct {
	symbol string
	side   string
}

// positionGroup is one consolidated exposure built from raw rows.
type positionGroup struct {
	netAmt      float64
	entryPrice  float64  // first positive seen, 0 = unknown
	markPrice   *float64 // latest non-null
	unrealized  float64
	leverage    float64  // latest non-zero
	liquidation *float64 // latest positive
}

// aggregate groups raw rows by (symbol, side). Signed amounts are summed so
// multiple fills composing one net exposure collapse into a single group.
func aggregate(rows []exchange.PositionRow) map[groupKey]*positionGroup {
	groups := make(map[groupKey]*positionGroup)
	for _, row := range rows {
		side := strings.ToUpper(row.PositionSide)
		if side == "" {
			side = model.SideNet
		}
		key := groupKey{symbol: row.Symbol, side: side}
		group, ok := groups[key]
		if !ok {
			group = &positionGroup{leverage: 1}
			groups[key] = group
		}

		group.netAmt += parseFloat(row.PositionAmt)
		if entry := parseFloat(row.EntryPrice); group.entryPrice == 0 && entry > 0 {
			group.entryPrice = entry
		}
		if row.MarkPrice != "" {
			mark := parseFloat(row.MarkPrice)
			group.markPrice = &mark
		}
		group.unrealized += parseFloat(row.UnRealizedProfit)
		if lev := parseFloat(row.Leverage); lev != 0 {
			group.leverage = lev
		}
		if liq := parseFloat(row.LiquidationPrice); liq > 0 {
			group.liquidation = &liq
		}
	}
	return groups
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Reconcile runs one pass for one account. A failure on one group is logged
// and never blocks the remaining groups or the close-stale step.
func (r *Reconciler) Reconcile(ctx context.Context, account *model.Account, rows []exchange.PositionRow) error {
	prior, err := r.positions.ActiveByAccount(ctx, account.ID)
	if err != nil {
		return err
	}

	groups := aggregate(rows)

	for key, group := range groups {
		if err := r.upsertGroup(ctx, account.ID, key, group); err != nil {
			r.log.Error("position upsert failed",
				zap.Uint("account", account.ID),
				zap.String("symbol", key.symbol),
				zap.String("side", key.side),
				zap.Error(err))
		}
	}

	r.closeStale(ctx, account.ID, prior, groups)
	return nil
}

func (r *Reconciler) lookup(ctx context.Context, accountID uint, key groupKey) (*model.Position, error) {
	if r.sideColumn {
		return r.positions.Find(ctx, accountID, key.symbol, key.side)
	}
	// one-cycle degradation on older schemas without the side column
	r.log.Warn("position_side column absent, falling back to symbol-only lookup",
		zap.Uint("account", accountID), zap.String("symbol", key.symbol))
	return r.positions.FindBySymbol(ctx, accountID, key.symbol)
}

func (r *Reconciler) upsertGroup(ctx context.Context, accountID uint, key groupKey, group *positionGroup) error {
	size := math.Abs(group.netAmt)
	isActive := size > sizeEpsilon

	existing, err := r.lookup(ctx, accountID, key)
	if err != nil {
		return err
	}

	if existing == nil {
		if !isActive {
			// no local row and no live exposure, nothing to reconcile
			return nil
		}
		pos := &model.Position{
			AccountID:        accountID,
			Symbol:           key.symbol,
			PositionSide:     key.side,
			Size:             size,
			EntryPrice:       group.entryPrice,
			UnrealizedPnl:    group.unrealized,
			Leverage:         group.leverage,
			RiskLevel:        model.RiskLow,
			LiquidationPrice: group.liquidation,
			IsActive:         true,
		}
		if group.markPrice != nil {
			pos.CurrentPrice = *group.markPrice
		}
		if err := r.positions.Create(ctx, pos); err != nil {
			return err
		}
		r.log.Info("position created",
			zap.Uint("account", accountID),
			zap.String("symbol", key.symbol),
			zap.String("side", key.side),
			zap.Float64("size", size))
		r.pub.Publish(NewPositionEvent(pos))
		return nil
	}

	unrealized := group.unrealized
	if !isActive {
		// a flat row carries neither size nor pnl
		size = 0
		unrealized = 0
	}
	delta := model.PositionDelta{
		Size:          &size,
		UnrealizedPnl: &unrealized,
		Leverage:      &group.leverage,
		IsActive:      &isActive,
	}
	if group.entryPrice > 0 {
		delta.EntryPrice = &group.entryPrice
	}
	if group.markPrice != nil {
		delta.CurrentPrice = group.markPrice
	}

	cfg, err := r.configs.Active(ctx, accountID)
	if err != nil {
		return err
	}
	if cfg != nil {
		candidate := *existing
		delta.Apply(&candidate)
		level := CalculateRiskLevel(&candidate, cfg)
		delta.RiskLevel = &level
	}

	updated, err := r.positions.Update(ctx, existing.ID, delta)
	if err != nil {
		return err
	}
	r.log.Info("position updated",
		zap.Uint("account", accountID),
		zap.String("symbol", key.symbol),
		zap.String("side", key.side),
		zap.Float64("size", size))
	r.pub.Publish(NewPositionEvent(updated))
	return nil
}

// closeStale deactivates rows that were active before this pass but whose
// key the exchange no longer reports: size and unrealized PnL go to zero,
// with exactly one change event for the transition.
func (r *Reconciler) closeStale(ctx context.Context, accountID uint, prior []model.Position, groups map[groupKey]*positionGroup) {
	for _, pos := range prior {
		key := groupKey{symbol: pos.Symbol, side: pos.PositionSide}
		if _, seen := groups[key]; seen {
			continue
		}
		if !r.sideColumn {
			// degraded lookup matched on symbol only; mirror that here
			found := false
			for k := range groups {
				if k.symbol == pos.Symbol {
					found = true
					break
				}
			}
			if found {
				continue
			}
		}

		zero := 0.0
		inactive := false
		delta := model.PositionDelta{Size: &zero, UnrealizedPnl: &zero, IsActive: &inactive}
		updated, err := r.positions.Update(ctx, pos.ID, delta)
		if err != nil {
			r.log.Error("position close failed",
				zap.Uint("account", accountID),
				zap.String("symbol", pos.Symbol),
				zap.String("side", pos.PositionSide),
				zap.Error(err))
			continue
		}
		r.log.Info("position closed externally",
			zap.Uint("account", accountID),
			zap.String("symbol", pos.Symbol),
			zap.String("side", pos.PositionSide))
		r.pub.Publish(NewPositionEvent(updated))
	}
}
