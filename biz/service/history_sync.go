package service

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"riskguard/biz/model"
)

// orderIDPrefix keeps aggregated order rows from colliding with income
// tranIds in the shared unique index.
const orderIDPrefix = "order-"

// HistorySyncer ingests income events and trades into the append-only
// ledger. Re-running with overlapping source data converges: the exchange
// transaction id is the sole idempotency key and per-order aggregates are
// rewritten in place as more fills land.
type HistorySyncer struct {
	store HistoryStore
	limit int
	log   *zap.Logger
}

func NewHistorySyncer(store HistoryStore, limit int, log *zap.Logger) *HistorySyncer {
	if limit <= 0 {
		limit = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HistorySyncer{store: store, limit: limit, log: log}
}

// Sync runs one ingestion pass for the account. Fetch failures are absent
// data: the affected source is skipped, the other still runs.
func (s *HistorySyncer) Sync(ctx context.Context, accountID uint, client ExchangeAPI) {
	s.syncIncome(ctx, accountID, client)
	s.syncTrades(ctx, accountID, client)
}

func (s *HistorySyncer) syncIncome(ctx context.Context, accountID uint, client ExchangeAPI) {
	records, err := client.FetchIncomeHistory(ctx, s.limit)
	if err != nil {
		s.log.Warn("income fetch failed, skipping source this cycle",
			zap.Uint("account", accountID), zap.Error(err))
		return
	}

	inserted := 0
	for _, item := range records {
		if item.TranID == 0 {
			continue
		}
		txID := strconv.FormatInt(item.TranID, 10)
		existing, err := s.store.FindByTransactionID(ctx, txID)
		if err != nil {
			s.log.Error("income lookup failed", zap.String("tx", txID), zap.Error(err))
			continue
		}
		if existing != nil {
			// duplicate external id, not an error
			continue
		}
		row := &model.TransactionHistory{
			AccountID:       accountID,
			TransactionID:   txID,
			Symbol:          item.Symbol,
			Type:            item.IncomeType,
			CommissionAsset: item.Asset,
			RealizedPnl:     parseFloat(item.Income),
			Time:            time.UnixMilli(item.Time),
		}
		if err := s.store.Insert(ctx, row); err != nil {
			s.log.Error("income insert failed", zap.String("tx", txID), zap.Error(err))
			continue
		}
		inserted++
	}
	if inserted > 0 {
		s.log.Info("income ingested", zap.Uint("account", accountID), zap.Int("rows", inserted))
	}
}

type orderAggregate struct {
	symbol     string
	side       string
	qty        float64
	quoteQty   float64
	commission float64
	asset      string
	pnl        float64
	priceQty   float64 // Σ price*qty for the weighted average
	lastTime   int64
}

func (s *HistorySyncer) syncTrades(ctx context.Context, accountID uint, client ExchangeAPI) {
	trades, err := client.FetchUserTrades(ctx, "", s.limit)
	if err != nil {
		s.log.Warn("trade fetch failed, skipping source this cycle",
			zap.Uint("account", accountID), zap.Error(err))
		return
	}
	if len(trades) == 0 {
		return
	}

	// drop legacy per-fill rows so the ledger keeps one row per order
	if err := s.store.DeleteGranularFills(ctx, accountID); err != nil {
		s.log.Error("granular fill cleanup failed", zap.Uint("account", accountID), zap.Error(err))
	}

	aggregates := make(map[int64]*orderAggregate)
	order := make([]int64, 0, len(trades))
	for _, fill := range trades {
		agg, ok := aggregates[fill.OrderID]
		if !ok {
			agg = &orderAggregate{symbol: fill.Symbol, side: fill.Side}
			aggregates[fill.OrderID] = agg
			order = append(order, fill.OrderID)
		}
		qty := parseFloat(fill.Qty)
		agg.qty += qty
		agg.quoteQty += parseFloat(fill.QuoteQty)
		agg.commission += parseFloat(fill.Commission)
		agg.pnl += parseFloat(fill.RealizedPnl)
		agg.priceQty += parseFloat(fill.Price) * qty
		if fill.CommissionAsset != "" {
			agg.asset = fill.CommissionAsset
		}
		if fill.Time > agg.lastTime {
			agg.lastTime = fill.Time
		}
	}

	for _, orderID := range order {
		agg := aggregates[orderID]
		if err := s.upsertOrder(ctx, accountID, orderID, agg); err != nil {
			s.log.Error("trade aggregate upsert failed",
				zap.Uint("account", accountID),
				zap.Int64("order", orderID),
				zap.Error(err))
		}
	}
}

func (s *HistorySyncer) upsertOrder(ctx context.Context, accountID uint, orderID int64, agg *orderAggregate) error {
	avgPrice := 0.0
	if agg.qty > 0 {
		avgPrice = agg.priceQty / agg.qty
	}
	row := &model.TransactionHistory{
		AccountID:       accountID,
		TransactionID:   orderIDPrefix + strconv.FormatInt(orderID, 10),
		Symbol:          agg.symbol,
		Type:            model.TypeTrade,
		Side:            agg.side,
		Price:           avgPrice,
		Qty:             agg.qty,
		QuoteQty:        agg.quoteQty,
		Commission:      agg.commission,
		CommissionAsset: agg.asset,
		RealizedPnl:     agg.pnl,
		Time:            time.UnixMilli(agg.lastTime),
	}

	existing, err := s.store.FindByTransactionID(ctx, row.TransactionID)
	if err != nil {
		return err
	}
	if existing != nil {
		// aggregates may grow as more fills land; rewrite in place
		return s.store.UpdateAggregate(ctx, existing.ID, row)
	}
	return s.store.Insert(ctx, row)
}
