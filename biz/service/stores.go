package service

import (
	"context"

	"riskguard/biz/exchange"
	"riskguard/biz/model"
)

// Store interfaces consumed by the sync core. The pg repositories satisfy
// them; tests substitute in-memory fakes.

type PositionStore interface {
	ActiveByAccount(ctx context.Context, accountID uint) ([]model.Position, error)
	AllActive(ctx context.Context) ([]model.Position, error)
	Find(ctx context.Context, accountID uint, symbol, side string) (*model.Position, error)
	FindBySymbol(ctx context.Context, accountID uint, symbol string) (*model.Position, error)
	Create(ctx context.Context, pos *model.Position) error
	Update(ctx context.Context, id uint, delta model.PositionDelta) (*model.Position, error)
}

type RiskConfigStore interface {
	Active(ctx context.Context, accountID uint) (*model.RiskConfig, error)
}

type AccountStore interface {
	Active(ctx context.Context) ([]model.Account, error)
	Get(ctx context.Context, id uint) (*model.Account, error)
	UpdateBalances(ctx context.Context, id uint, equity, balance, todayPnl float64) error
}

type HistoryStore interface {
	FindByTransactionID(ctx context.Context, txID string) (*model.TransactionHistory, error)
	Insert(ctx context.Context, row *model.TransactionHistory) error
	UpdateAggregate(ctx context.Context, id uint, row *model.TransactionHistory) error
	DeleteGranularFills(ctx context.Context, accountID uint) error
}

type SnapshotStore interface {
	Latest(ctx context.Context, accountID uint) (*model.AccountSnapshot, error)
	Insert(ctx context.Context, snap *model.AccountSnapshot) error
}

type TickerStore interface {
	Insert(ctx context.Context, sample *model.TickerHistory) error
}

// Publisher is the change-event fan-out; *Broadcaster implements it.
type Publisher interface {
	Publish(event Event)
}

// ExchangeAPI is the signed exchange surface one account cycle consumes.
// *exchange.Client implements it.
type ExchangeAPI interface {
	FetchPositions(ctx context.Context) ([]exchange.PositionRow, error)
	FetchAccountInfo(ctx context.Context) (*exchange.AccountInfo, error)
	FetchIncomeHistory(ctx context.Context, limit int) ([]exchange.IncomeRecord, error)
	FetchUserTrades(ctx context.Context, symbol string, limit int) ([]exchange.TradeRecord, error)
}

// PriceSource yields a reference price per instrument; *pricefeed.Feed
// implements it.
type PriceSource interface {
	FetchPrice(ctx context.Context, symbol string) (price float64, source string, err error)
}
