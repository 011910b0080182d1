package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"riskguard/biz/exchange"
	"riskguard/biz/model"
)

// In-memory stores standing in for the pg repositories.

type memPositions struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*model.Position

	failSymbol string // Create/Update against this symbol fails
}

func newMemPositions() *memPositions {
	return &memPositions{rows: make(map[uint]*model.Position)}
}

var errInjected = errors.New("injected store failure")

func (s *memPositions) ActiveByAccount(_ context.Context, accountID uint) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, pos := range s.rows {
		if pos.AccountID == accountID && pos.IsActive {
			out = append(out, *pos)
		}
	}
	return out, nil
}

func (s *memPositions) AllActive(_ context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, pos := range s.rows {
		if pos.IsActive {
			out = append(out, *pos)
		}
	}
	return out, nil
}

func (s *memPositions) Find(_ context.Context, accountID uint, symbol, side string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range s.rows {
		if pos.AccountID == accountID && pos.Symbol == symbol && pos.PositionSide == side {
			clone := *pos
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memPositions) FindBySymbol(_ context.Context, accountID uint, symbol string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range s.rows {
		if pos.AccountID == accountID && pos.Symbol == symbol {
			clone := *pos
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memPositions) Create(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos.Symbol == s.failSymbol {
		return errInjected
	}
	s.nextID++
	pos.ID = s.nextID
	pos.CreatedAt = time.Now()
	pos.UpdatedAt = pos.CreatedAt
	clone := *pos
	s.rows[pos.ID] = &clone
	return nil
}

func (s *memPositions) Update(_ context.Context, id uint, delta model.PositionDelta) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.rows[id]
	if !ok {
		return nil, errors.New("position not found")
	}
	if pos.Symbol == s.failSymbol {
		return nil, errInjected
	}
	delta.Apply(pos)
	pos.UpdatedAt = time.Now()
	clone := *pos
	return &clone, nil
}

func (s *memPositions) get(id uint) model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memPositions) bySymbolSide(symbol, side string) *model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range s.rows {
		if pos.Symbol == symbol && pos.PositionSide == side {
			clone := *pos
			return &clone
		}
	}
	return nil
}

func (s *memPositions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memConfigs struct {
	cfg *model.RiskConfig
	err error
}

func (s *memConfigs) Active(context.Context, uint) (*model.RiskConfig, error) {
	return s.cfg, s.err
}

type memAccounts struct {
	mu       sync.Mutex
	accounts []model.Account
	balances map[uint][3]float64
}

func newMemAccounts(accounts ...model.Account) *memAccounts {
	return &memAccounts{accounts: accounts, balances: make(map[uint][3]float64)}
}

func (s *memAccounts) Active(context.Context) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Account
	for _, a := range s.accounts {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memAccounts) Get(_ context.Context, id uint) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			clone := a
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memAccounts) UpdateBalances(_ context.Context, id uint, equity, balance, todayPnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = [3]float64{equity, balance, todayPnl}
	return nil
}

type memHistory struct {
	mu      sync.Mutex
	nextID  uint
	rows    []*model.TransactionHistory
	deletes int
}

func (s *memHistory) FindByTransactionID(_ context.Context, txID string) (*model.TransactionHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.TransactionID == txID {
			clone := *row
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *memHistory) Insert(_ context.Context, row *model.TransactionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	row.ID = s.nextID
	clone := *row
	s.rows = append(s.rows, &clone)
	return nil
}

func (s *memHistory) UpdateAggregate(_ context.Context, id uint, row *model.TransactionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.ID == id {
			existing.Price = row.Price
			existing.Qty = row.Qty
			existing.QuoteQty = row.QuoteQty
			existing.Commission = row.Commission
			existing.RealizedPnl = row.RealizedPnl
			existing.Time = row.Time
			return nil
		}
	}
	return errors.New("row not found")
}

func (s *memHistory) DeleteGranularFills(_ context.Context, accountID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	kept := s.rows[:0]
	for _, row := range s.rows {
		if row.AccountID == accountID && row.Type == model.TypeTradeFill {
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return nil
}

func (s *memHistory) byTxID(txID string) *model.TransactionHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.TransactionID == txID {
			clone := *row
			return &clone
		}
	}
	return nil
}

func (s *memHistory) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memSnapshots struct {
	mu   sync.Mutex
	rows []model.AccountSnapshot
}

func (s *memSnapshots) Latest(_ context.Context, accountID uint) (*model.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.AccountSnapshot
	for i := range s.rows {
		row := &s.rows[i]
		if row.AccountID != accountID {
			continue
		}
		if latest == nil || row.CreatedAt.After(latest.CreatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (s *memSnapshots) Insert(_ context.Context, snap *model.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *snap)
	return nil
}

func (s *memSnapshots) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memTickers struct {
	mu      sync.Mutex
	samples []model.TickerHistory
}

func (s *memTickers) Insert(_ context.Context, sample *model.TickerHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, *sample)
	return nil
}

// capturePublisher records every published event.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// fakeExchange serves canned payloads; errors stand in for outages.
type fakeExchange struct {
	positions []exchange.PositionRow
	info      *exchange.AccountInfo
	income    []exchange.IncomeRecord
	trades    []exchange.TradeRecord

	positionsErr error
	infoErr      error
	incomeErr    error
	tradesErr    error

	mu            sync.Mutex
	positionCalls int
}

func (f *fakeExchange) FetchPositions(context.Context) ([]exchange.PositionRow, error) {
	f.mu.Lock()
	f.positionCalls++
	f.mu.Unlock()
	return f.positions, f.positionsErr
}

func (f *fakeExchange) FetchAccountInfo(context.Context) (*exchange.AccountInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeExchange) FetchIncomeHistory(context.Context, int) ([]exchange.IncomeRecord, error) {
	return f.income, f.incomeErr
}

func (f *fakeExchange) FetchUserTrades(context.Context, string, int) ([]exchange.TradeRecord, error) {
	return f.trades, f.tradesErr
}
