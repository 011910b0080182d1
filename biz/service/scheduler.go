package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"riskguard/biz/exchange"
	"riskguard/biz/model"
)

// ErrSyncInFlight is returned when a manual trigger overlaps a reconcile
// pass already running for the same account.
var ErrSyncInFlight = errors.New("scheduler: reconcile already in flight for account")

// SchedulerConfig bundles the loop timings.
type SchedulerConfig struct {
	PositionInterval time.Duration
	PriceInterval    time.Duration
	HistoryEvery     int
	PoolSize         int
}

// Scheduler drives the reconciliation and price polling loops. Every fault
// is absorbed at the smallest granularity: one symbol group, one account,
// one subscriber. Nothing here terminates the loops.
type Scheduler struct {
	accounts   AccountStore
	positions  PositionStore
	configs    RiskConfigStore
	reconciler *Reconciler
	history    *HistorySyncer
	snapshots  *SnapshotRecorder
	prices     PriceSource
	tickers    TickerStore
	pub        Publisher
	clientFor  func(*model.Account) ExchangeAPI

	cfg  SchedulerConfig
	pool *ants.Pool
	log  *zap.Logger

	mu     sync.Mutex
	cycles map[uint]int
	locks  map[uint]*sync.Mutex

	wg       sync.WaitGroup // in-flight triggered work, drained on Stop
	stop     chan struct{}
	stopOnce sync.Once
}

func NewScheduler(
	accounts AccountStore,
	positions PositionStore,
	configs RiskConfigStore,
	reconciler *Reconciler,
	history *HistorySyncer,
	snapshots *SnapshotRecorder,
	prices PriceSource,
	tickers TickerStore,
	pub Publisher,
	clientFor func(*model.Account) ExchangeAPI,
	cfg SchedulerConfig,
	log *zap.Logger,
) (*Scheduler, error) {
	if cfg.HistoryEvery <= 0 {
		cfg.HistoryEvery = 10
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		accounts:   accounts,
		positions:  positions,
		configs:    configs,
		reconciler: reconciler,
		history:    history,
		snapshots:  snapshots,
		prices:     prices,
		tickers:    tickers,
		pub:        pub,
		clientFor:  clientFor,
		cfg:        cfg,
		pool:       pool,
		log:        log,
		cycles:     make(map[uint]int),
		locks:      make(map[uint]*sync.Mutex),
		stop:       make(chan struct{}),
	}, nil
}

// Start launches both polling loops.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx, "reconcile", s.cfg.PositionInterval, s.ReconcileAll)
	go s.loop(ctx, "price", s.cfg.PriceInterval, s.PriceAll)
	s.log.Info("scheduler started",
		zap.Duration("position_interval", s.cfg.PositionInterval),
		zap.Duration("price_interval", s.cfg.PriceInterval),
		zap.Int("history_every", s.cfg.HistoryEvery))
}

// Stop halts the loops and drains triggered work.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.pool.Release()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, pass func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safePass(ctx, name, pass)
		}
	}
}

// safePass keeps a panicking iteration from killing the loop.
func (s *Scheduler) safePass(ctx context.Context, name string, pass func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("pass panicked",
				zap.String("loop", name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	pass(ctx)
}

// accountLock returns the per-account mutual-exclusion token enforcing at
// most one reconcile pass in flight per account.
func (s *Scheduler) accountLock(accountID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	return lock
}

func (s *Scheduler) nextCycle(accountID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[accountID]++
	return s.cycles[accountID]
}

// ReconcileAll fans one reconcile cycle out per active account. Accounts run
// concurrently and independently; one account's failure never blocks the
// rest of the pass.
func (s *Scheduler) ReconcileAll(ctx context.Context) {
	accounts, err := s.accounts.Active(ctx)
	if err != nil {
		s.log.Error("account list failed", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for i := range accounts {
		account := accounts[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					s.log.Error("account cycle panicked",
						zap.Uint("account", account.ID), zap.Any("panic", rec))
				}
			}()
			if err := s.SyncAccount(ctx, &account); err != nil && !errors.Is(err, ErrSyncInFlight) {
				s.log.Warn("account cycle failed", zap.Uint("account", account.ID), zap.Error(err))
			}
		}
		if err := s.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

// SyncAccount runs one reconcile cycle for one account. The scheduled loop
// and manual triggers share this path so behavior is identical.
func (s *Scheduler) SyncAccount(ctx context.Context, account *model.Account) error {
	lock := s.accountLock(account.ID)
	if !lock.TryLock() {
		s.log.Info("skipping overlapping cycle", zap.Uint("account", account.ID))
		return ErrSyncInFlight
	}
	defer lock.Unlock()

	client := s.clientFor(account)
	if client == nil {
		s.log.Debug("account missing API credentials", zap.Uint("account", account.ID))
		return nil
	}

	rows, err := client.FetchPositions(ctx)
	if err != nil {
		if errors.Is(err, exchange.ErrUnauthorized) {
			// skip the whole account this pass, no retry storm
			s.log.Warn("credentials rejected, skipping account cycle",
				zap.Uint("account", account.ID), zap.Error(err))
			return nil
		}
		// absent data: skip this source, existing state stays untouched
		s.log.Warn("position fetch failed", zap.Uint("account", account.ID), zap.Error(err))
		return nil
	}

	if err := s.reconciler.Reconcile(ctx, account, rows); err != nil {
		s.log.Error("reconcile failed", zap.Uint("account", account.ID), zap.Error(err))
	}

	// coarser-period work nested inside the same account cycle
	if s.nextCycle(account.ID)%s.cfg.HistoryEvery == 0 {
		s.history.Sync(ctx, account.ID, client)

		info, err := client.FetchAccountInfo(ctx)
		if err != nil {
			s.log.Warn("account info fetch failed", zap.Uint("account", account.ID), zap.Error(err))
		} else if err := s.snapshots.Record(ctx, account.ID, info); err != nil {
			s.log.Error("snapshot failed", zap.Uint("account", account.ID), zap.Error(err))
		}
	}
	return nil
}

// TriggerAccount runs one synchronous pass for a single account.
func (s *Scheduler) TriggerAccount(ctx context.Context, accountID uint) error {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("scheduler: account %d not found", accountID)
	}
	return s.SyncAccount(ctx, account)
}

// TriggerAll runs one pass over all active accounts. With wait=false the
// pass runs in the background but stays registered so Stop can drain it.
func (s *Scheduler) TriggerAll(ctx context.Context, wait bool) {
	if wait {
		s.ReconcileAll(ctx)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.safePass(ctx, "trigger", s.ReconcileAll)
	}()
}

// PriceAll refreshes the mark price, unrealized PnL and risk level of every
// active position from the public price feed.
func (s *Scheduler) PriceAll(ctx context.Context) {
	positions, err := s.positions.AllActive(ctx)
	if err != nil {
		s.log.Error("active position list failed", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for i := range positions {
		pos := positions[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					s.log.Error("price update panicked",
						zap.Uint("position", pos.ID), zap.Any("panic", rec))
				}
			}()
			s.updatePrice(ctx, &pos)
		}
		if err := s.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

func (s *Scheduler) updatePrice(ctx context.Context, pos *model.Position) {
	price, source, err := s.prices.FetchPrice(ctx, pos.Symbol)
	if err != nil {
		s.log.Debug("no price for symbol", zap.String("symbol", pos.Symbol))
		return
	}

	// size is stored unsigned, so this estimate assumes long exposure; the
	// reconcile pass overwrites it with the exchange's signed value
	unrealized := (price - pos.EntryPrice) * pos.Size
	delta := model.PositionDelta{CurrentPrice: &price, UnrealizedPnl: &unrealized}

	cfg, err := s.configs.Active(ctx, pos.AccountID)
	if err != nil {
		s.log.Error("risk config lookup failed", zap.Uint("account", pos.AccountID), zap.Error(err))
	} else if cfg != nil {
		candidate := *pos
		delta.Apply(&candidate)
		level := CalculateRiskLevel(&candidate, cfg)
		delta.RiskLevel = &level
	}

	updated, err := s.positions.Update(ctx, pos.ID, delta)
	if err != nil {
		s.log.Error("price update failed", zap.Uint("position", pos.ID), zap.Error(err))
		return
	}
	s.pub.Publish(NewPositionEvent(updated))

	if s.tickers != nil {
		sample := &model.TickerHistory{
			Symbol:     updated.Symbol,
			Price:      price,
			Source:     source,
			PositionID: &updated.ID,
			AccountID:  &updated.AccountID,
			Timestamp:  time.Now(),
		}
		if err := s.tickers.Insert(ctx, sample); err != nil {
			s.log.Warn("ticker sample insert failed", zap.String("symbol", updated.Symbol), zap.Error(err))
		}
	}
}
