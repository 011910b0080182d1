package service

import (
	"context"
	"math"
	"testing"

	"riskguard/biz/exchange"
	"riskguard/biz/model"
)

func testAccount() *model.Account {
	return &model.Account{ID: 1, Exchange: "binance", IsActive: true}
}

func TestReconcileCreatesNewPosition(t *testing.T) {
	positions := newMemPositions()
	pub := &capturePublisher{}
	rec := NewReconciler(positions, &memConfigs{}, pub, true, nil)

	rows := []exchange.PositionRow{{
		Symbol:           "BTCUSDT",
		PositionSide:     "LONG",
		PositionAmt:      "0.5",
		EntryPrice:       "40000",
		MarkPrice:        "41000",
		UnRealizedProfit: "500",
		Leverage:         "10",
	}}

	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	pos := positions.bySymbolSide("BTCUSDT", "LONG")
	if pos == nil {
		t.Fatal("position not created")
	}
	if pos.Size != 0.5 || pos.EntryPrice != 40000 || pos.CurrentPrice != 41000 {
		t.Fatalf("created position = %+v", pos)
	}
	if pos.RiskLevel != model.RiskLow {
		t.Fatalf("new position risk = %s, want low", pos.RiskLevel)
	}
	if !pos.IsActive {
		t.Fatal("created position inactive")
	}
	if pub.count() != 1 {
		t.Fatalf("events = %d, want 1", pub.count())
	}
}

func TestReconcileAggregatesBySymbolAndSide(t *testing.T) {
	positions := newMemPositions()
	rec := NewReconciler(positions, &memConfigs{}, &capturePublisher{}, true, nil)

	// two raw rows composing one net short exposure
	rows := []exchange.PositionRow{
		{Symbol: "ETHUSDT", PositionSide: "SHORT", PositionAmt: "-2", EntryPrice: "3000", UnRealizedProfit: "10"},
		{Symbol: "ETHUSDT", PositionSide: "SHORT", PositionAmt: "-3", UnRealizedProfit: "-4"},
	}

	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if positions.count() != 1 {
		t.Fatalf("rows = %d, want 1 consolidated row", positions.count())
	}
	pos := positions.bySymbolSide("ETHUSDT", "SHORT")
	if math.Abs(pos.Size-5) > 1e-9 {
		t.Fatalf("size = %v, want 5", pos.Size)
	}
	if math.Abs(pos.UnrealizedPnl-6) > 1e-9 {
		t.Fatalf("pnl = %v, want 6", pos.UnrealizedPnl)
	}
	if pos.EntryPrice != 3000 {
		t.Fatalf("entry = %v, want first positive 3000", pos.EntryPrice)
	}
}

func TestReconcileEmptySideDefaultsToNet(t *testing.T) {
	positions := newMemPositions()
	rec := NewReconciler(positions, &memConfigs{}, &capturePublisher{}, true, nil)

	rows := []exchange.PositionRow{{Symbol: "BTCUSDT", PositionAmt: "1", EntryPrice: "100"}}
	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if positions.bySymbolSide("BTCUSDT", model.SideNet) == nil {
		t.Fatal("missing side not defaulted to NET")
	}
}

func TestReconcileUpdatesAndReclassifies(t *testing.T) {
	positions := newMemPositions()
	pub := &capturePublisher{}
	configs := &memConfigs{cfg: &model.RiskConfig{MaxPositionValue: 100000, RiskRatioThreshold: 0.1}}
	rec := NewReconciler(positions, configs, pub, true, nil)

	seed := &model.Position{
		AccountID: 1, Symbol: "BTCUSDT", PositionSide: "LONG",
		Size: 1, EntryPrice: 100, CurrentPrice: 100,
		RiskLevel: model.RiskLow, IsActive: true,
	}
	if err := positions.Create(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	// mark price dropped to the loss threshold
	rows := []exchange.PositionRow{{
		Symbol: "BTCUSDT", PositionSide: "LONG",
		PositionAmt: "1", EntryPrice: "100", MarkPrice: "90", UnRealizedProfit: "-10",
	}}
	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	pos := positions.get(seed.ID)
	if pos.CurrentPrice != 90 {
		t.Fatalf("current = %v, want 90", pos.CurrentPrice)
	}
	if pos.RiskLevel != model.RiskCritical {
		t.Fatalf("risk = %s, want critical", pos.RiskLevel)
	}
	if pub.count() != 1 {
		t.Fatalf("events = %d, want 1", pub.count())
	}
}

func TestReconcileClosesStalePosition(t *testing.T) {
	positions := newMemPositions()
	pub := &capturePublisher{}
	rec := NewReconciler(positions, &memConfigs{}, pub, true, nil)

	seed := &model.Position{
		AccountID: 1, Symbol: "ETHUSDT", PositionSide: "LONG",
		Size: 2, EntryPrice: 3000, UnrealizedPnl: 42, IsActive: true,
	}
	if err := positions.Create(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	// exchange no longer reports the key
	if err := rec.Reconcile(context.Background(), testAccount(), nil); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	pos := positions.get(seed.ID)
	if pos.IsActive {
		t.Fatal("stale position still active")
	}
	if pos.Size != 0 || pos.UnrealizedPnl != 0 {
		t.Fatalf("closed position size=%v pnl=%v, want zeros", pos.Size, pos.UnrealizedPnl)
	}
	if pub.count() != 1 {
		t.Fatalf("close events = %d, want exactly 1", pub.count())
	}

	// second pass with the same absence is a no-op
	if err := rec.Reconcile(context.Background(), testAccount(), nil); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("events after idempotent pass = %d, want 1", pub.count())
	}
}

func TestReconcileNetZeroGroupZeroesRow(t *testing.T) {
	positions := newMemPositions()
	pub := &capturePublisher{}
	rec := NewReconciler(positions, &memConfigs{}, pub, true, nil)

	seed := &model.Position{
		AccountID: 1, Symbol: "BTCUSDT", PositionSide: "LONG",
		Size: 2, EntryPrice: 100, UnrealizedPnl: 7, IsActive: true,
	}
	if err := positions.Create(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	// fills cancel out; the summed pnl must not survive on the flat row
	rows := []exchange.PositionRow{
		{Symbol: "BTCUSDT", PositionSide: "LONG", PositionAmt: "2", EntryPrice: "100", UnRealizedProfit: "7"},
		{Symbol: "BTCUSDT", PositionSide: "LONG", PositionAmt: "-2", UnRealizedProfit: "-3"},
	}
	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	pos := positions.get(seed.ID)
	if pos.IsActive {
		t.Fatal("flat position still active")
	}
	if pos.Size != 0 || pos.UnrealizedPnl != 0 {
		t.Fatalf("flat position size=%v pnl=%v, want zeros", pos.Size, pos.UnrealizedPnl)
	}
	if pub.count() != 1 {
		t.Fatalf("events = %d, want 1", pub.count())
	}
}

func TestReconcileIdempotent(t *testing.T) {
	positions := newMemPositions()
	configs := &memConfigs{cfg: &model.RiskConfig{MaxPositionValue: 100000, RiskRatioThreshold: 0.1}}
	rec := NewReconciler(positions, configs, &capturePublisher{}, true, nil)

	rows := []exchange.PositionRow{
		{Symbol: "BTCUSDT", PositionSide: "LONG", PositionAmt: "0.5", EntryPrice: "40000", MarkPrice: "41000", UnRealizedProfit: "500"},
		{Symbol: "ETHUSDT", PositionSide: "SHORT", PositionAmt: "-3", EntryPrice: "3000", MarkPrice: "2900", UnRealizedProfit: "300"},
	}

	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := map[string]model.Position{
		"BTCUSDT": *positions.bySymbolSide("BTCUSDT", "LONG"),
		"ETHUSDT": *positions.bySymbolSide("ETHUSDT", "SHORT"),
	}

	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if positions.count() != 2 {
		t.Fatalf("rows = %d, want 2 (second pass must not duplicate)", positions.count())
	}
	for symbol, before := range first {
		after := positions.get(before.ID)
		if after.Size != before.Size {
			t.Fatalf("%s size changed: %v -> %v", symbol, before.Size, after.Size)
		}
		if after.RiskLevel != before.RiskLevel {
			t.Fatalf("%s risk changed: %s -> %s", symbol, before.RiskLevel, after.RiskLevel)
		}
		if !after.IsActive {
			t.Fatalf("%s deactivated by identical data", symbol)
		}
	}
}

func TestReconcileNearZeroAmountIsInactive(t *testing.T) {
	positions := newMemPositions()
	pub := &capturePublisher{}
	rec := NewReconciler(positions, &memConfigs{}, pub, true, nil)

	// dust below the epsilon with no local row: nothing to reconcile
	rows := []exchange.PositionRow{{Symbol: "BTCUSDT", PositionSide: "LONG", PositionAmt: "0.0000000000001"}}
	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if positions.count() != 0 {
		t.Fatalf("rows = %d, want 0", positions.count())
	}
	if pub.count() != 0 {
		t.Fatalf("events = %d, want 0", pub.count())
	}
}

func TestReconcileGroupFaultIsolation(t *testing.T) {
	positions := newMemPositions()
	positions.failSymbol = "BADUSDT"
	pub := &capturePublisher{}
	rec := NewReconciler(positions, &memConfigs{}, pub, true, nil)

	rows := []exchange.PositionRow{
		{Symbol: "BADUSDT", PositionSide: "LONG", PositionAmt: "1", EntryPrice: "10"},
		{Symbol: "BTCUSDT", PositionSide: "LONG", PositionAmt: "1", EntryPrice: "40000"},
	}
	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("Reconcile must not fail the pass: %v", err)
	}

	if positions.bySymbolSide("BTCUSDT", "LONG") == nil {
		t.Fatal("healthy group blocked by failing group")
	}
	if positions.bySymbolSide("BADUSDT", "LONG") != nil {
		t.Fatal("failing group unexpectedly persisted")
	}
}

func TestReconcileSymbolOnlyFallback(t *testing.T) {
	positions := newMemPositions()
	pub := &capturePublisher{}
	rec := NewReconciler(positions, &memConfigs{}, pub, false, nil)

	seed := &model.Position{
		AccountID: 1, Symbol: "BTCUSDT", PositionSide: "LONG",
		Size: 1, EntryPrice: 100, IsActive: true,
	}
	if err := positions.Create(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	// same symbol arrives under a different side; degraded lookup must merge
	// into the existing row instead of closing it
	rows := []exchange.PositionRow{{
		Symbol: "BTCUSDT", PositionSide: "SHORT", PositionAmt: "-2", EntryPrice: "110",
	}}
	if err := rec.Reconcile(context.Background(), testAccount(), rows); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if positions.count() != 1 {
		t.Fatalf("rows = %d, want merged single row", positions.count())
	}
	pos := positions.get(seed.ID)
	if !pos.IsActive {
		t.Fatal("row closed despite symbol still reported")
	}
	if pos.Size != 2 {
		t.Fatalf("size = %v, want 2", pos.Size)
	}
}

func TestAggregateGroupFields(t *testing.T) {
	rows := []exchange.PositionRow{
		{Symbol: "BTCUSDT", PositionSide: "LONG", PositionAmt: "1", EntryPrice: "0", Leverage: "0"},
		{Symbol: "BTCUSDT", PositionSide: "LONG", PositionAmt: "2", EntryPrice: "40000", MarkPrice: "40100", Leverage: "5", LiquidationPrice: "30000"},
		{Symbol: "BTCUSDT", PositionSide: "LONG", PositionAmt: "not-a-number", EntryPrice: "50000"},
	}

	groups := aggregate(rows)
	group := groups[groupKey{symbol: "BTCUSDT", side: "LONG"}]
	if group == nil {
		t.Fatal("group missing")
	}
	if group.netAmt != 3 {
		t.Fatalf("netAmt = %v, want 3 (malformed amount treated as 0)", group.netAmt)
	}
	if group.entryPrice != 40000 {
		t.Fatalf("entry = %v, want first positive 40000", group.entryPrice)
	}
	if group.markPrice == nil || *group.markPrice != 40100 {
		t.Fatalf("mark = %v, want 40100", group.markPrice)
	}
	if group.leverage != 5 {
		t.Fatalf("leverage = %v, want 5 (zero ignored)", group.leverage)
	}
	if group.liquidation == nil || *group.liquidation != 30000 {
		t.Fatalf("liquidation = %v, want 30000", group.liquidation)
	}
}
