package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"riskguard/biz/model"
)

// Event types pushed to subscribers.
const (
	EventPositionUpdate = "position_update"
	EventHeartbeat      = "heartbeat"
	EventServerShutdown = "server_shutdown"
)

// Event is the JSON envelope delivered to subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewPositionEvent builds the full position snapshot envelope.
func NewPositionEvent(pos *model.Position) Event {
	return Event{
		Type: EventPositionUpdate,
		Data: map[string]any{
			"id":             pos.ID,
			"account_id":     pos.AccountID,
			"symbol":         pos.Symbol,
			"side":           pos.PositionSide,
			"size":           pos.Size,
			"entry_price":    pos.EntryPrice,
			"current_price":  pos.CurrentPrice,
			"unrealized_pnl": pos.UnrealizedPnl,
			"risk_level":     pos.RiskLevel,
			"is_active":      pos.IsActive,
			"updated_at":     pos.UpdatedAt.Format(time.RFC3339),
		},
	}
}

// Subscriber is one live push channel.
type Subscriber interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// Sink receives a copy of published payloads (audit stream, dead letters).
type Sink interface {
	Write(ctx context.Context, payload []byte) error
}

// Broadcaster fans change events out to live subscribers and prunes dead
// ones. The lock covers only membership and snapshotting; delivery happens
// outside it.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]Subscriber

	pool       *ants.Pool
	audit      Sink
	deadLetter Sink
	log        *zap.Logger

	hbStop chan struct{}
	hbOnce sync.Once
}

type BroadcasterOption func(*Broadcaster)

// WithAuditSink mirrors every published envelope to the sink.
func WithAuditSink(sink Sink) BroadcasterOption {
	return func(b *Broadcaster) { b.audit = sink }
}

// WithDeadLetterSink receives payloads that could not be delivered to a
// subscriber before it was pruned.
func WithDeadLetterSink(sink Sink) BroadcasterOption {
	return func(b *Broadcaster) { b.deadLetter = sink }
}

func WithBroadcasterLogger(log *zap.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.log = log }
}

func NewBroadcaster(poolSize int, opts ...BroadcasterOption) (*Broadcaster, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	b := &Broadcaster{
		subs:   make(map[string]Subscriber),
		pool:   pool,
		log:    zap.NewNop(),
		hbStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Broadcaster) Subscribe(sub Subscriber) {
	b.mu.Lock()
	b.subs[sub.ID()] = sub
	b.mu.Unlock()
	b.log.Info("subscriber connected", zap.String("subscriber", sub.ID()))
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		_ = sub.Close()
		b.log.Info("subscriber disconnected", zap.String("subscriber", id))
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers the event to every current subscriber. A failed send
// removes that subscriber but never aborts delivery to the rest; Publish
// returns once all deliveries finished.
func (b *Broadcaster) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Error("event marshal failed", zap.String("type", event.Type), zap.Error(err))
		return
	}

	if b.audit != nil {
		if err := b.audit.Write(context.Background(), payload); err != nil {
			b.log.Warn("event audit write failed", zap.Error(err))
		}
	}

	b.mu.Lock()
	snapshot := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []Subscriber

	for _, sub := range snapshot {
		sub := sub
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := sub.Send(payload); err != nil {
				b.log.Warn("delivery failed, pruning subscriber",
					zap.String("subscriber", sub.ID()), zap.Error(err))
				failedMu.Lock()
				failed = append(failed, sub)
				failedMu.Unlock()
			}
		}
		if err := b.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	for _, sub := range failed {
		b.Unsubscribe(sub.ID())
		if b.deadLetter != nil {
			if err := b.deadLetter.Write(context.Background(), payload); err != nil {
				b.log.Warn("dead letter write failed", zap.Error(err))
			}
		}
	}
}

// StartHeartbeat emits a periodic no-op event so intermediaries do not
// recycle idle connections.
func (b *Broadcaster) StartHeartbeat(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Publish(Event{Type: EventHeartbeat, Data: map[string]any{}})
			case <-b.hbStop:
				return
			}
		}
	}()
}

// Shutdown notifies subscribers once, then closes every connection.
func (b *Broadcaster) Shutdown() {
	b.hbOnce.Do(func() { close(b.hbStop) })
	b.Publish(Event{Type: EventServerShutdown, Data: map[string]any{}})

	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	b.pool.Release()
}
