package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huandu/skiplist"

	"riskguard/conf"
)

// ErrUnavailable means neither pricing endpoint produced a price. Callers
// skip the symbol for this cycle.
var ErrUnavailable = errors.New("pricefeed: price unavailable")

// unknownSymbolCode is the exchange's explicit "unknown instrument" error.
const unknownSymbolCode = -1121

const (
	SourceSpot    = "spot"
	SourceFutures = "futures"
	SourceCache   = "cache"
)

// Cache is the shared last-price store. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, symbol string) (float64, bool)
	Set(ctx context.Context, symbol string, price float64)
}

// Sample is one observed reference price.
type Sample struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Feed polls a reference price per instrument with endpoint fallback: the
// spot ticker is primary, the futures ticker takes over when the spot
// endpoint fails or does not know the instrument.
type Feed struct {
	spotBase    string
	futuresBase string
	httpc       *http.Client
	cache       Cache

	mu        sync.Mutex
	window    *skiplist.SkipList // unix-nano timestamp -> Sample
	windowDur time.Duration
}

func New(cfg conf.Exchange, cache Cache) *Feed {
	return &Feed{
		spotBase:    cfg.SpotBase,
		futuresBase: cfg.FuturesBase,
		httpc:       &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		cache:       cache,
		window:      skiplist.New(skiplist.Int64),
		windowDur:   15 * time.Minute,
	}
}

// NormalizeSymbol strips separators and upper-cases, so BTC/USDT and
// btc-usdt both resolve to BTCUSDT.
func NormalizeSymbol(symbol string) string {
	s := strings.NewReplacer("/", "", "-", "", "_", "").Replace(symbol)
	return strings.ToUpper(strings.TrimSpace(s))
}

type tickerPayload struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

// FetchPrice returns the current reference price for the symbol, consulting
// the cache first. It never panics past its boundary; any failure surfaces
// as ErrUnavailable.
func (f *Feed) FetchPrice(ctx context.Context, symbol string) (float64, string, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return 0, "", ErrUnavailable
	}

	if f.cache != nil {
		if price, ok := f.cache.Get(ctx, sym); ok {
			return price, SourceCache, nil
		}
	}

	price, err := f.query(ctx, f.spotBase+"/api/v3/ticker/price?symbol="+sym)
	source := SourceSpot
	if err != nil {
		price, err = f.query(ctx, f.futuresBase+"/fapi/v1/ticker/price?symbol="+sym)
		source = SourceFutures
	}
	if err != nil {
		return 0, "", ErrUnavailable
	}

	if f.cache != nil {
		f.cache.Set(ctx, sym, price)
	}
	f.record(Sample{Symbol: sym, Price: price, Source: source, At: time.Now()})
	return price, source, nil
}

func (f *Feed) query(ctx context.Context, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	res, err := f.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var payload tickerPayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return 0, err
	}
	if payload.Code == unknownSymbolCode {
		return 0, fmt.Errorf("pricefeed: unknown symbol: %s", payload.Msg)
	}
	if res.StatusCode != http.StatusOK || payload.Price == "" {
		return 0, fmt.Errorf("pricefeed: status=%d", res.StatusCode)
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return 0, err
	}
	return price, nil
}

// record keeps a bounded time-ordered window of observed samples.
func (f *Feed) record(sample Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := sample.At.UnixNano()
	// keys must be unique in the list; nudge until free
	for f.window.Get(key) != nil {
		key++
	}
	f.window.Set(key, sample)

	cutoff := sample.At.Add(-f.windowDur).UnixNano()
	for {
		front := f.window.Front()
		if front == nil || front.Key().(int64) >= cutoff {
			break
		}
		f.window.Remove(front.Key())
	}
}

// Recent returns up to n samples, newest first.
func (f *Feed) Recent(n int) []Sample {
	f.mu.Lock()
	defer f.mu.Unlock()

	samples := make([]Sample, 0, n)
	for el := f.window.Back(); el != nil && len(samples) < n; el = el.Prev() {
		samples = append(samples, el.Value.(Sample))
	}
	return samples
}
