package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"riskguard/biz/model"
	"riskguard/conf"
)

// ErrUnauthorized marks invalid or missing credentials. The account's whole
// cycle is skipped for this pass instead of retrying per endpoint.
var ErrUnauthorized = errors.New("exchange: unauthorized")

// Client is a signed REST client for Binance USDⓈ-M futures. All fetchers
// return an error on any non-2xx response or network failure; callers treat
// that as absent data for the cycle, never as corruption of local state.
type Client struct {
	apiKey     string
	apiSecret  string
	base       string
	recvWindow int64
	httpc      *http.Client

	// now is overridable in tests and used when the time endpoint fails.
	now func() time.Time
}

func NewClient(apiKey, apiSecret string, cfg conf.Exchange) *Client {
	return &Client{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		base:       cfg.FuturesBase,
		recvWindow: cfg.RecvWindowMs,
		httpc:      &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		now:        time.Now,
	}
}

// NewClientForAccount builds a client from the account's stored credentials.
// Returns nil when the account has no credentials or belongs to an
// unsupported exchange.
func NewClientForAccount(account *model.Account, cfg conf.Exchange) *Client {
	if account.APIKey == "" || account.APISecret == "" {
		return nil
	}
	switch strings.ToLower(account.Exchange) {
	case "binance", "binance-futures", "fapi", "futures":
		return NewClient(account.APIKey, account.APISecret, cfg)
	}
	return nil
}

func (c *Client) sign(params string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(params))
	return hex.EncodeToString(mac.Sum(nil))
}

// ServerTime fetches the exchange clock, falling back to the local clock in
// milliseconds when the endpoint is unreachable.
func (c *Client) ServerTime(ctx context.Context) int64 {
	local := c.now().UnixMilli()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/fapi/v1/time", nil)
	if err != nil {
		return local
	}
	res, err := c.httpc.Do(req)
	if err != nil {
		return local
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return local
	}
	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil || payload.ServerTime == 0 {
		return local
	}
	return payload.ServerTime
}

// signedGet issues a signed request for path with extra query params appended
// after the timestamp and receive window.
func (c *Client) signedGet(ctx context.Context, path, extra string) ([]byte, error) {
	qs := fmt.Sprintf("timestamp=%d&recvWindow=%d", c.ServerTime(ctx), c.recvWindow)
	if extra != "" {
		qs += "&" + extra
	}
	url := fmt.Sprintf("%s%s?%s&signature=%s", c.base, path, qs, c.sign(qs))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	res, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: %s request failed: %w", path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: %s read failed: %w", path, err)
	}
	switch {
	case res.StatusCode == http.StatusOK:
		return body, nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUnauthorized, res.StatusCode, body)
	default:
		return nil, fmt.Errorf("exchange: %s status=%d body=%s", path, res.StatusCode, body)
	}
}

// PositionRow mirrors one entry of /fapi/v2/positionRisk. Numeric fields come
// back as strings from the exchange.
type PositionRow struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	LiquidationPrice string `json:"liquidationPrice"`
}

func (c *Client) FetchPositions(ctx context.Context) ([]PositionRow, error) {
	body, err := c.signedGet(ctx, "/fapi/v2/positionRisk", "")
	if err != nil {
		return nil, err
	}
	var rows []PositionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("exchange: positionRisk decode failed: %w", err)
	}
	return rows, nil
}

// AccountInfo carries the balance fields of /fapi/v2/account consumed by the
// snapshot recorder.
type AccountInfo struct {
	TotalMarginBalance    string `json:"totalMarginBalance"`
	TotalWalletBalance    string `json:"totalWalletBalance"`
	AvailableBalance      string `json:"availableBalance"`
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
}

func (c *Client) FetchAccountInfo(ctx context.Context) (*AccountInfo, error) {
	body, err := c.signedGet(ctx, "/fapi/v2/account", "")
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("exchange: account decode failed: %w", err)
	}
	return &info, nil
}

// IncomeRecord mirrors one entry of /fapi/v1/income.
type IncomeRecord struct {
	Symbol     string `json:"symbol"`
	IncomeType string `json:"incomeType"`
	Income     string `json:"income"`
	Asset      string `json:"asset"`
	Time       int64  `json:"time"`
	TranID     int64  `json:"tranId"`
}

func (c *Client) FetchIncomeHistory(ctx context.Context, limit int) ([]IncomeRecord, error) {
	body, err := c.signedGet(ctx, "/fapi/v1/income", fmt.Sprintf("limit=%d", limit))
	if err != nil {
		return nil, err
	}
	var rows []IncomeRecord
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("exchange: income decode failed: %w", err)
	}
	return rows, nil
}

// TradeRecord mirrors one fill of /fapi/v1/userTrades.
type TradeRecord struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	RealizedPnl     string `json:"realizedPnl"`
	Time            int64  `json:"time"`
}

func (c *Client) FetchUserTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	extra := fmt.Sprintf("limit=%d", limit)
	if symbol != "" {
		extra += "&symbol=" + strings.ToUpper(symbol)
	}
	body, err := c.signedGet(ctx, "/fapi/v1/userTrades", extra)
	if err != nil {
		return nil, err
	}
	var rows []TradeRecord
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("exchange: userTrades decode failed: %w", err)
	}
	return rows, nil
}
