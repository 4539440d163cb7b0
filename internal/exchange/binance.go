package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dcaengine/pkg/ratelimit"
)

const (
	binanceSpotBaseURL    = "https://api.binance.com"
	binanceFuturesBaseURL = "https://fapi.binance.com"
)

// Binance implements Exchange against Binance spot + USDT-M futures REST.
type Binance struct {
	apiKey    string
	apiSecret string

	spotBaseURL    string
	futuresBaseURL string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
}

// NewBinance constructs a Binance adapter. maxRequestsPerSecond <= 0 uses the
// spec's default of 8.
func NewBinance(apiKey, apiSecret string, maxRequestsPerSecond float64) *Binance {
	if maxRequestsPerSecond <= 0 {
		maxRequestsPerSecond = 8
	}
	return &Binance{
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		spotBaseURL:    binanceSpotBaseURL,
		futuresBaseURL: binanceFuturesBaseURL,
		httpClient:     GetGlobalHTTPClient().GetClient(),
		limiter:        ratelimit.NewRateLimiter(maxRequestsPerSecond, maxRequestsPerSecond),
	}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// request issues a single admission-gated, optionally-signed REST call.
// "No need to change" responses from the margin/leverage endpoints are
// treated as success, matching the source's _futures_request behavior.
func (b *Binance) request(ctx context.Context, baseURL, method, path string, params url.Values, signed bool) (json.RawMessage, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("signature", b.sign(params.Encode()))
	}

	reqURL := baseURL + path
	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		if q := params.Encode(); q != "" {
			reqURL += "?" + q
		}
		req, err = http.NewRequestWithContext(ctx, method, reqURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		if strings.Contains(string(body), "No need to change") {
			return body, nil
		}
		return nil, &ExchangeError{Exchange: "binance", Code: strconv.Itoa(resp.StatusCode), Message: string(body)}
	}
	return body, nil
}

func (b *Binance) spotRequest(ctx context.Context, method, path string, params url.Values, signed bool) (json.RawMessage, error) {
	return b.request(ctx, b.spotBaseURL, method, path, params, signed)
}

func (b *Binance) futuresRequest(ctx context.Context, method, path string, params url.Values, signed bool) (json.RawMessage, error) {
	return b.request(ctx, b.futuresBaseURL, method, path, params, signed)
}

func (b *Binance) CheckConnection(ctx context.Context) (bool, error) {
	body, err := b.spotRequest(ctx, http.MethodGet, "/api/v3/ping", nil, false)
	if err != nil {
		return false, err
	}
	return string(body) == "{}", nil
}

func (b *Binance) GetBalance(ctx context.Context, asset string) (float64, error) {
	body, err := b.spotRequest(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return 0, err
	}
	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return 0, err
	}
	for _, row := range account.Balances {
		if row.Asset == asset {
			return strconv.ParseFloat(row.Free, 64)
		}
	}
	return 0, nil
}

func (b *Binance) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	body, err := b.spotRequest(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}
	var result struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(result.Price, 64)
}

func (b *Binance) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	body, err := b.futuresRequest(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false)
	if err != nil {
		return 0, err
	}
	var result struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(result.MarkPrice, 64)
}

func (b *Binance) PlaceOrder(ctx context.Context, market Market, symbol, side, orderType string, qty, price float64, reduceOnly bool) (*OrderResult, error) {
	decimals := 6
	if market == MarketFutures {
		decimals = 4
	}
	params := url.Values{
		"symbol":   {strings.ToUpper(symbol)},
		"side":     {strings.ToUpper(side)},
		"type":     {strings.ToUpper(orderType)},
		"quantity": {strconv.FormatFloat(qty, 'f', decimals, 64)},
	}
	if orderType == OrderTypeLimit {
		if price <= 0 {
			return nil, fmt.Errorf("exchange: LIMIT order requires price")
		}
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(price, 'f', decimals, 64))
	}
	if market == MarketFutures {
		params.Set("reduceOnly", strconv.FormatBool(reduceOnly))
	}

	path, base := "/api/v3/order", b.spotRequest
	if market == MarketFutures {
		path, base = "/fapi/v1/order", b.futuresRequest
	}
	body, err := base(ctx, http.MethodPost, path, params, true)
	if err != nil {
		return nil, err
	}
	var result struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: strconv.FormatInt(result.OrderID, 10)}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, market Market, symbol, orderID string) error {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}, "orderId": {orderID}}
	path, base := "/api/v3/order", b.spotRequest
	if market == MarketFutures {
		path, base = "/fapi/v1/order", b.futuresRequest
	}
	_, err := base(ctx, http.MethodDelete, path, params, true)
	return err
}

func (b *Binance) CancelOpenOrders(ctx context.Context, market Market, symbol string) error {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	path, base := "/api/v3/openOrders", b.spotRequest
	if market == MarketFutures {
		path, base = "/fapi/v1/allOpenOrders", b.futuresRequest
	}
	_, err := base(ctx, http.MethodDelete, path, params, true)
	return err
}

func (b *Binance) GetOrderStatus(ctx context.Context, market Market, symbol, orderID string) (*OrderStatusResult, error) {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}, "orderId": {orderID}}
	path, base := "/api/v3/order", b.spotRequest
	if market == MarketFutures {
		path, base = "/fapi/v1/order", b.futuresRequest
	}
	body, err := base(ctx, http.MethodGet, path, params, true)
	if err != nil {
		return nil, err
	}
	var result struct {
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		AvgPrice            string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	executed, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(result.CummulativeQuoteQty, 64)
	avg, _ := strconv.ParseFloat(result.AvgPrice, 64)
	return &OrderStatusResult{
		Status:              result.Status,
		ExecutedQty:         executed,
		CummulativeQuoteQty: quote,
		AvgPrice:            avg,
	}, nil
}

func (b *Binance) GetPosition(ctx context.Context, market Market, symbol string) (*PositionInfo, error) {
	if market != MarketFutures {
		return &PositionInfo{}, nil
	}
	body, err := b.futuresRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if strings.EqualFold(row.Symbol, symbol) {
			amt, _ := strconv.ParseFloat(row.PositionAmt, 64)
			entry, _ := strconv.ParseFloat(row.EntryPrice, 64)
			return &PositionInfo{PositionAmt: amt, EntryPrice: entry}, nil
		}
	}
	return &PositionInfo{}, nil
}

func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}, "leverage": {strconv.Itoa(leverage)}}
	_, err := b.futuresRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, true)
	return err
}

func (b *Binance) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}, "marginType": {strings.ToUpper(marginType)}}
	_, err := b.futuresRequest(ctx, http.MethodPost, "/fapi/v1/marginType", params, true)
	return err
}

func (b *Binance) placeProtection(ctx context.Context, orderType, symbol, side string, qty, triggerPrice float64) (*OrderResult, error) {
	params := url.Values{
		"symbol":        {strings.ToUpper(symbol)},
		"side":          {strings.ToUpper(side)},
		"type":          {orderType},
		"stopPrice":     {strconv.FormatFloat(triggerPrice, 'f', 6, 64)},
		"closePosition": {"false"},
		"quantity":      {strconv.FormatFloat(qty, 'f', 4, 64)},
		"reduceOnly":    {"true"},
		"workingType":   {"MARK_PRICE"},
	}
	body, err := b.futuresRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var result struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: strconv.FormatInt(result.OrderID, 10)}, nil
}

func (b *Binance) PlaceTakeProfit(ctx context.Context, symbol, side string, qty, triggerPrice float64) (*OrderResult, error) {
	return b.placeProtection(ctx, "TAKE_PROFIT_MARKET", symbol, side, qty, triggerPrice)
}

func (b *Binance) PlaceStopLoss(ctx context.Context, symbol, side string, qty, triggerPrice float64) (*OrderResult, error) {
	return b.placeProtection(ctx, "STOP_MARKET", symbol, side, qty, triggerPrice)
}

func (b *Binance) FetchKlines(ctx context.Context, symbol, interval string, startTime time.Time, limit int) ([]Kline, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	params := url.Values{
		"symbol":    {strings.ToUpper(symbol)},
		"interval":  {interval},
		"startTime": {strconv.FormatInt(startTime.UnixMilli(), 10)},
		"limit":     {strconv.Itoa(limit)},
	}
	body, err := b.spotRequest(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		open, _ := strconv.ParseFloat(row[1].(string), 64)
		high, _ := strconv.ParseFloat(row[2].(string), 64)
		low, _ := strconv.ParseFloat(row[3].(string), 64)
		closeP, _ := strconv.ParseFloat(row[4].(string), 64)
		volume, _ := strconv.ParseFloat(row[5].(string), 64)
		klines = append(klines, Kline{
			OpenTime: int64(openTime),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   volume,
		})
	}
	return klines, nil
}
