// REST CLIENT FOR BINANCE SPOT (TESTNET BY DEFAULT)
// RESTY FOR SIGNED ENDPOINTS + GOEX FOR MARKET DATA
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/externalmodel"
	"tradeengine/src/mapper"
	"tradeengine/src/model"
)

// -----------------------------
// CONFIG
// -----------------------------
const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
	defaultRequestTimeout  = 15 * time.Second

	defaultBinanceBaseURL = "https://testnet.binance.vision"
)

// tickerSource is the part of the goex Binance client we use.
type tickerSource interface {
	GetTicker(currency goex.CurrencyPair) (*goex.Ticker, error)
}

// -----------------------------
// A) AUTHENTICATED CLIENT
// -----------------------------
type BinanceConnector struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	http       *resty.Client
	orderHTTP  *resty.Client // order placement, never retried
	now        func() time.Time

	tickerOnce sync.Once
	ticker     tickerSource

	mu    sync.RWMutex
	rules map[string]model.SymbolRules
}

var _ ExchangeAdapter = (*BinanceConnector)(nil)

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewBinanceConnector(apiKey, apiSecret, baseURL string, recvWindow int64) *BinanceConnector {
	retryCount := defaultRetryAttempts - 1

	if baseURL == "" {
		baseURL = defaultBinanceBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultRequestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	// A resent POST /api/v3/order may duplicate an order the exchange already
	// accepted. Uncertain placements are resolved by a lookup instead.
	orderClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultRequestTimeout)

	return &BinanceConnector{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		recvWindow: recvWindow,
		http:       httpClient,
		orderHTTP:  orderClient,
		now:        time.Now,
		rules:      map[string]model.SymbolRules{},
	}
}

func (c *BinanceConnector) Name() string { return ModeBinance }

// signQuery returns the hex HMAC-SHA256 of the exact query string sent.
func signQuery(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceConnector) doSigned(ctx context.Context, client *resty.Client, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}
	query := params.Encode()
	query += "&signature=" + signQuery(query, c.apiSecret)

	// The signed string must reach the server byte for byte, so the query is
	// attached to the path instead of going through resty's param encoding.
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		Execute(method, path+"?"+query)
	if err != nil {
		return nil, err
	}
	return checkResponse(resp)
}

func (c *BinanceConnector) doPublic(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, err
	}
	return checkResponse(resp)
}

func checkResponse(resp *resty.Response) ([]byte, error) {
	raw := resp.Body()
	if resp.StatusCode() == http.StatusOK {
		return raw, nil
	}

	apiErr := &APIError{HTTPStatus: resp.StatusCode(), Msg: string(raw)}
	var body externalmodel.BinanceError
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != 0 {
		apiErr.Code = body.Code
		apiErr.Msg = body.Msg
	}
	return nil, apiErr
}

// -----------------------------
// B) MARKET METADATA
// -----------------------------

// GetSymbolRules reads LOT_SIZE and notional filters, cached per symbol.
func (c *BinanceConnector) GetSymbolRules(ctx context.Context, symbol string) (model.SymbolRules, error) {
	c.mu.RLock()
	cached, ok := c.rules[symbol]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := c.doPublic(ctx, "/api/v3/exchangeInfo", map[string]string{"symbol": symbol})
	if err != nil {
		return model.SymbolRules{}, fmt.Errorf("exchangeInfo %s: %w", symbol, err)
	}

	var info externalmodel.BinanceExchangeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return model.SymbolRules{}, fmt.Errorf("decode exchangeInfo %s: %w", symbol, err)
	}

	rules, err := mapper.MapBinanceSymbolRules(&info, symbol)
	if err != nil {
		return model.SymbolRules{}, err
	}

	c.mu.Lock()
	c.rules[symbol] = rules
	c.mu.Unlock()

	return rules, nil
}

func (c *BinanceConnector) tickers() tickerSource {
	c.tickerOnce.Do(func() {
		if c.ticker != nil {
			return
		}
		c.ticker = binance.NewWithConfig(&goex.APIConfig{
			HttpClient: &http.Client{Timeout: defaultRequestTimeout},
			Endpoint:   c.baseURL,
		})
	})
	return c.ticker
}

// GetTicker returns the last traded price.
func (c *BinanceConnector) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rules, err := c.GetSymbolRules(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	pair := goex.NewCurrencyPair(goex.Currency{Symbol: rules.BaseAsset}, goex.Currency{Symbol: rules.QuoteAsset})
	ticker, err := c.tickers().GetTicker(pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	if ticker == nil || ticker.Last <= 0 {
		return decimal.Zero, fmt.Errorf("invalid price for %s", symbol)
	}

	return decimal.NewFromFloat(ticker.Last), nil
}

// -----------------------------
// C) TRADING METHODS
// -----------------------------

// PlaceOrder submits a MARKET or LIMIT order and asks for the FULL response
// so immediate fills come back with the placement.
func (c *BinanceConnector) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.FillResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "FULL")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if req.Type == model.OrderTypeLimit {
		if req.Price == nil {
			return nil, errors.New("limit order without price")
		}
		params.Set("price", req.Price.String())
		tif := req.TimeInForce
		if tif == "" {
			tif = model.TimeInForceGTC
		}
		params.Set("timeInForce", tif)
	}

	logger.WithFields(map[string]interface{}{
		"exchange":        ModeBinance,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"type":            req.Type,
		"quantity":        req.Quantity.String(),
		"client_order_id": req.ClientOrderID,
	}).Info("Placing order")

	raw, err := c.doSigned(ctx, c.orderHTTP, http.MethodPost, "/api/v3/order", params)
	if err == nil {
		return decodeOrder(raw)
	}
	if req.ClientOrderID == "" || !placementUncertain(err) {
		return nil, err
	}

	log := logger.WithFields(map[string]interface{}{
		"exchange":        ModeBinance,
		"symbol":          req.Symbol,
		"client_order_id": req.ClientOrderID,
	})
	log.WithError(err).Warn("Order placement outcome unknown, looking it up")

	found, lookupErr := c.FindOrderByClientID(ctx, req.Symbol, req.ClientOrderID)
	switch {
	case lookupErr == nil:
		log.WithFields(map[string]interface{}{
			"order_id": found.OrderID,
			"status":   found.Status,
		}).Info("Order found on exchange")
		return found, nil
	case errors.Is(lookupErr, ErrOrderNotFound):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %s: %v (lookup: %v)", ErrPlacementUnconfirmed, req.ClientOrderID, err, lookupErr)
	}
}

// placementUncertain reports whether a failed POST may still have created
// the order: the request timed out or broke in flight, the exchange answered
// with an unknown execution status, or it already holds the client order id.
func placementUncertain(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch {
	case apiErr.Code == -1007, apiErr.HTTPStatus >= 500:
		return true
	case apiErr.Code == -2010 && strings.Contains(strings.ToLower(apiErr.Msg), "duplicate order"):
		return true
	}
	return false
}

// GetOrder queries one order by exchange id.
func (c *BinanceConnector) GetOrder(ctx context.Context, symbol, orderID string) (*model.FillResult, error) {
	return c.queryOrder(ctx, symbol, "orderId", orderID)
}

// FindOrderByClientID queries one order by the client order id it was placed with.
func (c *BinanceConnector) FindOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*model.FillResult, error) {
	return c.queryOrder(ctx, symbol, "origClientOrderId", clientOrderID)
}

func (c *BinanceConnector) queryOrder(ctx context.Context, symbol, idParam, id string) (*model.FillResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set(idParam, id)

	raw, err := c.doSigned(ctx, c.http, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2013 {
			return nil, fmt.Errorf("%w: %s %s=%s", ErrOrderNotFound, symbol, idParam, id)
		}
		return nil, err
	}

	return decodeOrder(raw)
}

func decodeOrder(raw []byte) (*model.FillResult, error) {
	var resp externalmodel.BinanceOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return mapper.MapBinanceOrder(&resp)
}
