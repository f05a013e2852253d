package connectors

// Test index:
//  1. TestIsRetryableResp verifies retry decisions for various response codes and errors.
//  2. TestSignQuery validates the HMAC digest for a fixed query and secret.
//  3. TestGetSymbolRulesCachesExchangeInfo checks filter parsing and that exchangeInfo is fetched once.
//  4. TestPlaceOrderMarketSignedRequest ensures the signed POST carries the expected params and signature.
//  5. TestPlaceOrderLimitSendsPriceAndTimeInForce covers LIMIT specific params.
//  6. TestPlaceOrderRejected surfaces exchange rejections as non-retryable APIError values.
//  7. TestGetOrderNotFound maps -2013 to ErrOrderNotFound.
//  8. TestGetOrderDerivesFillWithoutBreakdown checks the fill derived from cummulativeQuoteQty.
//  9. TestGetTickerUsesSymbolAssets verifies the goex currency pair and price conversion.
// 10. TestServerErrorsAreRetried confirms 5xx responses are retried before succeeding.
// 11. TestPlaceOrderUnknownStatusIsNotResent checks a -1007 POST is looked up by client id, never re-posted.
// 12. TestPlaceOrderDuplicateReturnsExistingOrder resolves a duplicate rejection to the held order.
// 13. TestPlaceOrderUnknownStatusNotFound keeps the retryable error when the lookup finds nothing.
// 14. TestPlaceOrderLookupFailureIsUnconfirmed reports an unresolved placement as retryable.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nntaoli-project/goex"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeengine/src/model"
)

const btcExchangeInfo = `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT",
"filters":[{"filterType":"LOT_SIZE","minQty":"0.00001000","maxQty":"9000.00000000","stepSize":"0.00001000"},
{"filterType":"NOTIONAL","minNotional":"10.00000000"}]}]}`

func newTestClient(baseURL string, httpClient *http.Client) *BinanceConnector {
	restyClient := resty.New()
	restyClient.SetBaseURL(baseURL)
	restyClient.SetTransport(httpClient.Transport)

	orderClient := resty.New()
	orderClient.SetBaseURL(baseURL)
	orderClient.SetTransport(httpClient.Transport)

	return &BinanceConnector{
		apiKey:     "test-key",
		apiSecret:  "test-secret",
		baseURL:    baseURL,
		recvWindow: 5000,
		http:       restyClient,
		orderHTTP:  orderClient,
		now:        func() time.Time { return time.UnixMilli(1700000000000) },
		rules:      map[string]model.SymbolRules{},
	}
}

type assertError struct{}

func (assertError) Error() string { return "err" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}

// verifySignature checks the trailing signature against the rest of the raw query.
func verifySignature(t *testing.T, r *http.Request) {
	t.Helper()
	raw := r.URL.RawQuery
	idx := strings.LastIndex(raw, "&signature=")
	require.Greater(t, idx, 0, "signature must be the last parameter: %s", raw)
	require.Equal(t, signQuery(raw[:idx], "test-secret"), raw[idx+len("&signature="):])
	require.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
}

type fakeTicker struct {
	pair goex.CurrencyPair
	last float64
	err  error
}

func (f *fakeTicker) GetTicker(pair goex.CurrencyPair) (*goex.Ticker, error) {
	f.pair = pair
	if f.err != nil {
		return nil, f.err
	}
	return &goex.Ticker{Pair: pair, Last: f.last}, nil
}

// TestIsRetryableResp verifies retry decisions for assorted errors and HTTP responses.
func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: assertError{}, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "server error", resp: fakeResponse(500), want: true},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "timeout", resp: fakeResponse(408), want: true},
		{name: "bad request", resp: fakeResponse(400), want: false},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "nil resp", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isRetryableResp(tc.resp, tc.err)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// TestSignQuery ensures HMAC signing matches the expected digest for a fixed payload and secret.
func TestSignQuery(t *testing.T) {
	query := "symbol=BTCUSDT&side=BUY&type=MARKET&quantity=1&timestamp=1499827319559"
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(query))
	want := hex.EncodeToString(mac.Sum(nil))

	require.Equal(t, want, signQuery(query, "secret"))
}

func TestGetSymbolRulesCachesExchangeInfo(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(btcExchangeInfo))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())

	for i := 0; i < 3; i++ {
		rules, err := client.GetSymbolRules(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		require.True(t, rules.StepSize.Equal(decimal.RequireFromString("0.00001")))
		require.True(t, rules.MinNotional.Equal(decimal.NewFromInt(10)))
		require.Equal(t, "BTC", rules.BaseAsset)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestPlaceOrderMarketSignedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/order", r.URL.Path)
		verifySignature(t, r)

		q := r.URL.Query()
		require.Equal(t, "BTCUSDT", q.Get("symbol"))
		require.Equal(t, "BUY", q.Get("side"))
		require.Equal(t, "MARKET", q.Get("type"))
		require.Equal(t, "0.015", q.Get("quantity"))
		require.Equal(t, "FULL", q.Get("newOrderRespType"))
		require.Equal(t, "key-1", q.Get("newClientOrderId"))
		require.Equal(t, "1700000000000", q.Get("timestamp"))
		require.Equal(t, "5000", q.Get("recvWindow"))
		require.Empty(t, q.Get("price"))

		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":12,"clientOrderId":"key-1","executedQty":"0.01500000",
"cummulativeQuoteQty":"750.00000000","status":"FILLED","type":"MARKET","side":"BUY",
"fills":[{"price":"50000.00","qty":"0.01500000","commission":"0","commissionAsset":"BTC","tradeId":1}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	result, err := client.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          model.SideBuy,
		Type:          model.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("0.015"),
		ClientOrderID: "key-1",
	})
	require.NoError(t, err)
	require.Equal(t, "12", result.OrderID)
	require.True(t, result.IsFilled())
	require.True(t, result.AvgPrice().Equal(decimal.NewFromInt(50000)))
}

func TestPlaceOrderLimitSendsPriceAndTimeInForce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r)
		q := r.URL.Query()
		require.Equal(t, "LIMIT", q.Get("type"))
		require.Equal(t, "45000", q.Get("price"))
		require.Equal(t, "GTC", q.Get("timeInForce"))

		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":13,"price":"45000.00","executedQty":"0.00000000",
"cummulativeQuoteQty":"0.00000000","status":"NEW","type":"LIMIT","side":"BUY","fills":[]}`))
	}))
	defer srv.Close()

	price := decimal.NewFromInt(45000)
	client := newTestClient(srv.URL, srv.Client())
	result, err := client.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideBuy,
		Type:     model.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.01"),
		Price:    &price,
	})
	require.NoError(t, err)
	require.Equal(t, model.ExchangeStatusNew, result.Status)
	require.Empty(t, result.Fills)
}

func TestPlaceOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	_, err := client.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "BTCUSDT", Side: model.SideBuy, Type: model.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, -2010, apiErr.Code)
	require.Equal(t, "NEW_ORDER_REJECTED", GetErrorMsg(apiErr.Code))
	require.False(t, IsRetryableError(err))
}

func TestGetOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "99", r.URL.Query().Get("orderId"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	_, err := client.GetOrder(context.Background(), "BTCUSDT", "99")
	require.True(t, errors.Is(err, ErrOrderNotFound))
}

func TestGetOrderDerivesFillWithoutBreakdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r)
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":13,"price":"45000.00","origQty":"0.02000000",
"executedQty":"0.02000000","cummulativeQuoteQty":"900.00000000","status":"FILLED","type":"LIMIT","side":"BUY"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	result, err := client.GetOrder(context.Background(), "BTCUSDT", "13")
	require.NoError(t, err)
	require.True(t, result.IsFilled())
	require.Len(t, result.Fills, 1)
	require.True(t, result.Fills[0].Price.Equal(decimal.NewFromInt(45000)))
}

func TestGetTickerUsesSymbolAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(btcExchangeInfo))
	}))
	defer srv.Close()

	ticker := &fakeTicker{last: 50123.45}
	client := newTestClient(srv.URL, srv.Client())
	client.ticker = ticker

	price, err := client.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("50123.45")))
	require.Equal(t, "BTC", ticker.pair.CurrencyA.Symbol)
	require.Equal(t, "USDT", ticker.pair.CurrencyB.Symbol)

	ticker.err = fmt.Errorf("connection reset")
	_, err = client.GetTicker(context.Background(), "BTCUSDT")
	require.Error(t, err)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(btcExchangeInfo))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	client.http.
		SetRetryCount(3).
		SetRetryWaitTime(time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Millisecond).
		AddRetryCondition(isRetryableResp)

	_, err := client.GetSymbolRules(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

// orderBook fakes POST and GET /api/v3/order. post answers the n-th POST,
// lookup answers GETs by origClientOrderId.
type orderBook struct {
	posts   int32
	lookups int32
	post    func(n int32, w http.ResponseWriter)
	lookup  func(w http.ResponseWriter, clientOrderID string)
}

func (b *orderBook) serve(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/order", r.URL.Path)
		verifySignature(t, r)
		switch r.Method {
		case http.MethodPost:
			b.post(atomic.AddInt32(&b.posts, 1), w)
		case http.MethodGet:
			atomic.AddInt32(&b.lookups, 1)
			require.Empty(t, r.URL.Query().Get("orderId"))
			b.lookup(w, r.URL.Query().Get("origClientOrderId"))
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
}

func writeBinanceError(w http.ResponseWriter, status, code int, msg string) {
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"code":%d,"msg":%q}`, code, msg)
}

func marketRequest(clientOrderID string) model.OrderRequest {
	return model.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          model.SideBuy,
		Type:          model.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("0.02"),
		ClientOrderID: clientOrderID,
	}
}

func TestPlaceOrderUnknownStatusIsNotResent(t *testing.T) {
	book := &orderBook{
		post: func(n int32, w http.ResponseWriter) {
			if n == 1 {
				// accepted by the matching engine, but the gateway timed out
				writeBinanceError(w, http.StatusServiceUnavailable, -1007, "Timeout waiting for response from backend server. Send status unknown; execution status unknown.")
				return
			}
			writeBinanceError(w, http.StatusBadRequest, -2010, "Duplicate order sent.")
		},
		lookup: func(w http.ResponseWriter, clientOrderID string) {
			require.Equal(t, "key-7", clientOrderID)
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":21,"clientOrderId":"key-7","origQty":"0.02000000",
"executedQty":"0.02000000","cummulativeQuoteQty":"1000.00000000","status":"FILLED","type":"MARKET","side":"BUY"}`))
		},
	}
	srv := book.serve(t)
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	client.http.
		SetRetryCount(3).
		SetRetryWaitTime(time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Millisecond).
		AddRetryCondition(isRetryableResp)

	result, err := client.PlaceOrder(context.Background(), marketRequest("key-7"))
	require.NoError(t, err)
	require.Equal(t, "21", result.OrderID)
	require.True(t, result.IsFilled())
	require.True(t, result.AvgPrice().Equal(decimal.NewFromInt(50000)))
	require.EqualValues(t, 1, atomic.LoadInt32(&book.posts))
	require.EqualValues(t, 1, atomic.LoadInt32(&book.lookups))
}

func TestPlaceOrderDuplicateReturnsExistingOrder(t *testing.T) {
	book := &orderBook{
		post: func(_ int32, w http.ResponseWriter) {
			writeBinanceError(w, http.StatusBadRequest, -2010, "Duplicate order sent.")
		},
		lookup: func(w http.ResponseWriter, clientOrderID string) {
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":22,"clientOrderId":"` + clientOrderID + `","price":"45000.00",
"origQty":"0.02000000","executedQty":"0.00000000","cummulativeQuoteQty":"0.00000000","status":"NEW","type":"LIMIT","side":"BUY"}`))
		},
	}
	srv := book.serve(t)
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	result, err := client.PlaceOrder(context.Background(), marketRequest("key-8"))
	require.NoError(t, err)
	require.Equal(t, "22", result.OrderID)
	require.Equal(t, model.ExchangeStatusNew, result.Status)
	require.Empty(t, result.Fills)
}

func TestPlaceOrderUnknownStatusNotFound(t *testing.T) {
	book := &orderBook{
		post: func(_ int32, w http.ResponseWriter) {
			writeBinanceError(w, http.StatusServiceUnavailable, -1007, "execution status unknown")
		},
		lookup: func(w http.ResponseWriter, _ string) {
			writeBinanceError(w, http.StatusBadRequest, -2013, "Order does not exist.")
		},
	}
	srv := book.serve(t)
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	_, err := client.PlaceOrder(context.Background(), marketRequest("key-9"))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, -1007, apiErr.Code)
	require.True(t, IsRetryableError(err))
	require.EqualValues(t, 1, atomic.LoadInt32(&book.posts))
}

func TestPlaceOrderLookupFailureIsUnconfirmed(t *testing.T) {
	book := &orderBook{
		post: func(_ int32, w http.ResponseWriter) {
			writeBinanceError(w, http.StatusBadRequest, -2010, "Duplicate order sent.")
		},
		lookup: func(w http.ResponseWriter, _ string) {
			writeBinanceError(w, http.StatusBadRequest, -1022, "Signature for this request is not valid.")
		},
	}
	srv := book.serve(t)
	defer srv.Close()

	client := newTestClient(srv.URL, srv.Client())
	_, err := client.PlaceOrder(context.Background(), marketRequest("key-10"))
	require.ErrorIs(t, err, ErrPlacementUnconfirmed)
	require.True(t, IsRetryableError(err))
}

func TestPlacementUncertain(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transport", err: assertError{}, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "status unknown", err: &APIError{HTTPStatus: 503, Code: -1007}, want: true},
		{name: "gateway", err: &APIError{HTTPStatus: 502}, want: true},
		{name: "duplicate", err: &APIError{HTTPStatus: 400, Code: -2010, Msg: "Duplicate order sent."}, want: true},
		{name: "insufficient balance", err: &APIError{HTTPStatus: 400, Code: -2010, Msg: "Account has insufficient balance for requested action."}, want: false},
		{name: "filter", err: &APIError{HTTPStatus: 400, Code: -1013}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, placementUncertain(tc.err))
		})
	}
}
