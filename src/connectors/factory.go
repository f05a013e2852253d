package connectors

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// NewExchangeAdapter builds the adapter selected by EXCHANGE_MODE, wrapped
// with the optional rate limiter and call metrics.
func NewExchangeAdapter(cfg Config) (ExchangeAdapter, error) {
	var adapter ExchangeAdapter

	switch strings.ToLower(strings.TrimSpace(cfg.ExchangeMode)) {
	case ModeBinance:
		if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
			return nil, fmt.Errorf("EXCHANGE_MODE=binance requires BINANCE_API_KEY and BINANCE_API_SECRET")
		}
		adapter = NewBinanceConnector(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceBaseURL, cfg.BinanceRecvWindow)
	case ModeOffline:
		offline, err := newOfflineFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		adapter = offline
	default:
		return nil, fmt.Errorf("unknown EXCHANGE_MODE %q", cfg.ExchangeMode)
	}

	if cfg.ExchangeRateLimit > 0 {
		adapter = NewRateLimited(adapter, cfg.ExchangeRateLimit, cfg.ExchangeRateBurst)
	}

	logger.WithFields(map[string]interface{}{
		"exchange":   adapter.Name(),
		"rate_limit": cfg.ExchangeRateLimit,
	}).Info("Exchange adapter ready")

	return NewInstrumented(adapter), nil
}

func newOfflineFromConfig(cfg Config) (*OfflineConnector, error) {
	step, err := decimal.NewFromString(cfg.OfflineStepSize)
	if err != nil {
		return nil, fmt.Errorf("OFFLINE_STEP_SIZE: %w", err)
	}
	minNotional, err := decimal.NewFromString(cfg.OfflineMinNotional)
	if err != nil {
		return nil, fmt.Errorf("OFFLINE_MIN_NOTIONAL: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(cfg.OfflinePrices))
	for symbol, raw := range cfg.OfflinePrices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("OFFLINE_PRICES %s: %w", symbol, err)
		}
		prices[symbol] = price
	}

	return NewOfflineConnector(step, minNotional, prices), nil
}
