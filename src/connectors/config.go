package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	ModeBinance = "binance"
	ModeOffline = "offline"
)

type Config struct {
	ExchangeMode string `envconfig:"EXCHANGE_MODE" default:"offline"`

	BinanceAPIKey     string `envconfig:"BINANCE_API_KEY"`
	BinanceAPISecret  string `envconfig:"BINANCE_API_SECRET"`
	BinanceBaseURL    string `envconfig:"BINANCE_BASE_URL" default:"https://testnet.binance.vision"`
	BinanceRecvWindow int64  `envconfig:"BINANCE_RECV_WINDOW" default:"5000"`

	OfflineStepSize    string            `envconfig:"OFFLINE_STEP_SIZE" default:"0.00001"`
	OfflineMinNotional string            `envconfig:"OFFLINE_MIN_NOTIONAL" default:"10"`
	OfflinePrices      map[string]string `envconfig:"OFFLINE_PRICES" default:"BTCUSDT:50000,ETHUSDT:3000"`

	// Requests per second, zero disables client side limiting.
	ExchangeRateLimit float64 `envconfig:"EXCHANGE_RATE_LIMIT" default:"0"`
	ExchangeRateBurst int     `envconfig:"EXCHANGE_RATE_BURST" default:"5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
