package ledger

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	TradingFeeRate decimal.Decimal `envconfig:"TRADING_FEE_RATE" default:"0.001"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
