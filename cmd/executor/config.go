package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Run only the settlement reconciler, no task workers.
	SettlementOnly bool `envconfig:"SETTLEMENT_ONLY" default:"false"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
