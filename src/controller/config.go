package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ReconcileBatchSize int `envconfig:"RECONCILE_BATCH_SIZE" default:"500"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
