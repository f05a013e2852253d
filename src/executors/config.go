package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	PollInterval      time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1s"`
	TaskTimeout       time.Duration `envconfig:"TASK_TIMEOUT" default:"300s"`
	RetryDelay        time.Duration `envconfig:"TASK_RETRY_DELAY" default:"10s"`
	MaxAttempts       int           `envconfig:"TASK_MAX_ATTEMPTS" default:"3"`
	// A running task whose lock is older than this is handed to another worker.
	VisibilityTimeout time.Duration `envconfig:"TASK_VISIBILITY_TIMEOUT" default:"10m"`
	SettlementPeriod  time.Duration `envconfig:"SETTLEMENT_PERIOD" default:"5m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
