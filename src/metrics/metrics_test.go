package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveExchangeCallLabelsResult(t *testing.T) {
	before := testutil.CollectAndCount(ExchangeRequestDurations)

	ObserveExchangeCall("offline", "GetTicker", time.Now(), nil)
	ObserveExchangeCall("offline", "GetTicker", time.Now(), errors.New("boom"))

	require.Equal(t, before+2, testutil.CollectAndCount(ExchangeRequestDurations))
}

func TestTasksProcessedCounter(t *testing.T) {
	before := testutil.ToFloat64(TasksProcessed.WithLabelValues("done"))
	TasksProcessed.WithLabelValues("done").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(TasksProcessed.WithLabelValues("done")))
}
