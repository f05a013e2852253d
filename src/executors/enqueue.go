package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/controller"
	"tradeengine/src/model"
)

var intentNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tradeengine.trade-intent"))

type taskEnqueuer interface {
	Enqueue(ctx context.Context, task *model.TradeTask) (*model.TradeTask, bool, error)
}

// Enqueue validates intent and queues it as a trade task. Without an
// idempotency key one is derived from the intent and requestID, so a client
// retrying the same request lands on the same task. created is false when the
// key was already queued.
func Enqueue(ctx context.Context, tasks taskEnqueuer, intent model.TradeIntent, requestID string, maxAttempts int) (task *model.TradeTask, created bool, err error) {
	if err := controller.NormalizeIntent(&intent); err != nil {
		return nil, false, err
	}
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = DeriveIdempotencyKey(intent, requestID)
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, false, fmt.Errorf("encode intent: %w", err)
	}

	task, created, err = tasks.Enqueue(ctx, &model.TradeTask{
		IdempotencyKey: intent.IdempotencyKey,
		AccountID:      intent.AccountID,
		Payload:        string(payload),
		Status:         model.TradeTaskStatusQueued,
		MaxAttempts:    maxAttempts,
		NextRunAt:      time.Now().UTC(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueue trade task: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"task_id":         task.ID,
		"idempotency_key": task.IdempotencyKey,
		"created":         created,
	}).Info("Trade intent queued")

	return task, created, nil
}

// DeriveIdempotencyKey is a uuid v5 over the canonical intent and requestID.
func DeriveIdempotencyKey(intent model.TradeIntent, requestID string) string {
	price := ""
	if intent.Price != nil {
		price = intent.Price.String()
	}
	canonical := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s",
		intent.AccountID,
		intent.Symbol,
		intent.Side,
		intent.OrderType,
		intent.Quantity.String(),
		price,
		requestID,
	)
	return uuid.NewSHA1(intentNamespace, []byte(canonical)).String()
}

func decodeIntent(task *model.TradeTask) (model.TradeIntent, error) {
	var intent model.TradeIntent
	if err := json.Unmarshal([]byte(task.Payload), &intent); err != nil {
		return intent, fmt.Errorf("decode task %d payload: %w", task.ID, err)
	}
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = task.IdempotencyKey
	}
	return intent, nil
}
