package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/src/auth"
	"tradeengine/src/controller"
	"tradeengine/src/executors"
	"tradeengine/src/model"
	"tradeengine/src/repository"

	logger "github.com/sirupsen/logrus"
)

type orderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
}

type orderFinder interface {
	FindByIDForAccount(ctx context.Context, accountID uint, id uint) (*model.Order, error)
}

type taskEnqueuer interface {
	Enqueue(ctx context.Context, task *model.TradeTask) (*model.TradeTask, bool, error)
}

// CreateOrderPayload is the body of POST /orders.
type CreateOrderPayload struct {
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	OrderType      string           `json:"order_type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

type createOrderResponse struct {
	Status         string `json:"status"`
	TaskID         uint   `json:"task_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CreateOrderHandler validates a trade intent and queues it for the worker
// pool. The Idempotency-Key header wins over the body field.
func CreateOrderHandler(tasks taskEnqueuer, maxAttempts int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload CreateOrderPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid order payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" {
			key = strings.TrimSpace(payload.IdempotencyKey)
		}

		// chi's RequestID keeps a client supplied X-Request-Id
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = uuid.NewString()
		}

		task, _, err := executors.Enqueue(r.Context(), tasks, model.TradeIntent{
			AccountID:      account.ID,
			Symbol:         payload.Symbol,
			Side:           payload.Side,
			OrderType:      payload.OrderType,
			Quantity:       payload.Quantity,
			Price:          payload.Price,
			IdempotencyKey: key,
		}, requestID, maxAttempts)
		if err != nil {
			var validation *controller.ValidationError
			if errors.As(err, &validation) {
				http.Error(w, validation.Error(), http.StatusBadRequest)
				return
			}
			logger.WithError(err).Error("failed to enqueue order")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if task.AccountID != account.ID {
			http.Error(w, "idempotency key already used", http.StatusConflict)
			return
		}

		writeJSON(w, http.StatusAccepted, createOrderResponse{
			Status:         "queued",
			TaskID:         task.ID,
			IdempotencyKey: task.IdempotencyKey,
		})
	}
}

// SearchOrdersHandler returns a handler that lists orders for the calling account.
// Supports pagination and filters (symbol, status, createdFrom, createdTo).
func SearchOrdersHandler(repo orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var symbol *string
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			normalized := controller.NormalizeToUSDT(symbolParam)
			symbol = &normalized
		}

		var status *string
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			upper := strings.ToUpper(statusParam)
			status = &upper
		}

		var createdFrom, createdTo *time.Time
		if createdFromParam := r.URL.Query().Get("createdFrom"); createdFromParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdFromParam)
			if err != nil {
				http.Error(w, "invalid createdFrom", http.StatusBadRequest)
				return
			}
			createdFrom = &parsed
		}

		if createdToParam := r.URL.Query().Get("createdTo"); createdToParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdToParam)
			if err != nil {
				http.Error(w, "invalid createdTo", http.StatusBadRequest)
				return
			}
			createdTo = &parsed
		}

		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}

		orders, err := repo.Search(r.Context(), repository.OrderSearchOptions{
			AccountID:     account.ID,
			Symbol:        symbol,
			Status:        status,
			CreatedAfter:  createdFrom,
			CreatedBefore: createdTo,
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}

// GetOrderHandler returns one order of the calling account with its status log.
func GetOrderHandler(repo orderFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.GetAccountFromContext(r.Context())
		if !ok || account == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id == 0 {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, err := repo.FindByIDForAccount(r.Context(), account.ID, uint(id))
		if err != nil {
			logger.WithError(err).Error("failed to fetch order")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if order == nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

// pagination reads page and pageSize, writing a 400 when they are malformed.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	page := 1
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		parsedPage, err := strconv.Atoi(pageParam)
		if err != nil || parsedPage <= 0 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return 0, 0, false
		}
		page = parsedPage
	}

	pageSize := 20
	if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
		parsedSize, err := strconv.Atoi(sizeParam)
		if err != nil || parsedSize <= 0 || parsedSize > 500 {
			http.Error(w, "invalid pageSize", http.StatusBadRequest)
			return 0, 0, false
		}
		pageSize = parsedSize
	}

	return pageSize, (page - 1) * pageSize, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
