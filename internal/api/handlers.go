package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/walletops/internal/models"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	transferOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_transfer_outcomes_total",
		Help: "Terminal transfer outcomes, labeled by type and status",
	}, []string{"type", "status"})
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// TransferEngine executes one transfer per request.
type TransferEngine interface {
	ExecuteTransfer(ctx context.Context, req models.TransferRequest) (*models.TransferResponse, error)
}

// WalletReader serves the read-only projections.
type WalletReader interface {
	AssetBalance(ctx context.Context, userID uuid.UUID, assetCode string) (*models.BalanceRow, error)
	AllBalances(ctx context.Context, userID uuid.UUID) ([]models.BalanceRow, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.TransactionRow, error)
}

type Handler struct {
	engine   TransferEngine
	reader   WalletReader
	validate *validator.Validate
	log      zerolog.Logger
	timeout  time.Duration
}

func NewHandler(engine TransferEngine, reader WalletReader, log zerolog.Logger, timeout time.Duration) *Handler {
	return &Handler{
		engine:   engine,
		reader:   reader,
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
		timeout:  timeout,
	}
}

type transferBody struct {
	UserID    uuid.UUID      `json:"userId" validate:"required"`
	AssetCode string         `json:"assetCode" validate:"required"`
	Amount    int64          `json:"amount" validate:"required,gt=0"`
	Metadata  map[string]any `json:"metadata"`
	Reason    string         `json:"reason"`
	ItemID    string         `json:"itemId"`
}

func (h *Handler) Topup(w http.ResponseWriter, r *http.Request) {
	h.executeTransfer(w, r, models.TxnTypeTopup, "/wallet/topup")
}

func (h *Handler) Bonus(w http.ResponseWriter, r *http.Request) {
	h.executeTransfer(w, r, models.TxnTypeBonus, "/wallet/bonus")
}

func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	h.executeTransfer(w, r, models.TxnTypeSpend, "/wallet/spend")
}

func (h *Handler) executeTransfer(w http.ResponseWriter, r *http.Request, txnType, endpoint string) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		respondError(w, http.StatusBadRequest, "Missing Idempotency-Key header", "POST", endpoint)
		return
	}

	var body transferBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "amount" {
			respondError(w, http.StatusBadRequest, "amount must be a positive integer", "POST", endpoint)
			return
		}
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		respondError(w, http.StatusBadRequest, "userId, assetCode and a positive integer amount are required", "POST", endpoint)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.engine.ExecuteTransfer(ctx, models.TransferRequest{
		Type:           txnType,
		UserID:         body.UserID,
		AssetCode:      body.AssetCode,
		Amount:         body.Amount,
		IdempotencyKey: idempotencyKey,
		Metadata:       transferMetadata(txnType, body),
	})
	if err != nil {
		h.respondTransferError(w, err, endpoint)
		return
	}

	transferOutcomesTotal.WithLabelValues(txnType, resp.TxnStatus).Inc()
	respondJSON(w, http.StatusOK, resp, "POST", endpoint)
}

// transferMetadata applies the per-endpoint metadata defaults.
func transferMetadata(txnType string, body transferBody) map[string]any {
	switch txnType {
	case models.TxnTypeBonus:
		reason := body.Reason
		if reason == "" {
			reason = "bonus"
		}
		return map[string]any{"reason": reason}
	case models.TxnTypeSpend:
		var itemID any
		if body.ItemID != "" {
			itemID = body.ItemID
		}
		return map[string]any{"itemId": itemID}
	default:
		if body.Metadata != nil {
			return body.Metadata
		}
		return map[string]any{"source": "payment"}
	}
}

func (h *Handler) respondTransferError(w http.ResponseWriter, err error, endpoint string) {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidAsset):
		respondError(w, http.StatusBadRequest, err.Error(), "POST", endpoint)
	case errors.Is(err, models.ErrUserNotFound), errors.Is(err, models.ErrWalletNotFound):
		respondError(w, http.StatusNotFound, err.Error(), "POST", endpoint)
	case errors.Is(err, models.ErrPendingTxn):
		respondError(w, http.StatusConflict, err.Error(), "POST", endpoint)
	default:
		h.log.Error().Err(err).Str("endpoint", endpoint).Msg("transfer failed")
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", endpoint)
	}
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	endpoint := "/wallet/{userId}/balance"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	userID, err := uuid.Parse(mux.Vars(r)["userId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid userId", "GET", endpoint)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	assetCode := r.URL.Query().Get("asset")
	if assetCode != "" {
		row, err := h.reader.AssetBalance(ctx, userID, assetCode)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrInvalidAsset):
				respondError(w, http.StatusBadRequest, err.Error(), "GET", endpoint)
			case errors.Is(err, models.ErrWalletNotFound):
				respondError(w, http.StatusNotFound, err.Error(), "GET", endpoint)
			default:
				h.log.Error().Err(err).Msg("balance lookup failed")
				respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
			}
			return
		}
		respondJSON(w, http.StatusOK, row, "GET", endpoint)
		return
	}

	rows, err := h.reader.AllBalances(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("balance lookup failed")
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}
	if rows == nil {
		rows = []models.BalanceRow{}
	}
	respondJSON(w, http.StatusOK, rows, "GET", endpoint)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	endpoint := "/wallet/{userId}/transactions"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	userID, err := uuid.Parse(mux.Vars(r)["userId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid userId", "GET", endpoint)
		return
	}

	limit := parseQueryInt(r, "limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := parseQueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rows, err := h.reader.Transactions(ctx, userID, int32(limit), int32(offset))
	if err != nil {
		h.log.Error().Err(err).Msg("transaction history lookup failed")
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", endpoint)
		return
	}
	if rows == nil {
		rows = []models.TransactionRow{}
	}
	respondJSON(w, http.StatusOK, rows, "GET", endpoint)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
