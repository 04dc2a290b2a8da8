package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/walletops/internal/models"
)

var (
	testUserID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testTxnID  = uuid.MustParse("cccccccc-0000-0000-0000-000000000003")
)

type stubEngine struct {
	resp *models.TransferResponse
	err  error
	got  models.TransferRequest
}

func (s *stubEngine) ExecuteTransfer(_ context.Context, req models.TransferRequest) (*models.TransferResponse, error) {
	s.got = req
	return s.resp, s.err
}

type stubReader struct {
	row       *models.BalanceRow
	rows      []models.BalanceRow
	txns      []models.TransactionRow
	err       error
	gotLimit  int32
	gotOffset int32
}

func (s *stubReader) AssetBalance(_ context.Context, _ uuid.UUID, _ string) (*models.BalanceRow, error) {
	return s.row, s.err
}

func (s *stubReader) AllBalances(_ context.Context, _ uuid.UUID) ([]models.BalanceRow, error) {
	return s.rows, s.err
}

func (s *stubReader) Transactions(_ context.Context, _ uuid.UUID, limit, offset int32) ([]models.TransactionRow, error) {
	s.gotLimit, s.gotOffset = limit, offset
	return s.txns, s.err
}

func newRouter(engine TransferEngine, reader WalletReader) *mux.Router {
	h := NewHandler(engine, reader, zerolog.Nop(), time.Second)
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	wallet := r.PathPrefix("/api/v1/wallet").Subrouter()
	wallet.HandleFunc("/topup", h.Topup).Methods("POST")
	wallet.HandleFunc("/bonus", h.Bonus).Methods("POST")
	wallet.HandleFunc("/spend", h.Spend).Methods("POST")
	wallet.HandleFunc("/{userId}/balance", h.Balance).Methods("GET")
	wallet.HandleFunc("/{userId}/transactions", h.Transactions).Methods("GET")
	return r
}

func postJSON(t *testing.T, r http.Handler, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSpendSuccess(t *testing.T) {
	balance := decimal.NewFromInt(60)
	engine := &stubEngine{resp: &models.TransferResponse{
		TxnID:       testTxnID,
		TxnStatus:   models.TxnStatusSuccess,
		UserBalance: &balance,
	}}
	r := newRouter(engine, &stubReader{})

	rec := postJSON(t, r, "/api/v1/wallet/spend", "k1", map[string]any{
		"userId":    testUserID,
		"assetCode": "GOLD",
		"amount":    40,
		"itemId":    "sword",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, testTxnID.String(), out["txn_id"])
	assert.Equal(t, "success", out["txn_status"])
	assert.Equal(t, "60", out["user_balance"])

	assert.Equal(t, models.TxnTypeSpend, engine.got.Type)
	assert.Equal(t, "k1", engine.got.IdempotencyKey)
	assert.Equal(t, int64(40), engine.got.Amount)
	assert.Equal(t, map[string]any{"itemId": "sword"}, engine.got.Metadata)
}

func TestSpendFailedReplayOmitsBalance(t *testing.T) {
	engine := &stubEngine{resp: &models.TransferResponse{
		TxnID:     testTxnID,
		TxnStatus: models.TxnStatusFailed,
		Replay:    true,
	}}
	r := newRouter(engine, &stubReader{})

	rec := postJSON(t, r, "/api/v1/wallet/spend", "k1", map[string]any{
		"userId":    testUserID,
		"assetCode": "GOLD",
		"amount":    40,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "failed", out["txn_status"])
	assert.Equal(t, true, out["replay"])
	// A zero here would read as the wallet actually holding zero.
	assert.NotContains(t, out, "user_balance")
}

func TestTransferMissingIdempotencyKey(t *testing.T) {
	engine := &stubEngine{}
	r := newRouter(engine, &stubReader{})

	rec := postJSON(t, r, "/api/v1/wallet/topup", "", map[string]any{
		"userId":    testUserID,
		"assetCode": "GOLD",
		"amount":    40,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.got.IdempotencyKey)
}

func TestTransferNonIntegerAmount(t *testing.T) {
	r := newRouter(&stubEngine{}, &stubReader{})

	rec := postJSON(t, r, "/api/v1/wallet/spend", "k1", map[string]any{
		"userId":    testUserID,
		"assetCode": "GOLD",
		"amount":    40.5,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "positive integer")
}

func TestTransferNegativeAmount(t *testing.T) {
	r := newRouter(&stubEngine{}, &stubReader{})

	rec := postJSON(t, r, "/api/v1/wallet/spend", "k1", map[string]any{
		"userId":    testUserID,
		"assetCode": "GOLD",
		"amount":    -1,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid asset", models.ErrInvalidAsset, http.StatusBadRequest},
		{"user missing", models.ErrUserNotFound, http.StatusNotFound},
		{"wallet missing", models.ErrWalletNotFound, http.StatusNotFound},
		{"pending key", models.ErrPendingTxn, http.StatusConflict},
		{"treasury missing", models.ErrTreasuryMissing, http.StatusInternalServerError},
		{"lock failed", models.ErrLockFailed, http.StatusInternalServerError},
		{"vanished txn", models.ErrTxnVanished, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(&stubEngine{err: tc.err}, &stubReader{})
			rec := postJSON(t, r, "/api/v1/wallet/spend", "k1", map[string]any{
				"userId":    testUserID,
				"assetCode": "GOLD",
				"amount":    40,
			})
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestBonusMetadataDefault(t *testing.T) {
	engine := &stubEngine{resp: &models.TransferResponse{TxnID: testTxnID, TxnStatus: models.TxnStatusSuccess}}
	r := newRouter(engine, &stubReader{})

	rec := postJSON(t, r, "/api/v1/wallet/bonus", "k2", map[string]any{
		"userId":    testUserID,
		"assetCode": "GOLD",
		"amount":    10,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"reason": "bonus"}, engine.got.Metadata)
}

func TestTopupMetadataDefault(t *testing.T) {
	engine := &stubEngine{resp: &models.TransferResponse{TxnID: testTxnID, TxnStatus: models.TxnStatusSuccess}}
	r := newRouter(engine, &stubReader{})

	rec := postJSON(t, r, "/api/v1/wallet/topup", "k3", map[string]any{
		"userId":    testUserID,
		"assetCode": "GOLD",
		"amount":    10,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"source": "payment"}, engine.got.Metadata)
}

func TestBalanceSingleAsset(t *testing.T) {
	reader := &stubReader{row: &models.BalanceRow{
		AssetCode: "GOLD",
		AssetName: "Gold Coins",
		Balance:   decimal.NewFromInt(60),
	}}
	r := newRouter(&stubEngine{}, reader)

	req := httptest.NewRequest("GET", "/api/v1/wallet/"+testUserID.String()+"/balance?asset=GOLD", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "GOLD")
	assert.Contains(t, rec.Body.String(), "60")
}

func TestBalanceAllAssets(t *testing.T) {
	reader := &stubReader{rows: []models.BalanceRow{
		{AssetCode: "GEM", AssetName: "Gems", Balance: decimal.NewFromInt(5)},
		{AssetCode: "GOLD", AssetName: "Gold Coins", Balance: decimal.NewFromInt(60)},
	}}
	r := newRouter(&stubEngine{}, reader)

	req := httptest.NewRequest("GET", "/api/v1/wallet/"+testUserID.String()+"/balance", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out []models.BalanceRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "GEM", out[0].AssetCode)
}

func TestBalanceInvalidUserID(t *testing.T) {
	r := newRouter(&stubEngine{}, &stubReader{})

	req := httptest.NewRequest("GET", "/api/v1/wallet/not-a-uuid/balance", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionsPagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int32
		wantOffset int32
	}{
		{"defaults", "", 20, 0},
		{"explicit", "?limit=50&offset=10", 50, 10},
		{"over cap", "?limit=500", 20, 0},
		{"negative offset", "?offset=-3", 20, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reader := &stubReader{}
			r := newRouter(&stubEngine{}, reader)

			req := httptest.NewRequest("GET", "/api/v1/wallet/"+testUserID.String()+"/transactions"+tc.query, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.wantLimit, reader.gotLimit)
			assert.Equal(t, tc.wantOffset, reader.gotOffset)
			assert.Equal(t, "[]\n", rec.Body.String())
		})
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(&stubEngine{}, &stubReader{})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
