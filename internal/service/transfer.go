package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/walletops/internal/models"
)

// DB is the subset of pgxpool.Pool the engine needs.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Engine executes wallet transfers: one database transaction per request,
// deterministic wallet lock ordering, idempotent transaction creation and
// double-entry posting.
type Engine struct {
	db  DB
	log zerolog.Logger
}

func NewEngine(db DB, log zerolog.Logger) *Engine {
	return &Engine{db: db, log: log.With().Str("component", "engine").Logger()}
}

type txnRow struct {
	ID     uuid.UUID
	Status string
}

// ExecuteTransfer runs the full transfer state machine for one request:
// validate, resolve, lock, create-or-replay, post, commit. Any error rolls
// back the whole unit; insufficient funds is a committed failed outcome, not
// an error.
func (e *Engine) ExecuteTransfer(ctx context.Context, req models.TransferRequest) (*models.TransferResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Existence checks happen before the transfer transaction opens so that
	// rejected requests never take wallet locks.
	if err := e.checkUserActive(ctx, req.UserID); err != nil {
		return nil, err
	}

	assetCode := normalizeAssetCode(req.AssetCode)
	assetID, err := e.resolveAsset(ctx, assetCode)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	treasuryID, err := resolveTreasury(ctx, tx)
	if err != nil {
		return nil, err
	}

	userWalletID, err := resolveUserWallet(ctx, tx, req.UserID, assetID)
	if err != nil {
		return nil, err
	}
	treasuryWalletID, err := resolveTreasuryWallet(ctx, tx, treasuryID, assetID)
	if err != nil {
		return nil, err
	}

	// Spend debits the user; topup and bonus debit the treasury.
	fromWalletID, toWalletID := treasuryWalletID, userWalletID
	if req.Type == models.TxnTypeSpend {
		fromWalletID, toWalletID = userWalletID, treasuryWalletID
	}

	// Lock both wallets before the transaction row exists, so lock order
	// never depends on rows other requests might reference.
	balances, err := lockPair(ctx, tx, fromWalletID, toWalletID)
	if err != nil {
		return nil, err
	}

	mode, txn, err := createOrGetTxn(ctx, tx, req, assetID, fromWalletID, toWalletID)
	if err != nil {
		return nil, err
	}

	if mode == modeExisting {
		return e.replay(ctx, tx, txn, userWalletID)
	}

	status, reason, err := post(ctx, tx, txn.ID, fromWalletID, toWalletID, decimal.NewFromInt(req.Amount), balances)
	if err != nil {
		return nil, err
	}

	userBalance, err := readBalance(ctx, tx, userWalletID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	e.log.Info().
		Str("txn_id", txn.ID.String()).
		Str("txn_type", req.Type).
		Str("txn_status", status).
		Str("asset", assetCode).
		Int64("amount", req.Amount).
		Msg("transfer committed")

	return &models.TransferResponse{
		TxnID:       txn.ID,
		TxnStatus:   status,
		UserBalance: &userBalance,
		Reason:      reason,
	}, nil
}

// replay resolves a request whose idempotency key matched an existing
// transaction. Terminal statuses are returned verbatim; a pending row means
// another execution owns the key and surfaces as a conflict.
func (e *Engine) replay(ctx context.Context, tx pgx.Tx, txn txnRow, userWalletID uuid.UUID) (*models.TransferResponse, error) {
	switch txn.Status {
	case models.TxnStatusSuccess:
		balance, err := readBalance(ctx, tx, userWalletID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("tx commit failed: %w", err)
		}
		return &models.TransferResponse{TxnID: txn.ID, TxnStatus: txn.Status, UserBalance: &balance, Replay: true}, nil

	case models.TxnStatusFailed:
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("tx commit failed: %w", err)
		}
		return &models.TransferResponse{TxnID: txn.ID, TxnStatus: txn.Status, Replay: true}, nil

	default:
		// Nothing was written on this path; committing just releases the locks.
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("tx commit failed: %w", err)
		}
		return nil, models.ErrPendingTxn
	}
}

func validateRequest(req models.TransferRequest) error {
	switch {
	case req.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key is required", models.ErrValidation)
	case req.UserID == uuid.Nil:
		return fmt.Errorf("%w: userId is required", models.ErrValidation)
	case strings.TrimSpace(req.AssetCode) == "":
		return fmt.Errorf("%w: assetCode is required", models.ErrValidation)
	case req.Amount <= 0:
		return fmt.Errorf("%w: amount must be a positive integer", models.ErrValidation)
	}
	switch req.Type {
	case models.TxnTypeTopup, models.TxnTypeBonus, models.TxnTypeSpend:
		return nil
	default:
		return fmt.Errorf("%w: unknown transaction type %q", models.ErrValidation, req.Type)
	}
}

func normalizeAssetCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (e *Engine) checkUserActive(ctx context.Context, userID uuid.UUID) error {
	var id uuid.UUID
	err := e.db.QueryRow(ctx,
		"SELECT user_id FROM users WHERE user_id = $1 AND is_active = TRUE",
		userID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}
	return nil
}

func (e *Engine) resolveAsset(ctx context.Context, code string) (uuid.UUID, error) {
	var assetID uuid.UUID
	err := e.db.QueryRow(ctx,
		"SELECT asset_id FROM asset_types WHERE asset_code = $1 AND is_active = TRUE",
		code,
	).Scan(&assetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: %s", models.ErrInvalidAsset, code)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("asset lookup failed: %w", err)
	}
	return assetID, nil
}

func resolveTreasury(ctx context.Context, tx pgx.Tx) (uuid.UUID, error) {
	var systemID uuid.UUID
	err := tx.QueryRow(ctx,
		"SELECT system_id FROM system_accounts WHERE system_name = $1 AND is_active = TRUE",
		models.TreasuryAccountName,
	).Scan(&systemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, models.ErrTreasuryMissing
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("treasury lookup failed: %w", err)
	}
	return systemID, nil
}

func resolveUserWallet(ctx context.Context, tx pgx.Tx, userID, assetID uuid.UUID) (uuid.UUID, error) {
	var walletID uuid.UUID
	err := tx.QueryRow(ctx,
		"SELECT wallet_id FROM wallets WHERE owner_type = 'user' AND user_id = $1 AND asset_id = $2",
		userID, assetID,
	).Scan(&walletID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, models.ErrWalletNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("user wallet lookup failed: %w", err)
	}
	return walletID, nil
}

func resolveTreasuryWallet(ctx context.Context, tx pgx.Tx, systemID, assetID uuid.UUID) (uuid.UUID, error) {
	var walletID uuid.UUID
	err := tx.QueryRow(ctx,
		"SELECT wallet_id FROM wallets WHERE owner_type = 'system' AND system_id = $1 AND asset_id = $2",
		systemID, assetID,
	).Scan(&walletID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, models.ErrTreasuryWalletMissing
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("treasury wallet lookup failed: %w", err)
	}
	return walletID, nil
}

// lockPair acquires exclusive row locks on both wallets in ascending
// wallet_id order and returns their current balances. The fixed total order
// is the sole deadlock-avoidance mechanism: concurrent transfers over the
// same pair always wait on the same first lock.
func lockPair(ctx context.Context, tx pgx.Tx, a, b uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	ids := sortWalletIDs(a, b)

	rows, err := tx.Query(ctx,
		"SELECT wallet_id, balance::text FROM wallets WHERE wallet_id = ANY($1) ORDER BY wallet_id FOR UPDATE",
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	defer rows.Close()

	balances := make(map[uuid.UUID]decimal.Decimal, 2)
	for rows.Next() {
		var walletID uuid.UUID
		var balanceText string
		if err := rows.Scan(&walletID, &balanceText); err != nil {
			return nil, fmt.Errorf("lock row scan failed: %w", err)
		}
		balance, err := decimal.NewFromString(balanceText)
		if err != nil {
			return nil, fmt.Errorf("invalid balance for wallet %s: %w", walletID, err)
		}
		balances[walletID] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if len(balances) != 2 {
		return nil, models.ErrLockFailed
	}
	return balances, nil
}

func sortWalletIDs(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return []uuid.UUID{a, b}
}

const (
	modeNew      = "new"
	modeExisting = "existing"
)

// createOrGetTxn inserts the pending transaction row, or fetches the existing
// row when the idempotency key is already taken. ON CONFLICT DO NOTHING keeps
// the enclosing database transaction usable on the losing side; a raw unique
// violation would abort it and poison the follow-up fetch with SQLSTATE 25P02.
func createOrGetTxn(ctx context.Context, tx pgx.Tx, req models.TransferRequest, assetID, fromWalletID, toWalletID uuid.UUID) (string, txnRow, error) {
	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return "", txnRow{}, err
	}

	var txn txnRow
	err = tx.QueryRow(ctx,
		`INSERT INTO transactions
		 (txn_type, txn_status, asset_id, amount, from_wallet_id, to_wallet_id, idempotency_key, metadata)
		 VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING txn_id, txn_status`,
		req.Type, assetID, req.Amount, fromWalletID, toWalletID, req.IdempotencyKey, metadata,
	).Scan(&txn.ID, &txn.Status)
	if err == nil {
		return modeNew, txn, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", txnRow{}, fmt.Errorf("transaction insert failed: %w", err)
	}

	// No row came back, so another execution owns the key.
	err = tx.QueryRow(ctx,
		"SELECT txn_id, txn_status FROM transactions WHERE idempotency_key = $1",
		req.IdempotencyKey,
	).Scan(&txn.ID, &txn.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		// Key conflict but no visible row. The insert waits out the
		// conflicting writer, so this only happens if the winner's row was
		// removed in between. Surfaced as-is; see DESIGN.md.
		return "", txnRow{}, models.ErrTxnVanished
	}
	if err != nil {
		return "", txnRow{}, fmt.Errorf("transaction fetch failed: %w", err)
	}
	return modeExisting, txn, nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata encode failed: %w", err)
	}
	return encoded, nil
}

// post applies a new pending transaction under the locks already held: funds
// check, both balance mutations, the matched debit/credit ledger pair carrying
// the resulting balances, and the terminal status. An insufficient source
// balance marks the transaction failed and touches nothing else.
func post(ctx context.Context, tx pgx.Tx, txnID, fromWalletID, toWalletID uuid.UUID, amount decimal.Decimal, balances map[uuid.UUID]decimal.Decimal) (string, string, error) {
	if balances[fromWalletID].LessThan(amount) {
		_, err := tx.Exec(ctx,
			"UPDATE transactions SET txn_status = 'failed', updated_at = NOW() WHERE txn_id = $1",
			txnID,
		)
		if err != nil {
			return "", "", fmt.Errorf("transaction fail-mark failed: %w", err)
		}
		return models.TxnStatusFailed, "INSUFFICIENT_FUNDS", nil
	}

	if _, err := tx.Exec(ctx,
		"UPDATE wallets SET balance = balance - $1, updated_at = NOW() WHERE wallet_id = $2",
		amount, fromWalletID,
	); err != nil {
		return "", "", fmt.Errorf("source debit failed: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE wallet_id = $2",
		amount, toWalletID,
	); err != nil {
		return "", "", fmt.Errorf("destination credit failed: %w", err)
	}

	// The ledger pair records each wallet's balance as of this entry.
	fromBalance, err := readBalance(ctx, tx, fromWalletID)
	if err != nil {
		return "", "", err
	}
	toBalance, err := readBalance(ctx, tx, toWalletID)
	if err != nil {
		return "", "", err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (txn_id, wallet_id, entry_type, amount, current_balance)
		 VALUES ($1, $2, 'debit', $3, $4), ($1, $5, 'credit', $3, $6)`,
		txnID, fromWalletID, amount, fromBalance, toWalletID, toBalance,
	); err != nil {
		return "", "", fmt.Errorf("ledger entry insert failed: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE transactions SET txn_status = 'success', updated_at = NOW() WHERE txn_id = $1",
		txnID,
	); err != nil {
		return "", "", fmt.Errorf("transaction success-mark failed: %w", err)
	}

	return models.TxnStatusSuccess, "", nil
}

func readBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (decimal.Decimal, error) {
	var balanceText string
	err := tx.QueryRow(ctx,
		"SELECT balance::text FROM wallets WHERE wallet_id = $1",
		walletID,
	).Scan(&balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance read failed: %w", err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance for wallet %s: %w", walletID, err)
	}
	return balance, nil
}
