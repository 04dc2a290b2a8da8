package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/walletops/internal/models"
)

// DB is the subset of pgxpool.Pool the read paths need.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Options bound the connection pool. Every request checks out at most one
// connection and releases it when its unit of work ends.
type Options struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnectTimeout  time.Duration
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store owns the connection pool lifecycle and the read-only projections
// (balances, transaction history). Transfer writes live in the service layer.
type Store struct {
	db   DB
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func New(ctx context.Context, opts Options, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool, pool: pool, log: log.With().Str("component", "store").Logger()}, nil
}

// NewWithDB builds a store over an existing connection source. Used by tests.
func NewWithDB(db DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Pool exposes the underlying pool for the transfer engine.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies all pending schema migrations before the server accepts
// traffic.
func Migrate(dsn, path string) error {
	m, err := migrate.New("file://"+path, dsn)
	if err != nil {
		return fmt.Errorf("migration init failed: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// AssetBalance returns the user's balance for one asset. The asset code is
// normalized the same way the transfer path normalizes it.
func (s *Store) AssetBalance(ctx context.Context, userID uuid.UUID, assetCode string) (*models.BalanceRow, error) {
	code := strings.ToUpper(strings.TrimSpace(assetCode))

	var assetID uuid.UUID
	err := s.db.QueryRow(ctx,
		"SELECT asset_id FROM asset_types WHERE asset_code = $1 AND is_active = TRUE",
		code,
	).Scan(&assetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidAsset, code)
	}
	if err != nil {
		return nil, fmt.Errorf("asset lookup failed: %w", err)
	}

	var row models.BalanceRow
	var balanceText string
	err = s.db.QueryRow(ctx,
		`SELECT a.asset_code, a.asset_name, w.balance::text
		 FROM wallets w
		 JOIN asset_types a ON a.asset_id = w.asset_id
		 WHERE w.owner_type = 'user' AND w.user_id = $1 AND w.asset_id = $2`,
		userID, assetID,
	).Scan(&row.AssetCode, &row.AssetName, &balanceText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("balance query failed: %w", err)
	}

	row.Balance, err = decimal.NewFromString(balanceText)
	if err != nil {
		return nil, fmt.Errorf("invalid balance for user %s: %w", userID, err)
	}
	return &row, nil
}

// AllBalances returns one row per wallet the user holds, ordered by asset
// code. An empty slice means the user has no wallets.
func (s *Store) AllBalances(ctx context.Context, userID uuid.UUID) ([]models.BalanceRow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT a.asset_code, a.asset_name, w.balance::text
		 FROM wallets w
		 JOIN asset_types a ON a.asset_id = w.asset_id
		 WHERE w.owner_type = 'user' AND w.user_id = $1
		 ORDER BY a.asset_code`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("balance query failed: %w", err)
	}
	defer rows.Close()

	var out []models.BalanceRow
	for rows.Next() {
		var row models.BalanceRow
		var balanceText string
		if err := rows.Scan(&row.AssetCode, &row.AssetName, &balanceText); err != nil {
			return nil, fmt.Errorf("balance row scan failed: %w", err)
		}
		row.Balance, err = decimal.NewFromString(balanceText)
		if err != nil {
			return nil, fmt.Errorf("invalid balance for user %s: %w", userID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("balance query failed: %w", err)
	}
	return out, nil
}

// Transactions returns the user's transaction history, newest first. A row is
// included when the user's wallet sits on either side of the transfer.
func (s *Store) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.TransactionRow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT t.txn_id, t.txn_type, t.txn_status, t.amount::text, a.asset_code, t.created_at, t.metadata
		 FROM transactions t
		 JOIN wallets w_from ON w_from.wallet_id = t.from_wallet_id
		 JOIN wallets w_to ON w_to.wallet_id = t.to_wallet_id
		 JOIN asset_types a ON a.asset_id = t.asset_id
		 WHERE (w_from.owner_type = 'user' AND w_from.user_id = $1)
		    OR (w_to.owner_type = 'user' AND w_to.user_id = $1)
		 ORDER BY t.created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	defer rows.Close()

	var out []models.TransactionRow
	for rows.Next() {
		var row models.TransactionRow
		var amountText string
		var metadata []byte
		if err := rows.Scan(&row.TxnID, &row.TxnType, &row.TxnStatus, &amountText, &row.AssetCode, &row.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("transaction row scan failed: %w", err)
		}
		row.Amount, err = decimal.NewFromString(amountText)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for txn %s: %w", row.TxnID, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &row.Metadata); err != nil {
				return nil, fmt.Errorf("invalid metadata for txn %s: %w", row.TxnID, err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	return out, nil
}
