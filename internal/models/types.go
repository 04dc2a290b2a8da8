package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxnTypeTopup = "topup"
	TxnTypeBonus = "bonus"
	TxnTypeSpend = "spend"
)

// Transaction statuses. Pending only exists inside an open database
// transaction; a committed row is always success or failed.
const (
	TxnStatusPending = "pending"
	TxnStatusSuccess = "success"
	TxnStatusFailed  = "failed"
)

// Wallet owner kinds.
const (
	OwnerTypeUser   = "user"
	OwnerTypeSystem = "system"
)

// Ledger entry kinds.
const (
	EntryTypeDebit  = "debit"
	EntryTypeCredit = "credit"
)

// TreasuryAccountName identifies the system account funding topups and
// bonuses and absorbing spends.
const TreasuryAccountName = "TREASURY"

// Wallet holds a balance of one asset for one owner.
type Wallet struct {
	ID        uuid.UUID       `json:"wallet_id"`
	OwnerType string          `json:"owner_type"`
	UserID    uuid.NullUUID   `json:"user_id,omitempty"`
	SystemID  uuid.NullUUID   `json:"system_id,omitempty"`
	AssetID   uuid.UUID       `json:"asset_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AssetType is an asset definition. Codes are stored uppercase.
type AssetType struct {
	ID       uuid.UUID `json:"asset_id"`
	Code     string    `json:"asset_code"`
	Name     string    `json:"asset_name"`
	IsActive bool      `json:"is_active"`
}

// SystemAccount is a platform-owned account such as the treasury.
type SystemAccount struct {
	ID       uuid.UUID `json:"system_id"`
	Name     string    `json:"system_name"`
	IsActive bool      `json:"is_active"`
}

// Transaction is the immutable record of a transfer intent. Exactly one row
// exists per idempotency key.
type Transaction struct {
	ID             uuid.UUID       `json:"txn_id"`
	Type           string          `json:"txn_type"`
	Status         string          `json:"txn_status"`
	AssetID        uuid.UUID       `json:"asset_id"`
	Amount         decimal.Decimal `json:"amount"`
	FromWalletID   uuid.UUID       `json:"from_wallet_id"`
	ToWalletID     uuid.UUID       `json:"to_wallet_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LedgerEntry is one leg of the double-entry audit trail. Entries are
// append-only and always inserted as a matched debit/credit pair.
type LedgerEntry struct {
	ID             int64           `json:"entry_id"`
	TxnID          uuid.UUID       `json:"txn_id"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	EntryType      string          `json:"entry_type"`
	Amount         decimal.Decimal `json:"amount"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TransferRequest is the engine-level input for one transfer execution.
type TransferRequest struct {
	Type           string
	UserID         uuid.UUID
	AssetCode      string
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]any
}

// TransferResponse is the terminal outcome of a transfer execution. Replay is
// true when the idempotency key matched a previously committed transaction.
// UserBalance is nil on a failed-status replay, where no balance is re-read;
// a zero here would read as a real balance of zero.
type TransferResponse struct {
	TxnID       uuid.UUID        `json:"txn_id"`
	TxnStatus   string           `json:"txn_status"`
	UserBalance *decimal.Decimal `json:"user_balance,omitempty"`
	Replay      bool             `json:"replay"`
	Reason      string           `json:"reason,omitempty"`
}

// BalanceRow is one row of the balance projection.
type BalanceRow struct {
	AssetCode string          `json:"asset_code"`
	AssetName string          `json:"asset_name"`
	Balance   decimal.Decimal `json:"balance"`
}

// TransactionRow is one row of the transaction history projection.
type TransactionRow struct {
	TxnID     uuid.UUID       `json:"txn_id"`
	TxnType   string          `json:"txn_type"`
	TxnStatus string          `json:"txn_status"`
	Amount    decimal.Decimal `json:"amount"`
	AssetCode string          `json:"asset_code"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}
