package models

import "errors"

// Sentinel errors shared by the engine, the store and the HTTP layer.
// Insufficient funds is deliberately absent: it is a terminal business
// outcome (TxnStatusFailed), not an error.
var (
	// ErrValidation covers malformed client input rejected before any store
	// access.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAsset means the asset code matches no active asset.
	ErrInvalidAsset = errors.New("invalid or inactive asset code")

	// ErrUserNotFound means the user is unknown or inactive.
	ErrUserNotFound = errors.New("user not found or inactive")

	// ErrWalletNotFound means the user has no wallet for the asset.
	ErrWalletNotFound = errors.New("user wallet not found for this asset")

	// ErrTreasuryMissing means no active treasury system account exists.
	// Deployment misconfiguration, never a client error.
	ErrTreasuryMissing = errors.New("treasury system account not found")

	// ErrTreasuryWalletMissing means the treasury has no wallet for the asset.
	ErrTreasuryWalletMissing = errors.New("treasury wallet not found for this asset")

	// ErrLockFailed means fewer than two wallet rows came back from the lock
	// query. Cannot happen under intact schema constraints, but is checked.
	ErrLockFailed = errors.New("failed to lock wallet pair")

	// ErrPendingTxn means the idempotency key belongs to a transaction that is
	// still pending, i.e. another execution is in flight or died mid-flight.
	ErrPendingTxn = errors.New("transaction is still pending for this idempotency key")

	// ErrTxnVanished means the insert hit the idempotency unique constraint
	// but the existing row was not visible to the follow-up fetch.
	ErrTxnVanished = errors.New("conflicting transaction not visible")
)
