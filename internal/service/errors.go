package service

import (
	"errors"
	"fmt"

	"nft-shop/internal/db"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrInvalidWallet  = fmt.Errorf("%w: wallet address must start with x", ErrValidation)
	ErrInvalidTxRef   = fmt.Errorf("%w: transaction hash is required", ErrValidation)
	ErrInvalidItem    = fmt.Errorf("%w: invalid item", ErrValidation)
	ErrInvalidStatus  = fmt.Errorf("%w: unknown order status", ErrValidation)
	ErrInvalidSetting = fmt.Errorf("%w: invalid setting", ErrValidation)

	ErrSoldOut           = errors.New("item sold out")
	ErrItemNotFound      = errors.New("item not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrCapBelowSold      = errors.New("cap cannot be lower than sold")
	ErrInvalidTransition = errors.New("cancelled orders cannot change status")
	ErrUnauthorized      = errors.New("unauthorized")

	// ErrLedgerDrift means a reserved unit could not be handed back. It is
	// never transient: retrying the admission would reserve another unit.
	ErrLedgerDrift = errors.New("reservation left without an order")
)

// TransientStoreError marks a store failure that may succeed on retry.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: transient store error: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// storeError wraps a store failure for the caller, tagging it transient when
// the driver says a retry could help.
func storeError(op string, err error) error {
	if db.IsTransient(err) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
