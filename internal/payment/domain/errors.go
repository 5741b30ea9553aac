package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount            = errors.New("invalid_amount")
	ErrInvalidMethod            = errors.New("invalid_method")
	ErrAmountExceedsBalance     = errors.New("amount_exceeds_balance")
	ErrPaymentNotFound          = errors.New("payment_not_found")
	ErrCannotSyncOfflinePayment = errors.New("cannot_sync_offline_payment")
	ErrNotSyncable              = errors.New("payment_not_syncable")
	ErrGatewayUnavailable       = errors.New("gateway_unavailable")
	ErrNoChargeFound            = errors.New("no_charge_found")
	ErrGatewayNotConfigured     = errors.New("gateway_not_configured")
	ErrInvalidSignature         = errors.New("invalid_signature")
	ErrInvalidPayload           = errors.New("invalid_payload")
	ErrInvalidEvent             = errors.New("invalid_event")
)

// AmountExceedsBalanceError carries both figures for display.
type AmountExceedsBalanceError struct {
	Amount     int64
	BalanceDue int64
}

func (e *AmountExceedsBalanceError) Error() string {
	return fmt.Sprintf("amount %d exceeds balance due %d", e.Amount, e.BalanceDue)
}

func (e *AmountExceedsBalanceError) Is(target error) bool {
	return target == ErrAmountExceedsBalance
}
