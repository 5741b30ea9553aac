package domain

import "github.com/shopspring/decimal"

// PaymentStatus is the derived settlement state of a booking.
type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "unpaid"
	PaymentStatusDepositPaid   PaymentStatus = "deposit_paid"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusPartialRefund PaymentStatus = "partial_refund"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

// BookingPaymentStatus derives a booking's payment status from raw amounts.
// Refund states are never produced here; only reconciliation assigns them.
func BookingPaymentStatus(totalPrice, depositAllocated, amountPaid int64) PaymentStatus {
	switch {
	case amountPaid <= 0:
		return PaymentStatusUnpaid
	case amountPaid >= totalPrice:
		return PaymentStatusPaid
	case depositAllocated > 0:
		return PaymentStatusDepositPaid
	default:
		return PaymentStatusPartiallyPaid
	}
}

// Balance is the outcome of a balance computation. Overpaid is non-zero when
// amountPaid exceeded total and Due was clamped.
type Balance struct {
	Due      int64
	Overpaid int64
}

// Anomalous reports whether the inputs were inconsistent.
func (b Balance) Anomalous() bool {
	return b.Overpaid > 0
}

func ComputeBalance(total, amountPaid int64) Balance {
	due := total - amountPaid
	if due < 0 {
		return Balance{Due: 0, Overpaid: -due}
	}
	return Balance{Due: due}
}

var half = decimal.NewFromFloat(0.5)

// RoundMinorUnits rounds a fractional minor-unit value half-up. Amounts never
// pass through float64.
func RoundMinorUnits(value decimal.Decimal) int64 {
	return value.Add(half).Floor().IntPart()
}

// FormatCents renders cents as a dollar string for user-facing messages.
func FormatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
