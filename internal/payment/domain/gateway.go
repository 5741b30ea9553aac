package domain

import "context"

// ChargeQuery identifies a charge on a connected account. PaymentIntentID is
// preferred; ChargeID is the fallback.
type ChargeQuery struct {
	AccountID       string
	PaymentIntentID string
	ChargeID        string
}

// Charge is the gateway's view of a payment.
type Charge struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	AmountRefunded  int64
	Refunded        bool
	Succeeded       bool
	Disputed        bool
	CardBrand       string
	CardLast4       string
	ReceiptURL      string
}

// Gateway reads authoritative charge state from the payment processor.
type Gateway interface {
	RetrieveCharge(ctx context.Context, query ChargeQuery) (*Charge, error)
}

// Classify maps a charge onto the local payment status. A refund outranks a
// dispute; a disputed charge still reports as paid.
func (c Charge) Classify() Status {
	switch {
	case c.Refunded || (c.Amount > 0 && c.AmountRefunded >= c.Amount):
		return StatusRefunded
	case c.AmountRefunded > 0:
		return StatusPartialRefund
	case c.Disputed:
		return StatusDisputed
	case c.Succeeded:
		return StatusSucceeded
	default:
		return StatusPending
	}
}
