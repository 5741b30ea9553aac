package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	paymentservice "github.com/smallbiznis/clientflow/internal/payment/service"
)

type recordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Notes     string          `json:"notes"`
	IsDeposit bool            `json:"isDeposit"`
}

type recordPaymentResponse struct {
	Success      bool                   `json:"success"`
	Invoice      *invoicedomain.Invoice `json:"invoice"`
	Payment      *paymentdomain.Payment `json:"payment"`
	IsPaidInFull bool                   `json:"isPaidInFull"`
	NewBalance   int64                  `json:"newBalance"`
}

// RecordPayment applies an offline payment to an invoice.
func (s *Server) RecordPayment(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	invoiceID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, invoicedomain.ErrInvoiceNotFound)
		return
	}

	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.recorder.RecordPayment(c.Request.Context(), paymentservice.RecordPaymentRequest{
		TenantID:  tenantID,
		InvoiceID: invoiceID,
		Amount:    ledgerdomain.RoundMinorUnits(req.Amount),
		Method:    paymentdomain.Method(strings.TrimSpace(req.Method)),
		Notes:     req.Notes,
		IsDeposit: req.IsDeposit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, recordPaymentResponse{
		Success:      true,
		Invoice:      result.Invoice,
		Payment:      result.Payment,
		IsPaidInFull: result.IsPaidInFull,
		NewBalance:   result.NewBalance,
	})
}

type syncPaymentResponse struct {
	Success        bool                 `json:"success"`
	Message        string               `json:"message"`
	Changed        bool                 `json:"changed"`
	NewStatus      paymentdomain.Status `json:"newStatus,omitempty"`
	RefundedAmount *int64               `json:"refundedAmount,omitempty"`
}

// SyncPayment pulls the authoritative charge state from the gateway.
func (s *Server) SyncPayment(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	paymentID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, paymentdomain.ErrPaymentNotFound)
		return
	}

	result, err := s.syncer.SyncPayment(c.Request.Context(), tenantID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := syncPaymentResponse{
		Success: true,
		Message: result.Message,
		Changed: result.Changed,
	}
	if result.Changed {
		refunded := result.RefundedAmount
		resp.NewStatus = result.NewStatus
		resp.RefundedAmount = &refunded
	}
	c.JSON(http.StatusOK, resp)
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	parsed, err := parseOptionalSnowflakeID(c.Param(name))
	if err != nil {
		return 0, err
	}
	if parsed == nil {
		return 0, ErrInvalidRequest
	}
	return *parsed, nil
}
