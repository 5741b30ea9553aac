package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	"gorm.io/gorm"
)

const (
	errorTypeValidation    = "validation_error"
	errorTypeNotFound      = "not_found"
	errorTypeConflict      = "conflict"
	errorTypeUnauthorized  = "unauthorized"
	errorTypeRateLimited   = "rate_limited"
	errorTypeUpstream      = "upstream_error"
	errorTypeConfiguration = "configuration_error"
	errorTypeInternal      = "internal_error"

	slotUnavailableMessage = "This time slot is no longer available. Please choose a different time."
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "Invalid request body")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInternal,
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		message := "validation error"
		if len(vErr.Errors) == 1 {
			message = vErr.Errors[0].Message
		}
		return http.StatusBadRequest, errorPayload{
			Type:    errorTypeValidation,
			Message: message,
			Errors:  vErr.Errors,
		}
	}

	var exceeds *paymentdomain.AmountExceedsBalanceError
	if errors.As(err, &exceeds) {
		return http.StatusBadRequest, errorPayload{
			Type: errorTypeValidation,
			Message: fmt.Sprintf("Payment amount (%s) exceeds balance due (%s)",
				ledgerdomain.FormatCents(exceeds.Amount), ledgerdomain.FormatCents(exceeds.BalanceDue)),
			Errors: []ValidationError{{Field: "amount", Code: paymentdomain.ErrAmountExceedsBalance.Error(), Message: "amount exceeds balance due"}},
		}
	}

	if message, ok := validationMessage(err); ok {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    errorTypeValidation,
			Message: message,
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: message,
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    errorTypeUnauthorized,
			Message: "unauthorized",
		}
	case errors.Is(err, bookingdomain.ErrSlotUnavailable):
		return http.StatusConflict, errorPayload{
			Type:    errorTypeConflict,
			Message: slotUnavailableMessage,
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    errorTypeRateLimited,
			Message: "Too many requests. Please try again shortly.",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    errorTypeNotFound,
			Message: notFoundMessage(err),
		}
	case isConfigurationError(err):
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeConfiguration,
			Message: "account setup is incomplete, contact support",
		}
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeUpstream,
			Message: "payment provider unavailable, try again later",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInternal,
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, rootCode(err)
}

func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationMessages = []struct {
	err     error
	message string
}{
	{ErrInvalidRequest, "Invalid request body"},
	{paymentdomain.ErrInvalidAmount, "Valid payment amount is required"},
	{paymentdomain.ErrInvalidMethod, "Invalid payment method. Must be one of: " + strings.Join(paymentdomain.MethodNames(), ", ")},
	{paymentdomain.ErrCannotSyncOfflinePayment, "Cannot sync offline payments with Stripe"},
	{paymentdomain.ErrNotSyncable, "No Stripe payment intent or charge associated with this payment"},
	{paymentdomain.ErrNoChargeFound, "No charge found for this payment"},
	{paymentdomain.ErrInvalidSignature, "Invalid webhook signature"},
	{paymentdomain.ErrInvalidPayload, "Invalid webhook payload"},
	{paymentdomain.ErrInvalidEvent, "Invalid webhook event"},
	{bookingdomain.ErrMissingClientName, "Name is required"},
	{bookingdomain.ErrInvalidEmail, "A valid email address is required"},
	{bookingdomain.ErrInvalidSchedule, "A valid date and time is required"},
	{bookingdomain.ErrInvalidDuration, "Duration must be between 1 minute and 24 hours"},
	{bookingdomain.ErrInvalidPrice, "Price cannot be negative"},
	{tagdomain.ErrInvalidEntityType, "Unsupported entity type"},
	{tagdomain.ErrInvalidStatusTag, "Not a status tag for this entity"},
	{tagdomain.ErrInvalidTag, "Invalid tag"},
}

func validationMessage(err error) (string, bool) {
	for _, v := range validationMessages {
		if errors.Is(err, v.err) {
			return v.message, true
		}
	}
	return "", false
}

func validationErrorCode(err error) string {
	for _, v := range validationMessages {
		if errors.Is(err, v.err) {
			return v.err.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "missing_client_name":
		return "name"
	case "invalid_schedule":
		return "scheduled_at"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, bookingdomain.ErrBookingNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, tagdomain.ErrEntityNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return "Invoice not found"
	case errors.Is(err, paymentdomain.ErrPaymentNotFound):
		return "Payment not found"
	case errors.Is(err, bookingdomain.ErrBookingNotFound):
		return "Booking not found"
	case errors.Is(err, tenantdomain.ErrTenantNotFound):
		return "Business not found"
	case errors.Is(err, tagdomain.ErrEntityNotFound):
		return "Record not found"
	default:
		return "not found"
	}
}

// isConfigurationError flags tenant provisioning gaps rather than user mistakes.
func isConfigurationError(err error) bool {
	return errors.Is(err, tagdomain.ErrTagNotFound) ||
		errors.Is(err, paymentdomain.ErrGatewayNotConfigured)
}
