package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	bookingservice "github.com/smallbiznis/clientflow/internal/booking/service"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
)

const bookingSubmittedMessage = "Your booking request has been submitted! We'll confirm your appointment shortly."

type publicBookingRequest struct {
	ClientName    string          `json:"clientName"`
	ClientEmail   string          `json:"clientEmail"`
	ClientPhone   string          `json:"clientPhone"`
	ScheduledAt   time.Time       `json:"scheduledAt"`
	TotalDuration int             `json:"totalDuration"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	Notes         string          `json:"notes"`
}

type publicBookingView struct {
	ID              string                      `json:"id"`
	ScheduledAt     time.Time                   `json:"scheduledAt"`
	DurationMinutes int                         `json:"duration"`
	TotalPrice      int64                       `json:"totalPrice"`
	Status          bookingdomain.BookingStatus `json:"status"`
	PaymentStatus   ledgerdomain.PaymentStatus  `json:"paymentStatus"`
}

type publicBookingResponse struct {
	Success bool              `json:"success"`
	Booking publicBookingView `json:"booking"`
	Message string            `json:"message"`
}

// CreatePublicBooking books a slot from the tenant's public booking page.
func (s *Server) CreatePublicBooking(c *gin.Context) {
	var req publicBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.bookings.CreatePublicBooking(c.Request.Context(), c.Param("slug"), bookingservice.PublicBookingRequest{
		Name:            req.ClientName,
		Email:           req.ClientEmail,
		Phone:           req.ClientPhone,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.TotalDuration,
		TotalPrice:      ledgerdomain.RoundMinorUnits(req.TotalPrice),
		Notes:           req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	booking := result.Booking
	c.JSON(http.StatusCreated, publicBookingResponse{
		Success: true,
		Booking: publicBookingView{
			ID:              booking.ID.String(),
			ScheduledAt:     booking.ScheduledAt,
			DurationMinutes: booking.DurationMinutes,
			TotalPrice:      booking.TotalPrice,
			Status:          booking.Status,
			PaymentStatus:   booking.PaymentStatus,
		},
		Message: bookingSubmittedMessage,
	})
}

// CheckAvailability reports whether a single slot is free.
func (s *Server) CheckAvailability(c *gin.Context) {
	start, err := parseOptionalTime(c.Query("scheduledAt"))
	if err != nil || start == nil {
		AbortWithError(c, bookingdomain.ErrInvalidSchedule)
		return
	}
	duration, err := parseOptionalInt(c.Query("duration"))
	if err != nil {
		AbortWithError(c, bookingdomain.ErrInvalidDuration)
		return
	}
	minutes := 0
	if duration != nil {
		minutes = *duration
	}

	available, err := s.bookings.SlotAvailable(c.Request.Context(), c.Param("slug"), *start, minutes)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available})
}
