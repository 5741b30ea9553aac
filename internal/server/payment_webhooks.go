package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhooks.IngestWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
