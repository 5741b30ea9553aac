package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
)

var taggableEntities = map[string]tagdomain.EntityType{
	"invoices": tagdomain.EntityInvoice,
	"bookings": tagdomain.EntityBooking,
	"contacts": tagdomain.EntityContact,
	"payments": tagdomain.EntityPayment,
}

type addTagRequest struct {
	TagID string `json:"tag_id"`
}

type setStatusRequest struct {
	Tag string `json:"tag"`
}

func (s *Server) AddTag(entityType tagdomain.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		entityID, err := parseSnowflakeParam(c, "id")
		if err != nil {
			AbortWithError(c, ErrNotFound)
			return
		}
		var req addTagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		tagID, err := parseOptionalSnowflakeID(req.TagID)
		if err != nil || tagID == nil {
			AbortWithError(c, newValidationError("tag_id", "invalid_tag", "tag_id is required"))
			return
		}

		if err := s.tagSvc.RequireEntity(c.Request.Context(), nil, entityType, entityID, tenantID); err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.tagSvc.AddTag(c.Request.Context(), nil, entityType, entityID, *tagID, tenantID); err != nil {
			AbortWithError(c, userTagError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (s *Server) RemoveTag(entityType tagdomain.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		entityID, err := parseSnowflakeParam(c, "id")
		if err != nil {
			AbortWithError(c, ErrNotFound)
			return
		}
		tagID, err := parseSnowflakeParam(c, "tag_id")
		if err != nil {
			AbortWithError(c, ErrNotFound)
			return
		}

		if err := s.tagSvc.RequireEntity(c.Request.Context(), nil, entityType, entityID, tenantID); err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.tagSvc.RemoveTag(c.Request.Context(), nil, entityType, entityID, tagID, tenantID); err != nil {
			AbortWithError(c, userTagError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// SetStatus moves the entity to another tag of its status taxonomy.
func (s *Server) SetStatus(entityType tagdomain.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		entityID, err := parseSnowflakeParam(c, "id")
		if err != nil {
			AbortWithError(c, ErrNotFound)
			return
		}
		var req setStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Tag) == "" {
			AbortWithError(c, newValidationError("tag", "required", "tag is required"))
			return
		}

		if err := s.tagSvc.RequireEntity(c.Request.Context(), nil, entityType, entityID, tenantID); err != nil {
			AbortWithError(c, err)
			return
		}
		tag, err := s.tagSvc.SetStatusTag(c.Request.Context(), nil, entityType, entityID, req.Tag, tenantID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "tag": tag})
	}
}

// userTagError treats a caller-supplied tag id outside the tenant as not
// found rather than as missing provisioning.
func userTagError(err error) error {
	if errors.Is(err, tagdomain.ErrTagNotFound) {
		return ErrNotFound
	}
	return err
}
