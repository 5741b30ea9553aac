package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/bwmarrin/snowflake"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockTags struct {
	tagdomain.Service
	mock.Mock
}

func (m *mockTags) RequireEntity(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID, tenantID snowflake.ID) error {
	args := m.Called(ctx, tx, entityType, entityID, tenantID)
	return args.Error(0)
}

func (m *mockTags) RemoveTag(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID, tagID, tenantID snowflake.ID) error {
	args := m.Called(ctx, tx, entityType, entityID, tagID, tenantID)
	return args.Error(0)
}

func (m *mockTags) SetStatusTag(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID, name string, tenantID snowflake.ID) (*tagdomain.Tag, error) {
	args := m.Called(ctx, tx, entityType, entityID, name, tenantID)
	tag, _ := args.Get(0).(*tagdomain.Tag)
	return tag, args.Error(1)
}

func TestTagRoutesScopeToTenantAndEntity(t *testing.T) {
	tags := &mockTags{}
	tenantID := snowflake.ID(42)
	tags.On("RemoveTag", mock.Anything, mock.Anything, tagdomain.EntityBooking, snowflake.ID(11), snowflake.ID(77), tenantID).
		Return(nil).Once()
	tags.On("RemoveTag", mock.Anything, mock.Anything, tagdomain.EntityPayment, snowflake.ID(13), snowflake.ID(78), tenantID).
		Return(tagdomain.ErrTagNotFound).Once()
	tags.On("SetStatusTag", mock.Anything, mock.Anything, tagdomain.EntityContact, snowflake.ID(12), "client", tenantID).
		Return(&tagdomain.Tag{ID: 9, Name: "Client"}, nil).Once()
	tags.On("RequireEntity", mock.Anything, mock.Anything, tagdomain.EntityBooking, snowflake.ID(11), tenantID).Return(nil).Once()
	tags.On("RequireEntity", mock.Anything, mock.Anything, tagdomain.EntityPayment, snowflake.ID(13), tenantID).Return(nil).Once()
	tags.On("RequireEntity", mock.Anything, mock.Anything, tagdomain.EntityContact, snowflake.ID(12), tenantID).Return(nil).Once()

	engine := newTestServer(t, &testDeps{tags: tags})

	w := doJSON(t, engine, http.MethodDelete, "/api/bookings/11/tags/77", nil, tenantHeaders)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodDelete, "/api/payments/13/tags/78", nil, tenantHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, engine, http.MethodPut, "/api/contacts/12/status", map[string]any{"tag": "client"}, tenantHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Client"`)

	tags.AssertExpectations(t)
}

func TestTagRoutesRejectBadIDs(t *testing.T) {
	tags := &mockTags{}
	engine := newTestServer(t, &testDeps{tags: tags})

	w := doJSON(t, engine, http.MethodDelete, "/api/bookings/not-an-id/tags/77", nil, tenantHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, engine, http.MethodPut, "/api/contacts/12/status", map[string]any{"tag": "  "}, tenantHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, engine, http.MethodDelete, "/api/bookings/11/tags/77", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, tags.Calls)
}

func TestTagRoutesRequireTenantEntity(t *testing.T) {
	tags := &mockTags{}
	tenantID := snowflake.ID(42)
	tags.On("RequireEntity", mock.Anything, mock.Anything, mock.Anything, snowflake.ID(404), tenantID).
		Return(tagdomain.ErrEntityNotFound).Times(3)
	engine := newTestServer(t, &testDeps{tags: tags})

	w := doJSON(t, engine, http.MethodPut, "/api/invoices/404/status", map[string]any{"tag": "Paid"}, tenantHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/api/contacts/404/tags", map[string]any{"tag_id": "77"}, tenantHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, engine, http.MethodDelete, "/api/bookings/404/tags/77", nil, tenantHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)

	tags.AssertExpectations(t)
	tags.AssertNotCalled(t, "SetStatusTag", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tags.AssertNotCalled(t, "RemoveTag", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
