package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appentitlement "github.com/saasdash/backend/internal/application/entitlement"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGrants struct{ mock.Mock }

func (m *mockGrants) SetOverride(ctx context.Context, customerID uuid.UUID, in appentitlement.GrantInput) (*entitlement.CustomerGrant, error) {
	args := m.Called(ctx, customerID, in)
	g, _ := args.Get(0).(*entitlement.CustomerGrant)
	return g, args.Error(1)
}

func (m *mockGrants) AddAddon(ctx context.Context, customerID uuid.UUID, in appentitlement.GrantInput) (*entitlement.CustomerGrant, error) {
	args := m.Called(ctx, customerID, in)
	g, _ := args.Get(0).(*entitlement.CustomerGrant)
	return g, args.Error(1)
}

func (m *mockGrants) RemoveGrant(ctx context.Context, customerID, grantID uuid.UUID) error {
	return m.Called(ctx, customerID, grantID).Error(0)
}

func (m *mockGrants) ListGrants(ctx context.Context, customerID uuid.UUID) ([]*entitlement.CustomerGrant, error) {
	args := m.Called(ctx, customerID)
	g, _ := args.Get(0).([]*entitlement.CustomerGrant)
	return g, args.Error(1)
}

func grantEngine(grants GrantManager, customer *entitlement.Customer) *gin.Engine {
	h := NewGrantHandler(grants)
	r := gin.New()
	g := r.Group("/customers/:id", withContext(adminPrincipal(customer.ProjectID), customer))
	g.GET("/grants", h.List)
	g.PUT("/overrides/:slug", h.SetOverride)
	g.POST("/addons", h.AddAddon)
	g.DELETE("/grants/:grantId", h.Remove)
	return r
}

func newGrant(t *testing.T, customer *entitlement.Customer, slug string, kind entitlement.GrantKind, limit *int64) *entitlement.CustomerGrant {
	t.Helper()
	g, err := entitlement.NewCustomerGrant(customer.ID, customer.ProjectID, slug, kind, limit, nil)
	require.NoError(t, err)
	return g
}

func TestGrantHandler_SetOverride(t *testing.T) {
	customer := newCustomer(uuid.New())
	base := "/customers/" + customer.ID.String()

	t.Run("limited override", func(t *testing.T) {
		grants := new(mockGrants)
		expires := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
		grants.On("SetOverride", mock.Anything, customer.ID, mock.MatchedBy(func(in appentitlement.GrantInput) bool {
			return in.FeatureSlug == "api-calls" && in.Limit != nil && *in.Limit == 5000 &&
				in.ExpiresAt != nil && in.ExpiresAt.Equal(expires) && in.ExpiresAt.Location() == time.UTC
		})).Return(newGrant(t, customer, "api-calls", entitlement.GrantOverride, int64Ptr(5000)), nil)

		w := serve(grantEngine(grants, customer), http.MethodPut, base+"/overrides/api-calls",
			`{"limit":5000,"expires_at":"2026-12-01T01:00:00+01:00"}`)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp GrantResponse
		decodeVal(t, w, &resp)
		assert.Equal(t, "override", resp.Kind)
		assert.Equal(t, int64(5000), *resp.Limit)
		grants.AssertExpectations(t)
	})

	t.Run("unlimited override", func(t *testing.T) {
		grants := new(mockGrants)
		grants.On("SetOverride", mock.Anything, customer.ID, appentitlement.GrantInput{FeatureSlug: "seats"}).
			Return(newGrant(t, customer, "seats", entitlement.GrantOverride, nil), nil)

		w := serve(grantEngine(grants, customer), http.MethodPut, base+"/overrides/seats", `{"unlimited":true}`)

		require.Equal(t, http.StatusOK, w.Code)
		var resp GrantResponse
		decodeVal(t, w, &resp)
		assert.Nil(t, resp.Limit)
	})

	for name, body := range map[string]string{
		"neither":  `{}`,
		"both":     `{"limit":1,"unlimited":true}`,
		"negative": `{"limit":-1}`,
	} {
		t.Run(name, func(t *testing.T) {
			grants := new(mockGrants)
			w := serve(grantEngine(grants, customer), http.MethodPut, base+"/overrides/seats", body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, shared.CodeInvalidInput, errCode(t, w))
			grants.AssertNotCalled(t, "SetOverride", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGrantHandler_AddAddon(t *testing.T) {
	customer := newCustomer(uuid.New())
	base := "/customers/" + customer.ID.String()

	grants := new(mockGrants)
	grants.On("AddAddon", mock.Anything, customer.ID, appentitlement.GrantInput{FeatureSlug: "api-calls", Limit: int64Ptr(250)}).
		Return(newGrant(t, customer, "api-calls", entitlement.GrantAddon, int64Ptr(250)), nil)

	w := serve(grantEngine(grants, customer), http.MethodPost, base+"/addons", `{"feature_slug":"api-calls","limit":250}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp GrantResponse
	decodeVal(t, w, &resp)
	assert.Equal(t, "addon", resp.Kind)
	assert.Equal(t, customer.ID, resp.CustomerID)

	w = serve(grantEngine(grants, customer), http.MethodPost, base+"/addons", `{"feature_slug":"Bad Slug","limit":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	grants.AssertNumberOfCalls(t, "AddAddon", 1)
}

func TestGrantHandler_Remove(t *testing.T) {
	customer := newCustomer(uuid.New())
	base := "/customers/" + customer.ID.String()
	grantID := uuid.New()

	grants := new(mockGrants)
	grants.On("RemoveGrant", mock.Anything, customer.ID, grantID).Return(nil).Once()
	grants.On("RemoveGrant", mock.Anything, customer.ID, mock.Anything).Return(shared.ErrNotFound.WithMessage("grant not found"))

	r := grantEngine(grants, customer)
	w := serve(r, http.MethodDelete, base+"/grants/"+grantID.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(r, http.MethodDelete, base+"/grants/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodDelete, base+"/grants/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, shared.CodeInvalidInput, errCode(t, w))
}

func TestGrantHandler_List(t *testing.T) {
	customer := newCustomer(uuid.New())

	grants := new(mockGrants)
	grants.On("ListGrants", mock.Anything, customer.ID).Return([]*entitlement.CustomerGrant{
		newGrant(t, customer, "api-calls", entitlement.GrantOverride, int64Ptr(10)),
		newGrant(t, customer, "seats", entitlement.GrantAddon, int64Ptr(2)),
	}, nil)

	w := serve(grantEngine(grants, customer), http.MethodGet, "/customers/"+customer.ID.String()+"/grants", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp []GrantResponse
	decodeVal(t, w, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, "seats", resp[1].FeatureSlug)
}
