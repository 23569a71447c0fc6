package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/auth"
	"github.com/saasdash/backend/internal/interfaces/http/dto"
	"github.com/saasdash/backend/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := middleware.SetupValidator(); err != nil {
		panic(err)
	}
}

// envelope mirrors dto.Response with a raw value for typed decoding
type envelope struct {
	Val json.RawMessage `json:"val"`
	Err *dto.ErrorInfo  `json:"err"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeVal(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	env := decodeEnvelope(t, w)
	require.Nil(t, env.Err, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Val, out))
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Err, w.Body.String())
	return env.Err.Code
}

func adminPrincipal(projectID uuid.UUID) *auth.Principal {
	return &auth.Principal{KeyID: "key-admin", ProjectID: projectID, Scopes: []string{auth.ScopeAdmin}}
}

func customerPrincipal(projectID, customerID uuid.UUID) *auth.Principal {
	return &auth.Principal{KeyID: "key-customer", ProjectID: projectID, CustomerID: &customerID, Scopes: []string{auth.ScopeAdmin}}
}

// withContext stores the principal and customer as the auth middleware would
func withContext(p *auth.Principal, customer *entitlement.Customer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			c.Set(middleware.PrincipalKey, p)
		}
		if customer != nil {
			c.Set(middleware.CustomerKey, customer)
		}
		c.Next()
	}
}

type fakeCustomers map[uuid.UUID]*entitlement.Customer

func (f fakeCustomers) FindByID(_ context.Context, id uuid.UUID) (*entitlement.Customer, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, shared.ErrNotFound.WithMessage("customer not found")
}

func newCustomer(projectID uuid.UUID) *entitlement.Customer {
	return &entitlement.Customer{BaseEntity: shared.NewBaseEntity(), ProjectID: projectID}
}

func newJSONRequest(method, path, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func record(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	return record(r, newJSONRequest(method, path, body))
}

func int64Ptr(v int64) *int64 { return &v }

