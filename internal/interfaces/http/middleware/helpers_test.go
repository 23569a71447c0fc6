package middleware

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/auth"
	"github.com/saasdash/backend/internal/infrastructure/config"
	"github.com/saasdash/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "middleware-test-secret-32-chars!!"

func newKeyServiceConfigWithSecret(secret string) config.APIKeyConfig {
	return config.APIKeyConfig{
		Secret: secret,
		Issuer: "meter-test",
		Leeway: time.Second,
	}
}

func newKeyService(opts ...auth.Option) *auth.APIKeyService {
	return auth.NewAPIKeyService(newKeyServiceConfigWithSecret(testSecret), opts...)
}

func issueKey(t *testing.T, svc *auth.APIKeyService, in auth.IssueInput) (string, string) {
	t.Helper()
	token, keyID, err := svc.Issue(in)
	require.NoError(t, err)
	return token, keyID
}

// withPrincipal stores p as if APIKeyAuth had run
func withPrincipal(p *auth.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(PrincipalKey, p)
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
	return &entitlement.Customer{
		BaseEntity: shared.NewBaseEntity(),
		ProjectID:  projectID,
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
