// Package auth verifies the signed API keys presented to the HTTP surface.
//
// An API key is an HS256 JWT carrying the project it belongs to, an optional
// customer it is restricted to and the scopes it grants.
package auth

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/config"
)

// Scopes granted by API keys
const (
	ScopeEntitlementsCheck  = "entitlements:check"
	ScopeEntitlementsRead   = "entitlements:read"
	ScopeUsageRead          = "usage:read"
	ScopeGrantsWrite        = "grants:write"
	ScopeSubscriptionsRead  = "subscriptions:read"
	ScopeSubscriptionsWrite = "subscriptions:write"

	// ScopeAdmin implies every other scope
	ScopeAdmin = "admin"
)

var (
	errMissingProject = shared.ErrUnauthorized.WithMessage("api key has no project")
	errRevoked        = shared.ErrUnauthorized.WithMessage("api key has been revoked")
)

// Claims are the custom claims of an API key
type Claims struct {
	jwt.RegisteredClaims
	ProjectID  string   `json:"project_id"`
	CustomerID string   `json:"customer_id,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
}

// Principal is the verified identity behind a request
type Principal struct {
	KeyID      string
	ProjectID  uuid.UUID
	CustomerID *uuid.UUID
	Scopes     []string
}

// HasScope reports whether the principal was granted scope
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, ScopeAdmin) || slices.Contains(p.Scopes, scope)
}

// CanAccessCustomer reports whether the principal may act on customerID.
// Keys without a customer may act on every customer of their project.
func (p Principal) CanAccessCustomer(customerID uuid.UUID) bool {
	return p.CustomerID == nil || *p.CustomerID == customerID
}

// RevocationList answers whether a key ID was revoked
type RevocationList interface {
	IsRevoked(ctx context.Context, keyID string) (bool, error)
}

// IssueInput describes a new API key
type IssueInput struct {
	ProjectID  uuid.UUID
	CustomerID *uuid.UUID
	Scopes     []string
	// TTL of zero issues a key without expiry
	TTL time.Duration
}

// APIKeyService issues and verifies API keys
type APIKeyService struct {
	secret  []byte
	issuer  string
	leeway  time.Duration
	revoked RevocationList
	now     func() time.Time
}

// Option configures the service
type Option func(*APIKeyService)

// WithRevocationList rejects keys whose ID is on list
func WithRevocationList(list RevocationList) Option {
	return func(s *APIKeyService) {
		s.revoked = list
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *APIKeyService) {
		s.now = now
	}
}

// NewAPIKeyService creates an API key service from configuration
func NewAPIKeyService(cfg config.APIKeyConfig, opts ...Option) *APIKeyService {
	s := &APIKeyService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a new API key and returns it with its key ID
func (s *APIKeyService) Issue(in IssueInput) (token, keyID string, err error) {
	if in.ProjectID == uuid.Nil {
		return "", "", shared.ErrInvalidInput.WithMessage("project ID cannot be empty")
	}
	now := s.now()
	keyID = uuid.New().String()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        keyID,
			Issuer:    s.issuer,
			Subject:   in.ProjectID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		ProjectID: in.ProjectID.String(),
		Scopes:    in.Scopes,
	}
	if in.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(in.TTL))
	}
	if in.CustomerID != nil {
		claims.CustomerID = in.CustomerID.String()
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	return token, keyID, nil
}

// Verify checks the signature, time window, issuer and revocation state of
// token. Every rejection is an UNAUTHORIZED error.
func (s *APIKeyService) Verify(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, shared.ErrUnauthorized.WithMessage("missing api key")
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, shared.ErrUnauthorized.WithMessage("api key has expired")
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, shared.ErrUnauthorized.WithMessage("api key is not yet valid")
		default:
			return nil, shared.ErrUnauthorized.WithMessage("invalid api key")
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, shared.ErrUnauthorized.WithMessage("invalid api key claims")
	}

	principal, err := claims.principal()
	if err != nil {
		return nil, err
	}

	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, principal.KeyID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, errRevoked
		}
	}
	return principal, nil
}

func (c *Claims) principal() (*Principal, error) {
	projectID, err := uuid.Parse(c.ProjectID)
	if err != nil || projectID == uuid.Nil {
		return nil, errMissingProject
	}
	p := &Principal{
		KeyID:     c.ID,
		ProjectID: projectID,
		Scopes:    c.Scopes,
	}
	if c.CustomerID != "" {
		customerID, err := uuid.Parse(c.CustomerID)
		if err != nil {
			return nil, shared.ErrUnauthorized.WithMessage("invalid customer in api key")
		}
		p.CustomerID = &customerID
	}
	return p, nil
}
