package auth

import (
	"context"
	"crypto/rsa"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
)

// Issuer mints RS256 tokens for tenant admins. It is the development
// stand-in for the external identity provider: callers present the tenant
// name plus the admin email and receive a token the Authenticator accepts.
type Issuer struct {
	dir       directory.TenantDirectory
	key       *rsa.PrivateKey
	keyID     string
	issuer    string
	accessTTL time.Duration
}

func NewIssuer(dir directory.TenantDirectory, key *rsa.PrivateKey, keyID, issuer string, accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &Issuer{
		dir:       dir,
		key:       key,
		keyID:     keyID,
		issuer:    issuer,
		accessTTL: accessTTL,
	}
}

// PublicKey exposes the signing key's public half so the key-set provider
// can serve it.
func (i *Issuer) PublicKey() *rsa.PublicKey {
	return &i.key.PublicKey
}

// KeyID returns the signing key id placed in token headers.
func (i *Issuer) KeyID() string {
	return i.keyID
}

// IssueToken authenticates the tenant admin by name and email and returns a
// signed bearer token. Lookup and identity mismatches all collapse to
// ErrUnauthorized.
func (i *Issuer) IssueToken(ctx context.Context, tenantName, email string) (string, error) {
	tenants, err := i.dir.List(ctx)
	if err != nil {
		return "", domain.ErrUnauthorized
	}
	var tenant *domain.Tenant
	for _, t := range tenants {
		if strings.EqualFold(t.Name, tenantName) {
			tenant = t
			break
		}
	}
	if tenant == nil || !tenant.IsActive {
		return "", domain.ErrUnauthorized
	}
	if !strings.EqualFold(tenant.AdminEmail, email) {
		return "", domain.ErrUnauthorized
	}

	now := time.Now()
	claims := &Claims{
		TenantID: tenant.TenantID,
		Role:     "tenant-admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   email,
			Audience:  jwt.ClaimStrings{tenant.AppClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.keyID
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", err
	}
	return signed, nil
}
