package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/pkg/logger"
)

// Claims is the token payload the platform issues and verifies.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens against the issuing tenant's own key
// set and brokers scoped credentials for the request.
//
// The chain is: peek at the unverified claims for the tenant id, load the
// tenant record, fetch the tenant namespace's public key, verify the
// signature and audience, then assume the tag-scoped role. Every failure
// collapses to ErrUnauthorized; the caller cannot distinguish an unknown
// tenant from a bad signature.
type Authenticator struct {
	dir    directory.TenantDirectory
	keys   KeySetProvider
	broker CredentialsBroker
	log    *logger.Logger
}

func NewAuthenticator(dir directory.TenantDirectory, keys KeySetProvider, broker CredentialsBroker, log *logger.Logger) *Authenticator {
	return &Authenticator{dir: dir, keys: keys, broker: broker, log: log}
}

// Authenticate verifies the bearer token and returns the caller's identity.
func (a *Authenticator) Authenticate(ctx context.Context, bearer string) (domain.Identity, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	if raw == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}

	// Unverified peek: the tenant id decides which key set verifies the
	// token, so it has to be read before any verification can happen.
	peek := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(raw, peek)
	if err != nil || peek.TenantID == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}

	tenant, err := a.dir.Get(ctx, peek.TenantID)
	if err != nil {
		a.log.WarnContext(ctx, "token names unknown tenant", zap.Error(err))
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if !tenant.IsActive {
		return domain.Identity{}, domain.ErrUnauthorized
	}

	claims := &Claims{}
	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	}
	if tenant.AppClientID != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(tenant.AppClientID))
	}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keys.PublicKey(ctx, tenant.KeyNamespace, kid)
	}, parseOpts...)
	if err != nil || !token.Valid {
		a.log.WarnContext(ctx, "token verification failed",
			zap.String("tenant_id", tenant.TenantID),
			zap.Error(err),
		)
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if claims.TenantID != tenant.TenantID {
		// Verified claims must match the peeked tenant.
		return domain.Identity{}, domain.ErrUnauthorized
	}

	creds, err := a.broker.Issue(ctx, tenant.TenantID)
	if err != nil {
		a.log.ErrorContext(ctx, "scoped credential issue failed",
			zap.String("tenant_id", tenant.TenantID),
			zap.Error(err),
		)
		return domain.Identity{}, domain.ErrUnauthorized
	}

	return domain.Identity{
		TenantID:     tenant.TenantID,
		Tier:         tenant.Tier,
		ModelVersion: tenant.ModelVersion,
		Role:         claims.Role,
		Credentials:  creds,
	}, nil
}
