package domain

import "time"

// ScopedCredentials are short-lived credentials restricted to a single
// tenant's object prefix. Issued per request during authentication and
// handed to the storage and serving clients.
type ScopedCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Zero reports whether no credentials were issued.
func (c ScopedCredentials) Zero() bool {
	return c.AccessKeyID == "" && c.SecretAccessKey == "" && c.SessionToken == ""
}

// Identity is the authenticated caller attached to a request after the
// bearer token verifies. Everything downstream trusts this struct, never
// the raw token.
type Identity struct {
	TenantID     string
	Tier         Tier
	ModelVersion int64
	Role         string
	Credentials  ScopedCredentials
}
