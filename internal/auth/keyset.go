package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// KeySetProvider resolves the RSA public keys of a tenant's identity
// namespace. Keys are looked up by key id from the token header.
type KeySetProvider interface {
	PublicKey(ctx context.Context, namespace, keyID string) (*rsa.PublicKey, error)
}

// jwks is the standard key-set document published by the identity provider.
type jwks struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

// HTTPKeySetProvider fetches each namespace's key-set document over HTTPS
// and caches it. Tenants live in separate identity namespaces, so the cache
// is keyed by namespace.
type HTTPKeySetProvider struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]cachedKeys
	ttl   time.Duration
}

type cachedKeys struct {
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewHTTPKeySetProvider(baseURL string, ttl time.Duration) *HTTPKeySetProvider {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &HTTPKeySetProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		cache:   make(map[string]cachedKeys),
		ttl:     ttl,
	}
}

func (p *HTTPKeySetProvider) PublicKey(ctx context.Context, namespace, keyID string) (*rsa.PublicKey, error) {
	p.mu.Lock()
	entry, ok := p.cache[namespace]
	p.mu.Unlock()

	if ok && time.Since(entry.fetchedAt) < p.ttl {
		if key, ok := entry.keys[keyID]; ok {
			return key, nil
		}
		// Unknown kid on a fresh cache usually means rotation; refetch.
	}

	keys, err := p.fetch(ctx, namespace)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[namespace] = cachedKeys{keys: keys, fetchedAt: time.Now()}
	p.mu.Unlock()

	key, ok := keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %s not present in namespace %s", keyID, namespace)
	}
	return key, nil
}

func (p *HTTPKeySetProvider) fetch(ctx context.Context, namespace string) (map[string]*rsa.PublicKey, error) {
	url := fmt.Sprintf("%s/%s/.well-known/jwks.json", p.baseURL, namespace)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch key set for %s: %w", namespace, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch key set for %s: status %d", namespace, resp.StatusCode)
	}

	var doc jwks
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode key set for %s: %w", namespace, err)
	}
	return parseKeys(doc)
}

func parseKeys(doc jwks) (map[string]*rsa.PublicKey, error) {
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.KeyType != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.Modulus)
		if err != nil {
			return nil, fmt.Errorf("key %s: bad modulus: %w", k.KeyID, err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
		if err != nil {
			return nil, fmt.Errorf("key %s: bad exponent: %w", k.KeyID, err)
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
		keys[k.KeyID] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: e,
		}
	}
	return keys, nil
}

// StaticKeySetProvider serves keys from memory, for tests and the local
// development issuer.
type StaticKeySetProvider struct {
	mu   sync.Mutex
	keys map[string]map[string]*rsa.PublicKey
}

func NewStaticKeySetProvider() *StaticKeySetProvider {
	return &StaticKeySetProvider{keys: make(map[string]map[string]*rsa.PublicKey)}
}

func (p *StaticKeySetProvider) Add(namespace, keyID string, key *rsa.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.keys[namespace] == nil {
		p.keys[namespace] = make(map[string]*rsa.PublicKey)
	}
	p.keys[namespace][keyID] = key
}

func (p *StaticKeySetProvider) PublicKey(ctx context.Context, namespace, keyID string) (*rsa.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.keys[namespace][keyID]
	if !ok {
		return nil, fmt.Errorf("key %s not present in namespace %s", keyID, namespace)
	}
	return key, nil
}
