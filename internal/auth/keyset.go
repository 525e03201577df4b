package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// keyCacheSize bounds the per-process key cache. Identity providers rotate
// a handful of keys at a time, so this is effectively unbounded in practice.
const keyCacheSize = 32

// jwksDocument is the wire format of a JSON Web Key Set endpoint.
type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

// jwksKey is a single RSA public key entry.
type jwksKey struct {
	KTY string `json:"kty"` // Key type ("RSA")
	Kid string `json:"kid"` // Key identifier
	Use string `json:"use"` // "sig" for signing keys
	N   string `json:"n"`   // Modulus, base64url
	E   string `json:"e"`   // Exponent, base64url
}

// KeySet fetches and caches an issuer's public signing keys.
//
// Keys are cached per key-id and never expire; a lookup for an unknown
// key-id triggers exactly one re-fetch of the key set before failing.
type KeySet struct {
	url    string
	client *http.Client
	logger *slog.Logger

	// Serializes re-fetches so a burst of connects with a fresh key-id
	// hits the endpoint once.
	fetchMu sync.Mutex
	cache   *lru.Cache[string, *rsa.PublicKey]
}

// NewKeySet creates a key set backed by the given JWKS URL.
func NewKeySet(url string, logger *slog.Logger) (*KeySet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, *rsa.PublicKey](keyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}

	return &KeySet{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		cache:  cache,
	}, nil
}

// Key returns the public key for the given key-id.
//
// A cache miss re-fetches the key set once; if the key-id is still unknown
// afterwards the lookup fails with ReasonKeyNotFound. No further retries,
// to bound connect-phase latency.
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := s.cache.Get(kid); ok {
		return key, nil
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if key, ok := s.cache.Get(kid); ok {
		return key, nil
	}

	if err := s.refresh(ctx); err != nil {
		return nil, authErr(ReasonKeyNotFound, err)
	}

	if key, ok := s.cache.Get(kid); ok {
		return key, nil
	}

	return nil, authErr(ReasonKeyNotFound, fmt.Errorf("no key with kid %q at %s", kid, s.url))
}

// refresh fetches the key set and caches every usable RSA key in it.
func (s *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read jwks body: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse jwks: %w", err)
	}

	added := 0
	for _, k := range doc.Keys {
		if k.KTY != "RSA" || k.Kid == "" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}

		pub, err := parseRSAKey(k)
		if err != nil {
			s.logger.Warn("skipping unparseable jwk", "kid", k.Kid, "error", err)
			continue
		}

		s.cache.Add(k.Kid, pub)
		added++
	}

	s.logger.Debug("refreshed key set", "url", s.url, "keys", added)
	return nil
}

// parseRSAKey converts a JWK entry into an *rsa.PublicKey.
func parseRSAKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, fmt.Errorf("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
