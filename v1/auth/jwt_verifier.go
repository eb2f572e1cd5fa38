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

	"github.com/golang-jwt/jwt/v5"

	"github.com/campus-dx/grant-engine/v1/models"
)

// jwks is the JSON Web Key Set document served by the identity provider.
type jwks struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// VerifierConfig holds the identity provider settings used to validate tokens.
type VerifierConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string
}

// Verifier validates RS256 tokens against the provider's JWKS endpoint and
// extracts the acting user from verified claims.
type Verifier struct {
	config        VerifierConfig
	keys          map[string]*rsa.PublicKey
	keyMutex      sync.RWMutex
	lastFetchTime time.Time
	logger        *slog.Logger
	httpClient    *http.Client
}

// NewVerifier creates a verifier and schedules the initial JWKS fetch in the
// background so a slow identity provider cannot block startup.
func NewVerifier(config VerifierConfig) *Verifier {
	v := &Verifier{
		config: config,
		keys:   make(map[string]*rsa.PublicKey),
		logger: slog.Default(),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	go func() {
		if err := v.fetchJWKS(); err != nil {
			v.logger.Warn("initial JWKS fetch failed", "error", err)
		}
	}()

	return v
}

// fetchJWKS refreshes the cached public keys. Keys younger than an hour are
// kept as is.
func (v *Verifier) fetchJWKS() error {
	v.keyMutex.Lock()
	if time.Since(v.lastFetchTime) < time.Hour && len(v.keys) > 0 {
		v.keyMutex.Unlock()
		return nil
	}
	defer v.keyMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.JWKSURL, nil)
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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var doc jwks
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal JWKS: %w", err)
	}

	v.keys = make(map[string]*rsa.PublicKey)
	for _, key := range doc.Keys {
		if key.Kty != "RSA" {
			continue
		}
		publicKey, err := buildRSAPublicKey(key)
		if err != nil {
			v.logger.Warn("failed to build RSA public key", "kid", key.Kid, "error", err)
			continue
		}
		v.keys[key.Kid] = publicKey
	}

	v.lastFetchTime = time.Now()
	v.logger.Info("JWKS refreshed", "key_count", len(v.keys))

	return nil
}

func buildRSAPublicKey(key jsonWebKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{N: n, E: e}, nil
}

// getPublicKey resolves a key id, refreshing the JWKS once if the kid is
// unknown (key rotation).
func (v *Verifier) getPublicKey(kid string) (*rsa.PublicKey, error) {
	v.keyMutex.RLock()
	key, exists := v.keys[kid]
	v.keyMutex.RUnlock()
	if exists {
		return key, nil
	}

	if err := v.fetchJWKS(); err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}

	v.keyMutex.RLock()
	key, exists = v.keys[kid]
	v.keyMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}

	return key, nil
}

// VerifyToken parses and verifies a token, checking signature, issuer and
// audience.
func (v *Verifier) VerifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("token missing 'kid' header")
		}

		return v.getPublicKey(kid)
	})
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	iss, ok := claims["iss"].(string)
	if !ok {
		return nil, fmt.Errorf("issuer (iss) claim missing or not a string")
	}
	if iss != v.config.Issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", v.config.Issuer, iss)
	}

	aud, ok := claims["aud"].(string)
	if !ok {
		return nil, fmt.Errorf("audience (aud) claim missing or not a string")
	}
	if aud != v.config.Audience {
		return nil, fmt.Errorf("invalid audience: expected %s, got %s", v.config.Audience, aud)
	}

	return token, nil
}

// VerifyTokenAndExtractActor verifies the token and maps its subject and role
// claims onto the acting user.
func (v *Verifier) VerifyTokenAndExtractActor(tokenString string) (models.Actor, error) {
	token, err := v.VerifyToken(tokenString)
	if err != nil {
		return models.Actor{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Actor{}, fmt.Errorf("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return models.Actor{}, fmt.Errorf("subject (sub) claim not found or empty")
	}

	roleClaim, ok := claims["role"].(string)
	if !ok || roleClaim == "" {
		return models.Actor{}, fmt.Errorf("role claim not found or empty")
	}

	role := models.Role(roleClaim)
	if !role.IsValid() {
		return models.Actor{}, fmt.Errorf("unknown role %q", roleClaim)
	}

	return models.Actor{ID: sub, Role: role}, nil
}
