// Package auth protects the API server with bcrypt-hashed API keys and the
// short-lived tokens issued in exchange for them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "tiktok-extractor"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Config holds the settings of a Service
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
	// APIKeys are bcrypt hashes as produced by HashKey
	APIKeys []string
}

// Service checks API keys and issues and validates tokens
type Service struct {
	keys      [][]byte
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a service. Every configured key must be a bcrypt hash.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}

	keys := make([][]byte, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		if _, err := bcrypt.Cost([]byte(k)); err != nil {
			return nil, fmt.Errorf("api key %d is not a bcrypt hash: %w", i, err)
		}
		keys[i] = []byte(k)
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Service{
		keys:      keys,
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  ttl,
		logger:    logger.With().Str("component", "auth").Logger(),
		now:       time.Now,
	}, nil
}

// HashKey hashes an API key for the auth.api_keys setting
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckKey returns the subject a key authenticates as: "key-N" for the Nth
// configured hash
func (s *Service) CheckKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidCredentials
	}
	for i, hashed := range s.keys {
		if bcrypt.CompareHashAndPassword(hashed, []byte(key)) == nil {
			return fmt.Sprintf("key-%d", i), nil
		}
	}
	return "", ErrInvalidCredentials
}

// IssueToken signs a token for subject, valid for the configured TTL
func (s *Service) IssueToken(subject string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.tokenTTL)

	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	s.logger.Debug().Str("subject", subject).Time("expires", expires).Msg("Token issued")
	return signed, expires, nil
}

// ValidateToken checks the signature, issuer and expiry of a token and
// returns its subject
func (s *Service) ValidateToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
