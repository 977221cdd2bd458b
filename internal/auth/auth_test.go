package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T, keys ...string) *Service {
	t.Helper()

	hashes := make([]string, len(keys))
	for i, k := range keys {
		h, err := HashKey(k)
		if err != nil {
			t.Fatalf("HashKey: %v", err)
		}
		hashes[i] = h
	}

	s, err := NewService(Config{JWTSecret: "secret", TokenTTL: time.Hour, APIKeys: hashes}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestNewServiceRejectsPlainKeys(t *testing.T) {
	if _, err := NewService(Config{JWTSecret: "secret", APIKeys: []string{"plain"}}, zerolog.Nop()); err == nil {
		t.Error("Expected an error for a key that is not a bcrypt hash")
	}
	if _, err := NewService(Config{}, zerolog.Nop()); err == nil {
		t.Error("Expected an error without a secret")
	}
}

func TestCheckKey(t *testing.T) {
	s := newTestService(t, "first", "second")

	tests := []struct {
		key     string
		subject string
		err     error
	}{
		{"first", "key-0", nil},
		{"second", "key-1", nil},
		{"third", "", ErrInvalidCredentials},
		{"", "", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		subject, err := s.CheckKey(tt.key)
		if !errors.Is(err, tt.err) || subject != tt.subject {
			t.Errorf("CheckKey(%q) = %q, %v; expected %q, %v", tt.key, subject, err, tt.subject, tt.err)
		}
	}
}

func TestTokens(t *testing.T) {
	s := newTestService(t, "first")

	token, expires, err := s.IssueToken("key-0")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if d := time.Until(expires); d < 59*time.Minute || d > time.Hour {
		t.Errorf("Unexpected expiry in %v", d)
	}

	subject, err := s.ValidateToken(token)
	if err != nil || subject != "key-0" {
		t.Fatalf("ValidateToken = %q, %v", subject, err)
	}

	other, _ := NewService(Config{JWTSecret: "other"}, zerolog.Nop())
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Token signed with another secret accepted: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := s.IssueToken("key-0")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateToken(expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Expected an expired token error, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Issuer: issuer, Subject: "key-0"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateToken(unsigned); err == nil {
		t.Error("Unsigned token accepted")
	}
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t, "first")
	token, _, err := s.IssueToken("key-0")
	if err != nil {
		t.Fatal(err)
	}

	router := gin.New()
	router.GET("/private", NewMiddleware(s).Required(), func(c *gin.Context) {
		subject, _ := Subject(c)
		c.String(http.StatusOK, subject)
	})

	tests := []struct {
		name    string
		headers map[string]string
		code    int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"valid key", map[string]string{"X-API-Key": "first"}, http.StatusOK},
		{"wrong key", map[string]string{"X-API-Key": "wrong"}, http.StatusUnauthorized},
		{"bearer token", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK},
		{"bad token", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"basic auth", map[string]string{"Authorization": "Basic Zmlyc3Q6"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			if tt.code == http.StatusOK && strings.TrimSpace(w.Body.String()) != "key-0" {
				t.Errorf("subject = %q, want key-0", w.Body.String())
			}
		})
	}
}
