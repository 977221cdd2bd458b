package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const subjectKey = "auth_subject"

// Middleware handles authentication for protected routes
type Middleware struct {
	service *Service
	logger  zerolog.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(service *Service) *Middleware {
	return &Middleware{
		service: service,
		logger:  service.logger,
	}
}

// Required accepts either an X-API-Key header or an
// "Authorization: Bearer <token>" header and rejects everything else
func (m *Middleware) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-Key"); key != "" {
			subject, err := m.service.CheckKey(key)
			if err != nil {
				m.reject(c, err, "Invalid API key")
				return
			}
			c.Set(subjectKey, subject)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.reject(c, nil, "API key or authorization header required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			m.reject(c, nil, "Invalid authorization format")
			return
		}

		subject, err := m.service.ValidateToken(tokenString)
		if err != nil {
			m.reject(c, err, "Invalid or expired token")
			return
		}

		c.Set(subjectKey, subject)
		c.Next()
	}
}

func (m *Middleware) reject(c *gin.Context, err error, msg string) {
	event := m.logger.Warn().Str("path", c.Request.URL.Path).Str("client", c.ClientIP())
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// Subject returns who the request authenticated as
func Subject(c *gin.Context) (string, bool) {
	v, ok := c.Get(subjectKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
