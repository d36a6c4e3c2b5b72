package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"smilecert/internal/auth"
	"smilecert/internal/models"
)

const subjectKey = "subject"

// TokenParser validates a raw access token.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// JWTMiddleware rejects requests without a valid bearer access token and
// stores the token's subject in the context.
func JWTMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(subjectKey, claims.AsSubject())
		c.Next()
	}
}

// RequireRole lets through only subjects holding one of roles. It must run
// after JWTMiddleware.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		s, ok := SubjectFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		if _, ok := allowed[s.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func SubjectFrom(c *gin.Context) (auth.Subject, bool) {
	v, ok := c.Get(subjectKey)
	if !ok {
		return auth.Subject{}, false
	}
	s, ok := v.(auth.Subject)
	return s, ok
}
