package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"smilecert/internal/auth"
	"smilecert/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newRouter(tokens *auth.TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	protected := r.Group("/", JWTMiddleware(tokens))
	protected.GET("/me", func(c *gin.Context) {
		s, _ := SubjectFrom(c)
		c.String(http.StatusOK, s.ID)
	})
	protected.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	tokens := auth.NewTokenIssuer(testSecret, time.Hour)
	r := newRouter(tokens)

	userTok, _, err := tokens.Issue(auth.Subject{ID: "u-1", Email: "u@example.com", Role: models.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, _, _ := auth.NewTokenIssuer("another-secret-another-secret-xx", time.Hour).Issue(auth.Subject{ID: "u-1"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"foreign signature", "Bearer " + other, http.StatusUnauthorized},
		{"valid", "Bearer " + userTok, http.StatusOK},
		{"lowercase scheme", "bearer " + userTok, http.StatusOK},
	}
	for _, tt := range tests {
		w := do(r, "/me", tt.header)
		if w.Code != tt.want {
			t.Fatalf("%s: status %d, want %d", tt.name, w.Code, tt.want)
		}
	}
	if w := do(r, "/me", "Bearer "+userTok); w.Body.String() != "u-1" {
		t.Fatalf("subject not propagated: %q", w.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	tokens := auth.NewTokenIssuer(testSecret, time.Hour)
	r := newRouter(tokens)

	userTok, _, _ := tokens.Issue(auth.Subject{ID: "u-1", Role: models.RoleUser})
	adminTok, _, _ := tokens.Issue(auth.Subject{ID: "a-1", Role: models.RoleAdmin})

	if w := do(r, "/admin", "Bearer "+userTok); w.Code != http.StatusForbidden {
		t.Fatalf("user should be forbidden, got %d", w.Code)
	}
	if w := do(r, "/admin", "Bearer "+adminTok); w.Code != http.StatusNoContent {
		t.Fatalf("admin should pass, got %d", w.Code)
	}

	bare := gin.New()
	bare.GET("/x", RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := do(bare, "/x", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no subject should be unauthorized, got %d", w.Code)
	}
}
