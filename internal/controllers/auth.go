package controllers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"smilecert/internal/auth"
	"smilecert/internal/middleware"
)

type AuthController struct {
	auth   *auth.Service
	tokens *auth.TokenIssuer
	log    *slog.Logger
}

func NewAuthController(svc *auth.Service, tokens *auth.TokenIssuer, log *slog.Logger) *AuthController {
	return &AuthController{auth: svc, tokens: tokens, log: log}
}

// Step 1: email -> code is generated, stored and mailed
type requestCodePayload struct {
	Email string `json:"email" binding:"required,email"`
}

func (a *AuthController) RequestCode(c *gin.Context) {
	var p requestCodePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.auth.RequestCode(c.Request.Context(), p.Email); err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "code sent to email"})
}

// Step 2: email + code -> access token
type verifyPayload struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

func (a *AuthController) Verify(c *gin.Context) {
	var p verifyPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	subject, err := a.auth.Verify(c.Request.Context(), p.Email, p.Code)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	token, exp, err := a.tokens.Issue(subject)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_at":   exp.UTC(),
		"user":         subject,
		"redirect":     subject.Redirect(),
	})
}

func (a *AuthController) Me(c *gin.Context) {
	s, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no user in context"})
		return
	}
	u, err := a.auth.Me(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.DisplayName(),
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"role":       u.Role,
	}})
}
