package controllers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smilecert/internal/auth"
	"smilecert/internal/certificates"
	"smilecert/internal/otp"
	"smilecert/internal/repository"
)

// respondError maps service errors onto status codes. Anything unknown is
// logged and reported as a bare 500.
func respondError(c *gin.Context, log *slog.Logger, err error) {
	var limited *otp.RateLimitedError
	var upload *certificates.UploadFailedError
	switch {
	case errors.As(err, &limited):
		retry := limited.RetryAfter(time.Now())
		c.Header("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     "too many attempts",
			"remaining": limited.Remaining,
			"reset_at":  limited.ResetAt.UTC(),
		})
	case errors.Is(err, certificates.ErrInvalidInput), errors.Is(err, auth.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, certificates.ErrFileInUse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &upload):
		log.Error("upload failed", "reason", upload.Reason, "error", upload.Err)
		c.JSON(http.StatusBadGateway, gin.H{"error": upload.Error()})
	default:
		log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
	_ = c.Error(err)
}
