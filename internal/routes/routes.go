package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smilecert/internal/auth"
	"smilecert/internal/controllers"
	"smilecert/internal/middleware"
	"smilecert/internal/models"
)

type Handlers struct {
	Auth         *controllers.AuthController
	Certificates *controllers.CertificateController
	Files        *controllers.FileController
	Tokens       *auth.TokenIssuer
	Logger       *slog.Logger
}

// New builds the engine with every route mounted.
func New(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics())
	if h.Logger != nil {
		r.Use(middleware.RequestLogger(h.Logger))
	}
	SetupRoutes(r, h)
	return r
}

func SetupRoutes(r *gin.Engine, h Handlers) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/auth/request-code", h.Auth.RequestCode) // step 1: email -> code mailed
		api.POST("/auth/verify", h.Auth.Verify)            // step 2: code -> access token

		api.GET("/certificates", h.Certificates.PublicList)
		api.GET("/certificates/:id", h.Certificates.PublicView)
		api.GET("/certificates/:id/pdf", h.Certificates.PDF)
	}

	protected := r.Group("/api")
	protected.Use(middleware.JWTMiddleware(h.Tokens))
	{
		protected.GET("/me", h.Auth.Me)
		protected.GET("/dashboard/certificates", h.Certificates.Mine)
	}

	admin := protected.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/certificates", h.Certificates.List)
		admin.POST("/certificates", h.Certificates.Create)
		admin.GET("/certificates/:id", h.Certificates.Get)
		admin.PUT("/certificates/:id", h.Certificates.Update)
		admin.DELETE("/certificates/:id", h.Certificates.Delete)

		admin.POST("/files", h.Files.Upload)
		admin.DELETE("/files/:id", h.Files.Delete)
	}
}
