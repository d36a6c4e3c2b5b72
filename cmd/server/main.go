package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"smilecert/internal/auth"
	"smilecert/internal/cache"
	"smilecert/internal/certificates"
	"smilecert/internal/config"
	"smilecert/internal/controllers"
	"smilecert/internal/db"
	"smilecert/internal/otp"
	"smilecert/internal/pdf"
	"smilecert/internal/ratelimit"
	"smilecert/internal/redis"
	"smilecert/internal/repository"
	"smilecert/internal/routes"
	"smilecert/internal/storage"
	"smilecert/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Open(cfg.DatabaseDSN, logger)
	if err != nil {
		log.Fatal(err)
	}
	repo := repository.New(dbConn)

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer closeLimiter()

	var mailer utils.Mailer = utils.LogMailer{Log: logger}
	if cfg.SMTPEnabled() {
		mailer = utils.NewSMTPClient(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		logger.Warn("SMTP not configured, sign-in codes are written to the log")
	}

	store, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		log.Fatal(err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatal(err)
	}

	codes := otp.NewService(repo.Codes, limiter, otp.Options{TTL: cfg.OTP.TTL, Logger: logger})
	authSvc := auth.NewService(codes, repo.Users, mailer, cfg.BootstrapAdminEmail, logger)
	if err := authSvc.EnsureBootstrapAdmin(ctx); err != nil {
		log.Fatal(err)
	}
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)

	views := cache.NewViewCache(cfg.Certificates.ViewCacheSize, cfg.Certificates.ViewCacheTTL)
	certs := certificates.NewService(repo, store, views, certificates.Options{
		Bucket:         store.Bucket(),
		ReplacedFiles:  cfg.Certificates.ReplacedFiles,
		MaxUploadBytes: cfg.Certificates.MaxUploadBytes,
		Logger:         logger,
	})

	r := routes.New(routes.Handlers{
		Auth:         controllers.NewAuthController(authSvc, tokens, logger),
		Certificates: controllers.NewCertificateController(certs, pdf.NewRenderer(cfg.Certificates.PDFFontPath), logger),
		Files:        controllers.NewFileController(certs, logger),
		Tokens:       tokens,
		Logger:       logger,
	})
	r.MaxMultipartMemory = 32 << 20

	go janitor(ctx, codes, cfg.RateLimit.SweepInterval, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "rate_limit_backend", cfg.RateLimit.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	policies := ratelimit.PoliciesFromConfig(cfg.RateLimit)
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		rdb, err := redis.Init(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return ratelimit.NewRedisLimiter(rdb, "smilecert:ratelimit", policies), func() { _ = rdb.Close() }, nil
	}
	l := ratelimit.NewMemoryLimiter(policies, cfg.RateLimit.SweepInterval, ratelimit.WithLogger(logger))
	return l, func() { _ = l.Close() }, nil
}

// janitor purges expired verification codes until ctx is cancelled.
func janitor(ctx context.Context, codes *otp.Service, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := codes.PurgeExpired(ctx); err != nil {
				logger.Warn("purge expired codes", "error", err)
			}
		}
	}
}
