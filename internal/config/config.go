package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"

	ReplacedFilesDelete = "delete"
	ReplacedFilesRetain = "retain"
)

type OTPConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	Backend       string        `yaml:"backend"`
	RequestMax    int           `yaml:"request_max"`
	RequestWindow time.Duration `yaml:"request_window"`
	VerifyMax     int           `yaml:"verify_max"`
	VerifyWindow  time.Duration `yaml:"verify_window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type StorageConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Region     string        `yaml:"region"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	Bucket     string        `yaml:"bucket"`
	UseSSL     bool          `yaml:"use_ssl"`
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

type CertificatesConfig struct {
	ReplacedFiles  string        `yaml:"replaced_files"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ViewCacheSize  int           `yaml:"view_cache_size"`
	ViewCacheTTL   time.Duration `yaml:"view_cache_ttl"`
	PDFFontPath    string        `yaml:"pdf_font_path"`
}

type Config struct {
	Env       string `yaml:"env"`
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DatabaseDSN string `yaml:"database_dsn"`

	JWTSecret           string        `yaml:"jwt_secret"`
	AccessTokenTTL      time.Duration `yaml:"access_token_ttl"`
	BootstrapAdminEmail string        `yaml:"bootstrap_admin_email"`

	OTP          OTPConfig          `yaml:"otp"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Redis        RedisConfig        `yaml:"redis"`
	SMTP         SMTPConfig         `yaml:"smtp"`
	Storage      StorageConfig      `yaml:"storage"`
	Certificates CertificatesConfig `yaml:"certificates"`
}

// Load reads .env (if present), then the optional YAML file named by
// CONFIG_FILE, then environment variables. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.BootstrapAdminEmail = strings.ToLower(strings.TrimSpace(cfg.BootstrapAdminEmail))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		Env:            "development",
		Port:           "8080",
		LogLevel:       "info",
		LogFormat:      "json",
		AccessTokenTTL: 24 * time.Hour,
		OTP:            OTPConfig{TTL: 10 * time.Minute},
		RateLimit: RateLimitConfig{
			Backend:       RateLimitBackendMemory,
			RequestMax:    3,
			RequestWindow: 15 * time.Minute,
			VerifyMax:     5,
			VerifyWindow:  15 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		SMTP: SMTPConfig{Port: 587},
		Storage: StorageConfig{
			UseSSL:     true,
			PresignTTL: time.Hour,
		},
		Certificates: CertificatesConfig{
			ReplacedFiles:  ReplacedFilesDelete,
			MaxUploadBytes: 50 << 20,
			ViewCacheSize:  512,
			ViewCacheTTL:   5 * time.Minute,
		},
	}
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Env, "APP_ENV")
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.DatabaseDSN, "DATABASE_DSN")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.BootstrapAdminEmail, "BOOTSTRAP_ADMIN_EMAIL")

	setString(&c.RateLimit.Backend, "RATE_LIMIT_BACKEND")
	setInt(&c.RateLimit.RequestMax, "OTP_REQUEST_MAX")
	setInt(&c.RateLimit.VerifyMax, "OTP_VERIFY_MAX")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.User, "SMTP_USER")
	setString(&c.SMTP.Password, "SMTP_PASS")
	setString(&c.SMTP.From, "FROM_EMAIL")

	setString(&c.Storage.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.Region, "S3_REGION")
	setString(&c.Storage.AccessKey, "S3_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "S3_SECRET_KEY")
	setString(&c.Storage.Bucket, "S3_BUCKET")
	setBool(&c.Storage.UseSSL, "S3_USE_SSL")

	setString(&c.Certificates.ReplacedFiles, "REPLACED_FILES")
	setInt64(&c.Certificates.MaxUploadBytes, "MAX_UPLOAD_BYTES")
	setInt(&c.Certificates.ViewCacheSize, "VIEW_CACHE_SIZE")
	setString(&c.Certificates.PDFFontPath, "PDF_FONT_PATH")

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.AccessTokenTTL, "ACCESS_TOKEN_TTL"},
		{&c.OTP.TTL, "OTP_TTL"},
		{&c.RateLimit.RequestWindow, "OTP_REQUEST_WINDOW"},
		{&c.RateLimit.VerifyWindow, "OTP_VERIFY_WINDOW"},
		{&c.RateLimit.SweepInterval, "RATE_LIMIT_SWEEP"},
		{&c.Storage.PresignTTL, "S3_PRESIGN_TTL"},
		{&c.Certificates.ViewCacheTTL, "VIEW_CACHE_TTL"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseDSN == "" {
		errs = append(errs, "DATABASE_DSN is required")
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 chars")
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, "ACCESS_TOKEN_TTL must be > 0")
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, "OTP_TTL must be > 0")
	}
	if c.RateLimit.RequestMax <= 0 || c.RateLimit.VerifyMax <= 0 {
		errs = append(errs, "OTP_REQUEST_MAX and OTP_VERIFY_MAX must be > 0")
	}
	if c.RateLimit.RequestWindow <= 0 || c.RateLimit.VerifyWindow <= 0 {
		errs = append(errs, "OTP_REQUEST_WINDOW and OTP_VERIFY_WINDOW must be > 0")
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendMemory:
		if c.RateLimit.SweepInterval <= 0 {
			errs = append(errs, "RATE_LIMIT_SWEEP must be > 0")
		}
	case RateLimitBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "REDIS_ADDR is required for the redis rate limit backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_BACKEND %q is not one of memory, redis", c.RateLimit.Backend))
	}
	if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
		errs = append(errs, "S3_ENDPOINT and S3_BUCKET are required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		errs = append(errs, "S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	switch c.Certificates.ReplacedFiles {
	case ReplacedFilesDelete, ReplacedFilesRetain:
	default:
		errs = append(errs, fmt.Sprintf("REPLACED_FILES %q is not one of delete, retain", c.Certificates.ReplacedFiles))
	}
	if c.Certificates.ViewCacheSize <= 0 {
		errs = append(errs, "VIEW_CACHE_SIZE must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// SMTPEnabled reports whether real mail delivery is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != "" && c.SMTP.User != ""
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
