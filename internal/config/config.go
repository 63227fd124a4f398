// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-account/internal/notify"
	"github.com/ovaphlow/pitchfork/service-account/pkg/database"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	MailLog  = "log"
	MailSMTP = "smtp"
)

type Config struct {
	HTTPAddr        string
	PublicBaseURL   string
	JWTSecret       string
	JWTIssuer       string
	SessionTTL      time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	BcryptCost      int
	StoreDriver     string
	Database        database.Config
	Mongo           database.MongoConfig
	MailDriver      string
	SMTP            notify.SMTPConfig
	AllowedOrigins  []string

	// parse failures, reported by Validate
	problems []error
}

// FromEnv reads every variable, falling back to defaults. Malformed values
// are kept as problems for Validate instead of failing here.
func FromEnv() *Config {
	c := &Config{
		HTTPAddr:      env("HTTP_ADDR", "0.0.0.0:8431"),
		PublicBaseURL: env("PUBLIC_BASE_URL", "http://localhost:3000"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     env("JWT_ISSUER", "pitchfork-account"),
		StoreDriver:   strings.ToLower(env("STORE_DRIVER", StorePostgres)),
		Database:      database.ConfigFromEnv(),
		Mongo:         database.MongoConfigFromEnv(),
		MailDriver:    strings.ToLower(env("MAIL_DRIVER", MailLog)),
		SMTP:          notify.SMTPConfigFromEnv(),
	}
	c.SessionTTL = c.duration("SESSION_TTL", 24*time.Hour)
	c.VerificationTTL = c.duration("VERIFICATION_TTL", 24*time.Hour)
	c.ResetTTL = c.duration("RESET_TTL", time.Hour)
	c.BcryptCost = c.integer("BCRYPT_COST", 12)

	for _, o := range strings.Split(env("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}
	return c
}

// Validate returns every configuration problem at once.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.problems...)
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL %q is not an absolute url", c.PublicBaseURL))
	}
	for name, d := range map[string]time.Duration{
		"SESSION_TTL":      c.SessionTTL,
		"VERIFICATION_TTL": c.VerificationTTL,
		"RESET_TTL":        c.ResetTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	switch c.StoreDriver {
	case StorePostgres, StoreMongo, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of postgres, mongo, memory", c.StoreDriver))
	}
	switch c.MailDriver {
	case MailLog:
	case MailSMTP:
		if c.SMTP.Host == "" || c.SMTP.From == "" {
			errs = append(errs, errors.New("MAIL_DRIVER=smtp needs SMTP_HOST and SMTP_FROM (or SMTP_USERNAME)"))
		}
	default:
		errs = append(errs, fmt.Errorf("MAIL_DRIVER %q is not one of log, smtp", c.MailDriver))
	}
	return errors.Join(errs...)
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (c *Config) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (c *Config) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}
