package captcha

import (
	"errors"
	"time"

	"github.com/gabriel-ivre/invisible-recaptcha/recaptcha"
)

const (
	DefaultExpireSecs  = 600
	DefaultMaxInflight = 32
	DefaultMaxWait     = 64
)

type Config struct {
	InsertSecret string
	ExpireSecs   int

	// Bounds on concurrent siteverify calls.
	MaxInflight int
	MaxWait     int

	Recaptcha RecaptchaConfig
	Redis     RedisConfig
}

type RecaptchaConfig struct {
	SiteKey   string
	Secret    string
	HideBadge bool
	// Widget language, empty for browser default.
	Lang           string
	Timeout        time.Duration
	ClientIPHeader string
	// Overrides the siteverify endpoint, e.g. for an egress proxy.
	VerifyURL string
}

func (c *RecaptchaConfig) Library() recaptcha.Config {
	return recaptcha.Config{
		SiteKey:        c.SiteKey,
		SecretKey:      c.Secret,
		HideBadge:      c.HideBadge,
		Timeout:        c.Timeout,
		VerifyURL:      c.VerifyURL,
		ClientIPHeader: c.ClientIPHeader,
	}
}

// See https://godoc.org/github.com/go-redis/redis#Options
type RedisConfig struct {
	Network  string
	Addr     string
	Password string
	DB       int
}

func (c *Config) CheckAndFillDefaults() error {
	if c.InsertSecret == "" {
		return errors.New("captcha insert secret not specified")
	}

	if c.Redis.Addr == "" {
		return errors.New("captcha redis address not specified")
	}

	if c.Redis.Network == "" {
		c.Redis.Network = "tcp"
	}

	if c.ExpireSecs <= 0 {
		c.ExpireSecs = DefaultExpireSecs
	}

	if c.MaxInflight <= 0 {
		c.MaxInflight = DefaultMaxInflight
	}

	if c.MaxWait < 0 {
		c.MaxWait = 0
	} else if c.MaxWait == 0 {
		c.MaxWait = DefaultMaxWait
	}

	lib := c.Recaptcha.Library()
	return lib.CheckAndFillDefaults()
}
