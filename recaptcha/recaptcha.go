// Package recaptcha renders Google's invisible reCAPTCHA widget and verifies
// the challenge responses it produces.
package recaptcha

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	APIURL        = `https://www.google.com/recaptcha/api.js`
	VerifyURL     = `https://www.google.com/recaptcha/api/siteverify`
	ResponseField = `g-recaptcha-response`

	// Upper bound of a single siteverify round trip.
	DefaultTimeout = 5 * time.Second
)

var (
	ErrMissingSiteKey   = errors.New("recaptcha: site key not specified")
	ErrMissingSecretKey = errors.New("recaptcha: secret key not specified")

	// ErrProviderUnavailable is wrapped by every error caused by failing to
	// talk to the provider: network errors, timeouts and non-2xx responses.
	ErrProviderUnavailable = errors.New("recaptcha: provider unavailable")
)

type Config struct {
	SiteKey   string
	SecretKey string
	HideBadge bool

	// Optional. Zero values select the provider defaults.
	Timeout   time.Duration
	APIURL    string
	VerifyURL string

	// ClientIPHeader names a header, usually X-Forwarded-For, holding the
	// client address when running behind a trusted proxy.
	ClientIPHeader string
}

func (c *Config) CheckAndFillDefaults() error {
	if c.SiteKey == "" {
		return ErrMissingSiteKey
	}

	if c.SecretKey == "" {
		return ErrMissingSecretKey
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.APIURL == "" {
		c.APIURL = APIURL
	}

	if c.VerifyURL == "" {
		c.VerifyURL = VerifyURL
	}

	return nil
}

// Recaptcha holds an immutable configuration and the client used to reach the
// provider. It is safe for concurrent use.
type Recaptcha struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

type Option func(*Recaptcha)

// WithHTTPClient replaces the client used for siteverify calls. The configured
// timeout is not applied to a client supplied this way.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recaptcha) {
		if c != nil {
			r.client = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Recaptcha) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(cfg Config, opts ...Option) (*Recaptcha, error) {
	if err := cfg.CheckAndFillDefaults(); err != nil {
		return nil, err
	}

	r := &Recaptcha{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: cfg.Timeout}
	}
	return r, nil
}

func (r *Recaptcha) SiteKey() string {
	return r.cfg.SiteKey
}
