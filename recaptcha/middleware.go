package recaptcha

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

const (
	StatusVerificationFailed  = "verification_failed"
	StatusProviderUnavailable = "provider_unavailable"
	StatusInternalError       = "internal_error"
)

// Failure describes why Middleware refused a request.
type Failure struct {
	Code   int
	Status string
	Err    error
}

type FailureHandler func(http.ResponseWriter, *http.Request, Failure)

type middlewareConfig struct {
	failureHandler FailureHandler
}

type MiddlewareOption func(*middlewareConfig)

func WithFailureHandler(handler FailureHandler) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if handler != nil {
			cfg.failureHandler = handler
		}
	}
}

// Middleware lets a request through only when it carries a token the provider
// accepts. Rejected challenges get 403, provider failures 503. Any other error,
// such as an unusable VerifyURL, gets 500.
func (r *Recaptcha) Middleware(opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		failureHandler: JSONFailureHandler,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ok, err := r.VerifyRequest(req)
			switch {
			case errors.Is(err, ErrProviderUnavailable):
				r.logger.Warn("siteverify failed", zap.Error(err))
				cfg.failureHandler(w, req, Failure{
					Code:   http.StatusServiceUnavailable,
					Status: StatusProviderUnavailable,
					Err:    err,
				})
			case err != nil:
				r.logger.Error("siteverify request", zap.Error(err))
				cfg.failureHandler(w, req, Failure{
					Code:   http.StatusInternalServerError,
					Status: StatusInternalError,
					Err:    err,
				})
			case !ok:
				cfg.failureHandler(w, req, Failure{
					Code:   http.StatusForbidden,
					Status: StatusVerificationFailed,
				})
			default:
				next.ServeHTTP(w, req)
			}
		})
	}
}

// JSONFailureHandler writes {"success":false,"status":...} with the failure's
// status code.
func JSONFailureHandler(w http.ResponseWriter, _ *http.Request, f Failure) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.Code)
	_ = json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
	}{false, f.Status})
}
