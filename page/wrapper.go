package page

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

type Context interface {
	Request() *http.Request
}

type context struct {
	req *http.Request
}

func (c *context) Request() *http.Request {
	return c.req
}

func setCommonResponseHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Server", "recaptchad")
	h.Set("Content-Type", "text/html; charset=utf-8")
}

// ErrorWrapper adapts a page handler to http.Handler. A returned error that is
// also a Page is rendered as that page; any other error becomes a 500.
type ErrorWrapper func(Context, http.ResponseWriter) error

func (fn ErrorWrapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCommonResponseHeaders(w)

	if err := fn(&context{req: r}, w); err != nil {
		if pg, ok := err.(Page); ok {
			if err = ExecutePage(w, pg); err != nil {
				zap.L().Error("failed to emit error page", zap.Error(err))
			}
			return
		}
		internalError(w, r, err)
	}
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
	w.WriteHeader(http.StatusInternalServerError)
	if err := ExecutePage(w, &Error{
		Title:       `500 - Internal Server Error`,
		ContentHtml: `500 - Internal Server Error / Server Too Busy.`,
	}); err != nil {
		zap.L().Error("failed to emit error page", zap.Error(err))
	}
}

type NotFoundError struct {
	NotFound
	UnderlyingErr error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found error page: %v", e.UnderlyingErr)
}

func NewNotFoundError(err error) *NotFoundError {
	return &NotFoundError{
		UnderlyingErr: err,
	}
}
