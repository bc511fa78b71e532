package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gabriel-ivre/invisible-recaptcha/gate"
	"github.com/gabriel-ivre/invisible-recaptcha/page"
	"github.com/gabriel-ivre/invisible-recaptcha/recaptcha"
)

const (
	CaptchaHandle = `handle`

	MaxCaptchaHandleLength = 80
)

var (
	ErrCaptchaHandleNotFound = &CaptchaErr{
		error:          errors.New("captcha handle not found"),
		SetCaptchaPage: func(p *page.Captcha) { p.CaptchaErr.IsNotFound = true },
	}
	ErrCaptchaVerifyFailed = &CaptchaErr{
		error:          errors.New("captcha verification failed"),
		SetCaptchaPage: func(p *page.Captcha) { p.CaptchaErr.IsVerifyFailed = true },
	}

	ErrTooBusy = errors.New("too many pending captcha verifications")
)

type CaptchaErr struct {
	error
	SetCaptchaPage func(p *page.Captcha)
}

type Handler struct {
	config    *Config
	router    *mux.Router
	store     Store
	recaptcha *recaptcha.Recaptcha
	gate      *gate.Gate
	logger    *zap.Logger
}

// Install registers the captcha routes on r, keeping handles in Redis.
func Install(cfg *Config, r *mux.Router, logger *zap.Logger) error {
	rc, err := recaptcha.New(cfg.Recaptcha.Library(), recaptcha.WithLogger(logger.Named("recaptcha")))
	if err != nil {
		return err
	}
	h := NewHandler(cfg, r, NewRedisStore(cfg.Redis), rc, logger)
	h.installRoutes(r)
	return nil
}

func NewHandler(cfg *Config, r *mux.Router, store Store, rc *recaptcha.Recaptcha, logger *zap.Logger) *Handler {
	return &Handler{
		config:    cfg,
		router:    r,
		store:     store,
		recaptcha: rc,
		gate:      gate.New(cfg.MaxInflight, cfg.MaxWait),
		logger:    logger,
	}
}

func (h *Handler) installRoutes(r *mux.Router) {
	r.Path(`/captcha`).
		Methods(http.MethodGet, http.MethodPost).
		Handler(page.ErrorWrapper(h.handleCaptcha)).
		Name("captcha")

	r.Path(`/captcha/insert`).
		Methods(http.MethodPost).
		Handler(page.ErrorWrapper(h.handleCaptchaInsert)).
		Name("captcha_insert")

	r.Path(`/api/verify`).
		Methods(http.MethodPost).
		Handler(page.ErrorWrapper(h.handleVerify)).
		Name("api_verify")
}

func (h *Handler) handleCaptcha(ctx page.Context, w http.ResponseWriter) error {
	p, err := h.handleCaptchaInternal(ctx, w)
	if err != nil {
		return err
	}
	return page.ExecutePage(w, p)
}

func (h *Handler) handleCaptchaInternal(ctx page.Context, w http.ResponseWriter) (*page.Captcha, error) {
	req := ctx.Request()
	p := &page.Captcha{
		Handle:        req.FormValue(CaptchaHandle),
		RecaptchaHtml: h.recaptcha.RenderHTML(h.config.Recaptcha.Lang),
	}
	if u, err := h.router.Get("captcha").URLPath(); err != nil {
		return nil, err
	} else {
		q := make(url.Values)
		q.Set(CaptchaHandle, p.Handle)
		p.PostAction = u.String() + "?" + q.Encode()
	}
	// Check if the handle is valid.
	if _, err := h.fetchVerificationKey(p.Handle); err != nil {
		return translateCaptchaErr(p, err)
	}
	if req.Method != http.MethodPost {
		return p, nil
	}

	ok, err := h.verify(req)
	if err != nil {
		return nil, err
	}
	if !ok {
		h.logger.Info("captcha rejected", zap.String("handle", p.Handle))
		return translateCaptchaErr(p, ErrCaptchaVerifyFailed)
	}
	p.VerificationKey, err = h.fetchVerificationKey(p.Handle)
	if err != nil {
		return translateCaptchaErr(p, err)
	}
	return p, nil
}

// verify runs one siteverify call under the gate.
func (h *Handler) verify(req *http.Request) (bool, error) {
	rsv, ok := h.gate.Reserve()
	if !ok {
		inflight, waiting := h.gate.Inflight()
		h.logger.Warn("siteverify gate full", zap.Int("inflight", inflight), zap.Int("waiting", waiting))
		return false, ErrTooBusy
	}
	defer rsv.Release()
	if err := rsv.Wait(req.Context()); err != nil {
		return false, err
	}
	return h.recaptcha.VerifyRequest(req)
}

func translateCaptchaErr(p *page.Captcha, err error) (*page.Captcha, error) {
	if ce, ok := err.(*CaptchaErr); ok && ce.SetCaptchaPage != nil {
		ce.SetCaptchaPage(p)
		if p.InternalErrMessage == "" {
			p.InternalErrMessage = fmt.Sprintf("%v", err)
		}
		return p, nil
	}
	return p, err
}

func (h *Handler) fetchVerificationKey(handle string) (string, error) {
	if handle == "" || len(handle) > MaxCaptchaHandleLength {
		return "", ErrCaptchaHandleNotFound
	}
	e, err := h.store.Fetch(handle)
	if err != nil {
		return "", err
	}
	return e.Verify, nil
}

func (h *Handler) handleCaptchaInsert(ctx page.Context, w http.ResponseWriter) error {
	req := ctx.Request()
	secret := req.FormValue("secret")
	handle := req.FormValue("handle")
	verify := req.FormValue("verify")
	if secret == "" || handle == "" || verify == "" || len(handle) > MaxCaptchaHandleLength {
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}
	if secret != h.config.InsertSecret {
		w.WriteHeader(http.StatusForbidden)
		return nil
	}
	expire := time.Duration(h.config.ExpireSecs) * time.Second
	r, err := h.store.Insert(&Entry{
		Handle: handle,
		Verify: verify,
	}, expire)
	if err != nil {
		return err
	}
	if !r {
		w.WriteHeader(http.StatusConflict)
		return nil
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleVerify(ctx page.Context, w http.ResponseWriter) error {
	ok, err := h.verify(ctx.Request())
	switch {
	case errors.Is(err, ErrTooBusy),
		errors.Is(err, recaptcha.ErrProviderUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("verify unavailable", zap.Error(err))
		return page.WriteAjaxRespStatus(w, http.StatusServiceUnavailable, &page.VerifyResp{
			Status: recaptcha.StatusProviderUnavailable,
		})
	case err != nil:
		return err
	}
	resp := &page.VerifyResp{Success: ok}
	if !ok {
		resp.Status = recaptcha.StatusVerificationFailed
	}
	return page.WriteAjaxResp(w, resp)
}
