package captcha

import (
	"context"
	"html/template"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gabriel-ivre/invisible-recaptcha/page"
	"github.com/gabriel-ivre/invisible-recaptcha/recaptcha"
)

func TestMain(m *testing.M) {
	err := page.LoadTemplates("../templates", template.FuncMap{
		"static_prefix": func() string { return "/static" },
	})
	if err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	expire  time.Duration
}

func newFakeStore(entries ...*Entry) *fakeStore {
	s := &fakeStore{entries: make(map[string]*Entry)}
	for _, e := range entries {
		s.entries[e.Handle] = e
	}
	return s
}

func (s *fakeStore) Fetch(handle string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[handle]
	if !ok {
		return nil, ErrCaptchaHandleNotFound
	}
	return e, nil
}

func (s *fakeStore) Insert(e *Entry, expire time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Handle]; ok {
		return false, nil
	}
	s.entries[e.Handle] = e
	s.expire = expire
	return true, nil
}

type testEnv struct {
	router   *mux.Router
	store    *fakeStore
	provider *httptest.Server
	handler  *Handler
}

func newTestEnv(t *testing.T, status int, reply string) *testEnv {
	t.Helper()
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(provider.Close)

	cfg := &Config{
		InsertSecret: "insert-secret",
		Redis:        RedisConfig{Addr: "127.0.0.1:6379"},
		Recaptcha: RecaptchaConfig{
			SiteKey:   "SITE",
			Secret:    "SECRET",
			HideBadge: true,
			Lang:      "zh-TW",
		},
	}
	require.NoError(t, cfg.CheckAndFillDefaults())

	lib := cfg.Recaptcha.Library()
	lib.VerifyURL = provider.URL
	rc, err := recaptcha.New(lib)
	require.NoError(t, err)

	store := newFakeStore(&Entry{Handle: "h1", Verify: "V-12345"})
	r := mux.NewRouter()
	h := NewHandler(cfg, r, store, rc, zap.NewNop())
	h.installRoutes(r)

	return &testEnv{router: r, store: store, provider: provider, handler: h}
}

func (e *testEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.RemoteAddr = "203.0.113.5:40000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestCaptchaPage(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, `{"success": true}`)

	rec := env.do(http.MethodGet, "/captcha?handle=h1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `action="/captcha?handle=h1"`)
	assert.Contains(t, body, `data-sitekey="SITE"`)
	assert.Contains(t, body, `api.js?hl=zh-TW`)
	assert.Contains(t, body, `.grecaptcha-badge{display:none;!important}`)
	assert.NotContains(t, body, "SECRET")
	assert.NotContains(t, body, "V-12345")
}

func TestCaptchaUnknownHandle(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, `{"success": true}`)

	for _, target := range []string{
		"/captcha?handle=nope",
		"/captcha",
		"/captcha?handle=" + strings.Repeat("x", MaxCaptchaHandleLength+1),
	} {
		rec := env.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "invalid or has expired", target)
	}
}

func TestCaptchaSolved(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, `{"success": true}`)

	rec := env.do(http.MethodPost, "/captcha?handle=h1", url.Values{
		recaptcha.ResponseField: {"tok"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "V-12345")
}

func TestCaptchaRejected(t *testing.T) {
	tests := []struct {
		desc  string
		reply string
		form  url.Values
	}{
		{desc: "provider says no", reply: `{"success": false}`, form: url.Values{recaptcha.ResponseField: {"tok"}}},
		{desc: "no token", reply: `{"success": true}`, form: url.Values{"x": {"y"}}},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			env := newTestEnv(t, http.StatusOK, test.reply)

			rec := env.do(http.MethodPost, "/captcha?handle=h1", test.form)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "Verification failed")
			assert.NotContains(t, rec.Body.String(), "V-12345")
		})
	}
}

func TestCaptchaProviderDown(t *testing.T) {
	env := newTestEnv(t, http.StatusServiceUnavailable, ``)

	rec := env.do(http.MethodPost, "/captcha?handle=h1", url.Values{
		recaptcha.ResponseField: {"tok"},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "V-12345")
}

func TestCaptchaInsert(t *testing.T) {
	tests := []struct {
		desc string
		form url.Values
		want int
	}{
		{desc: "missing verify", form: url.Values{"secret": {"insert-secret"}, "handle": {"h2"}}, want: http.StatusBadRequest},
		{desc: "long handle", form: url.Values{"secret": {"insert-secret"}, "handle": {strings.Repeat("x", 81)}, "verify": {"v"}}, want: http.StatusBadRequest},
		{desc: "wrong secret", form: url.Values{"secret": {"nope"}, "handle": {"h2"}, "verify": {"v"}}, want: http.StatusForbidden},
		{desc: "existing handle", form: url.Values{"secret": {"insert-secret"}, "handle": {"h1"}, "verify": {"v"}}, want: http.StatusConflict},
		{desc: "inserted", form: url.Values{"secret": {"insert-secret"}, "handle": {"h2"}, "verify": {"v2"}}, want: http.StatusNoContent},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			env := newTestEnv(t, http.StatusOK, `{"success": true}`)

			rec := env.do(http.MethodPost, "/captcha/insert", test.form)
			assert.Equal(t, test.want, rec.Code)
		})
	}

	env := newTestEnv(t, http.StatusOK, `{"success": true}`)
	env.do(http.MethodPost, "/captcha/insert", url.Values{"secret": {"insert-secret"}, "handle": {"h2"}, "verify": {"v2"}})
	e, err := env.store.Fetch("h2")
	require.NoError(t, err)
	assert.Equal(t, "v2", e.Verify)
	assert.Equal(t, DefaultExpireSecs*time.Second, env.store.expire)
}

func TestVerifyAPI(t *testing.T) {
	tests := []struct {
		desc     string
		status   int
		reply    string
		wantCode int
		wantBody string
	}{
		{desc: "ok", status: http.StatusOK, reply: `{"success": true}`, wantCode: http.StatusOK, wantBody: `{"success":true}`},
		{desc: "rejected", status: http.StatusOK, reply: `{"success": false}`, wantCode: http.StatusOK, wantBody: `{"success":false,"status":"verification_failed"}`},
		{desc: "garbage", status: http.StatusOK, reply: `nope`, wantCode: http.StatusOK, wantBody: `{"success":false,"status":"verification_failed"}`},
		{desc: "provider down", status: http.StatusBadGateway, reply: ``, wantCode: http.StatusServiceUnavailable, wantBody: `{"success":false,"status":"provider_unavailable"}`},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			env := newTestEnv(t, test.status, test.reply)

			rec := env.do(http.MethodPost, "/api/verify", url.Values{recaptcha.ResponseField: {"tok"}})
			assert.Equal(t, test.wantCode, rec.Code)
			assert.JSONEq(t, test.wantBody, rec.Body.String())
		})
	}
}

func TestVerifyTooBusy(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, `{"success": true}`)
	env.handler.config.MaxInflight = 1
	env.handler.config.MaxWait = 0

	// Occupy every slot of a fresh gate.
	h := NewHandler(env.handler.config, env.router, env.store, env.handler.recaptcha, zap.NewNop())
	rsv, ok := h.gate.Reserve()
	require.True(t, ok)
	defer rsv.Release()

	req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader("g-recaptcha-response=tok"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err := h.verify(req)
	assert.ErrorIs(t, err, ErrTooBusy)
}

func TestVerifyAPIWaitAbandoned(t *testing.T) {
	tests := []struct {
		desc string
		ctx  func() (context.Context, context.CancelFunc)
	}{
		{desc: "canceled", ctx: func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		}},
		{desc: "deadline", ctx: func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 10*time.Millisecond)
		}},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			env := newTestEnv(t, http.StatusOK, `{"success": true}`)
			env.handler.config.MaxInflight = 1
			env.handler.config.MaxWait = 1

			r := mux.NewRouter()
			h := NewHandler(env.handler.config, r, env.store, env.handler.recaptcha, zap.NewNop())
			h.installRoutes(r)

			// Hold the only slot so the request has to queue.
			rsv, ok := h.gate.Reserve()
			require.True(t, ok)
			defer rsv.Release()

			ctx, cancel := test.ctx()
			defer cancel()
			req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader("g-recaptcha-response=tok")).WithContext(ctx)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"success":false,"status":"provider_unavailable"}`, rec.Body.String())

			_, waiting := h.gate.Inflight()
			assert.Zero(t, waiting)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{
		InsertSecret: "s",
		Redis:        RedisConfig{Addr: "localhost:6379"},
		Recaptcha:    RecaptchaConfig{SiteKey: "k", Secret: "s"},
		MaxWait:      -1,
	}
	require.NoError(t, cfg.CheckAndFillDefaults())
	assert.Equal(t, "tcp", cfg.Redis.Network)
	assert.Equal(t, DefaultExpireSecs, cfg.ExpireSecs)
	assert.Equal(t, DefaultMaxInflight, cfg.MaxInflight)
	assert.Zero(t, cfg.MaxWait)

	missing := &Config{InsertSecret: "s", Redis: RedisConfig{Addr: "x"}}
	assert.ErrorIs(t, missing.CheckAndFillDefaults(), recaptcha.ErrMissingSiteKey)

	assert.Error(t, (&Config{Redis: RedisConfig{Addr: "x"}}).CheckAndFillDefaults())
	assert.Error(t, (&Config{InsertSecret: "s"}).CheckAndFillDefaults())
}
