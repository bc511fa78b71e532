package page

import (
	"errors"
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestTemplates(t *testing.T) {
	t.Helper()
	require.NoError(t, LoadTemplates("../templates", template.FuncMap{
		"static_prefix": func() string { return "/static" },
	}))
}

func TestLoadTemplatesMissingDir(t *testing.T) {
	assert.Error(t, LoadTemplates(t.TempDir(), nil))
}

func TestExecuteUnknownTemplate(t *testing.T) {
	loadTestTemplates(t)

	err := ExecuteTemplate(httptest.NewRecorder(), "nope.html", nil)
	assert.Error(t, err)
}

type brokenPage struct{}

func (brokenPage) TemplateName() string { return TnameCaptcha }

func TestLoadTemplatesKeepsPrevious(t *testing.T) {
	loadTestTemplates(t)
	require.Error(t, LoadTemplates(t.TempDir(), nil))

	rec := httptest.NewRecorder()
	require.NoError(t, ExecutePage(rec, &NotFound{}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteTemplateFailureWritesNothing(t *testing.T) {
	loadTestTemplates(t)

	rec := httptest.NewRecorder()
	// The captcha page reads fields an Error page does not have.
	err := ExecuteTemplate(rec, TnameCaptcha, &Error{Title: "x"})
	require.Error(t, err)
	assert.Zero(t, rec.Body.Len())
	assert.False(t, rec.Flushed)
}

func TestErrorWrapper(t *testing.T) {
	loadTestTemplates(t)

	tests := []struct {
		desc     string
		fn       ErrorWrapper
		wantCode int
		wantBody string
	}{
		{
			desc: "page",
			fn: func(c Context, w http.ResponseWriter) error {
				return ExecutePage(w, &Captcha{
					RecaptchaHtml: template.HTML(`<div id="_g-recaptcha"></div>`),
					PostAction:    c.Request().URL.Path,
				})
			},
			wantCode: http.StatusOK,
			wantBody: `<div id="_g-recaptcha"></div>`,
		},
		{
			desc: "not found",
			fn: func(Context, http.ResponseWriter) error {
				return NewNotFoundError(errors.New("gone"))
			},
			wantCode: http.StatusNotFound,
			wantBody: "404 - Not Found.",
		},
		{
			desc: "broken page",
			fn: func(_ Context, w http.ResponseWriter) error {
				return ExecutePage(w, brokenPage{})
			},
			wantCode: http.StatusInternalServerError,
			wantBody: "500 - Internal Server Error",
		},
		{
			desc: "internal",
			fn: func(Context, http.ResponseWriter) error {
				return errors.New("boom")
			},
			wantCode: http.StatusInternalServerError,
			wantBody: "500 - Internal Server Error",
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			rec := httptest.NewRecorder()
			test.fn.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/captcha", nil))

			assert.Equal(t, test.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), test.wantBody)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWriteAjaxResp(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteAjaxRespStatus(rec, http.StatusServiceUnavailable, &VerifyResp{Status: "provider_unavailable"}))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"status":"provider_unavailable"}`, rec.Body.String())
}
