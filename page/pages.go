package page

import (
	"html/template"
	"net/http"
)

const (
	TnameLayout   = `layout.html`
	TnameCommon   = `common.html`
	TnameError    = `error.html`
	TnameNotFound = `notfound.html`
	TnameCaptcha  = `captcha.html`
)

type Page interface {
	TemplateName() string
}

type NotFound struct{}

func (NotFound) TemplateName() string { return TnameNotFound }

func (p *NotFound) WriteHeaders(w http.ResponseWriter) error {
	w.WriteHeader(http.StatusNotFound)
	return nil
}

type Error struct {
	Title       string
	ContentHtml string
}

func (Error) TemplateName() string { return TnameError }

type CaptchaErr struct {
	IsNotFound     bool
	IsVerifyFailed bool
}

type Captcha struct {
	Handle     string
	PostAction string

	// Widget markup, placed inside the form.
	RecaptchaHtml template.HTML

	CaptchaErr         CaptchaErr
	InternalErrMessage string

	// Revealed once the challenge is solved.
	VerificationKey string
}

func (Captcha) TemplateName() string { return TnameCaptcha }
