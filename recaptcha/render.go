package recaptcha

import (
	"html/template"
	"net/url"
	"strings"
)

const (
	containerID     = `_g-recaptcha`
	hideBadgeStyle  = `<style>.grecaptcha-badge{display:none;!important}</style>`
	submitFormFunc  = `_submitForm`
	submitBindingID = `send-btn`
)

// JSURL returns the provider script URL, localized when lang is not empty.
func (r *Recaptcha) JSURL(lang string) string {
	if lang == "" {
		return r.cfg.APIURL
	}
	return r.cfg.APIURL + "?hl=" + url.QueryEscape(lang)
}

// Render returns the markup embedding the invisible widget. It must be placed
// inside the form to protect: once the challenge resolves, the provider calls
// back into the inline script which submits the closest enclosing form.
func (r *Recaptcha) Render(lang string) string {
	var b strings.Builder

	b.WriteString(`<div id="` + containerID + `"></div>` + "\n")
	if r.cfg.HideBadge {
		b.WriteString(hideBadgeStyle + "\n")
	}
	b.WriteString(`<div class="g-recaptcha" data-sitekey="` + template.HTMLEscapeString(r.cfg.SiteKey) + `" `)
	b.WriteString(`data-bind="` + submitBindingID + `" data-callback="` + submitFormFunc + `"></div>`)
	b.WriteString(`<script src="` + template.HTMLEscapeString(r.JSURL(lang)) + `" async defer></script>` + "\n")
	b.WriteString(`<script>var ` + submitFormFunc + `,_captchaForm, _captchaSubmit;</script>`)
	b.WriteString(`<script>window.onload = function(){`)
	b.WriteString(` _captchaForm=document.querySelector("#` + containerID + `").closest("form");`)
	b.WriteString(` _captchaSubmit=_captchaForm.querySelector('[type=submit]');`)
	b.WriteString(submitFormFunc + `=function(){_captchaForm.submit();}}</script>` + "\n")

	return b.String()
}

// RenderHTML is Render for use inside html/template.
func (r *Recaptcha) RenderHTML(lang string) template.HTML {
	return template.HTML(r.Render(lang))
}
