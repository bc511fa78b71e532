package page

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"sync"
)

var (
	// Every page is executed through the ROOT template of the layout.
	sharedFiles = []string{TnameLayout, TnameCommon}
	pageFiles   = []string{TnameError, TnameNotFound, TnameCaptcha}

	tmplMu sync.RWMutex
	tmpl   map[string]*template.Template
)

func parseTemplates(dir string, funcMap template.FuncMap) (map[string]*template.Template, error) {
	shared := make([]string, len(sharedFiles))
	for i, fn := range sharedFiles {
		shared[i] = filepath.Join(dir, fn)
	}
	base, err := template.New("").Funcs(funcMap).ParseFiles(shared...)
	if err != nil {
		return nil, err
	}

	parsed := make(map[string]*template.Template, len(pageFiles))
	for _, fn := range pageFiles {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFiles(filepath.Join(dir, fn)); err != nil {
			return nil, err
		}
		root := t.Lookup("ROOT")
		if root == nil {
			return nil, fmt.Errorf("no ROOT template defined for %s", fn)
		}
		parsed[fn] = root
	}
	return parsed, nil
}

// LoadTemplates parses every page template under dir and swaps them in. Pages
// cannot be executed before it succeeds. On error the previous set stays.
func LoadTemplates(dir string, funcMap template.FuncMap) error {
	parsed, err := parseTemplates(dir, funcMap)
	if err != nil {
		return err
	}
	tmplMu.Lock()
	tmpl = parsed
	tmplMu.Unlock()
	return nil
}

func lookupTemplate(name string) (*template.Template, error) {
	tmplMu.RLock()
	defer tmplMu.RUnlock()
	t, ok := tmpl[name]
	if !ok {
		return nil, fmt.Errorf("template not loaded: %s", name)
	}
	return t, nil
}

type NeedToWriteHeaders interface {
	WriteHeaders(w http.ResponseWriter) error
}

// ExecuteTemplate renders into a buffer first, so nothing reaches w when the
// template fails and the caller can still emit an error page.
func ExecuteTemplate(w http.ResponseWriter, name string, arg interface{}) error {
	var buf bytes.Buffer
	if name != "" {
		t, err := lookupTemplate(name)
		if err != nil {
			return err
		}
		if err := t.Execute(&buf, arg); err != nil {
			return err
		}
	}
	if p, ok := arg.(NeedToWriteHeaders); ok {
		if err := p.WriteHeaders(w); err != nil {
			return err
		}
	}
	_, err := buf.WriteTo(w)
	return err
}

func ExecutePage(w http.ResponseWriter, p Page) error {
	return ExecuteTemplate(w, p.TemplateName(), p)
}
