package main

import (
	"html/template"
)

func templateFuncMap(cfg *RecaptchadConfig) template.FuncMap {
	return template.FuncMap{
		"static_prefix": func() string {
			return cfg.StaticPrefix
		},
	}
}
