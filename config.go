package main

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gabriel-ivre/invisible-recaptcha/captcha"
)

type RecaptchadConfig struct {
	Bind              []string
	TemplateDirectory string
	StaticPrefix      string

	Log     LogConfig
	Captcha captcha.Config
}

const (
	DefaultTemplateDirectory = "templates"
	DefaultStaticPrefix      = "/static"

	envPrefix = "RECAPTCHAD"
)

// Keys that may come from the environment alone, e.g.
// RECAPTCHAD_CAPTCHA_RECAPTCHA_SECRET.
var secretKeys = []string{
	"captcha.insertsecret",
	"captcha.recaptcha.sitekey",
	"captcha.recaptcha.secret",
	"captcha.redis.password",
}

func (c *RecaptchadConfig) CheckAndFillDefaults() error {
	if len(c.Bind) == 0 {
		return errors.New("no bind addresses specified")
	}

	if c.TemplateDirectory == "" {
		c.TemplateDirectory = DefaultTemplateDirectory
	}

	if c.StaticPrefix == "" {
		c.StaticPrefix = DefaultStaticPrefix
	}

	return c.Captcha.CheckAndFillDefaults()
}

// loadConfig reads the file at path, letting RECAPTCHAD_* variables override
// it. A .env file in the working directory is loaded first when present.
func loadConfig(path string) (*RecaptchadConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg RecaptchadConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
