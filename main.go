package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gabriel-ivre/invisible-recaptcha/captcha"
	"github.com/gabriel-ivre/invisible-recaptcha/page"
	"github.com/gabriel-ivre/invisible-recaptcha/recaptcha"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "recaptchad",
		Short:        "Invisible reCAPTCHA gateway",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "conf", "config.yaml", "config file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newRenderCmd(&configPath))
	cmd.AddCommand(newVerifyCmd(&configPath))
	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the captcha pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.CheckAndFillDefaults(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logger.Sync()
			zap.ReplaceGlobals(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func newRecaptcha(configPath string) (*recaptcha.Recaptcha, *RecaptchadConfig, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	rc, err := recaptcha.New(cfg.Captcha.Recaptcha.Library())
	if err != nil {
		return nil, nil, err
	}
	return rc, cfg, nil
}

func newRenderCmd(configPath *string) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the widget markup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, cfg, err := newRecaptcha(*configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("lang") {
				lang = cfg.Captcha.Recaptcha.Lang
			}
			fmt.Fprint(cmd.OutOrStdout(), rc.Render(lang))
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "widget language (default from config)")
	return cmd
}

func newVerifyCmd(configPath *string) *cobra.Command {
	var token, ip string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a challenge response token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, _, err := newRecaptcha(*configPath)
			if err != nil {
				return err
			}
			ok, err := rc.VerifyResponse(cmd.Context(), token, ip)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "g-recaptcha-response value")
	cmd.Flags().StringVar(&ip, "ip", "", "client address")
	return cmd
}

func createRouter(cfg *RecaptchadConfig, logger *zap.Logger) (*mux.Router, error) {
	router := mux.NewRouter()
	router.PathPrefix(cfg.StaticPrefix + `/`).Handler(http.StripPrefix(cfg.StaticPrefix+`/`, http.FileServer(http.Dir(filepath.Join(cfg.TemplateDirectory, `static`)))))
	if err := captcha.Install(&cfg.Captcha, router, logger); err != nil {
		return nil, err
	}
	router.NotFoundHandler = page.ErrorWrapper(func(c page.Context, w http.ResponseWriter) error {
		return page.NewNotFoundError(fmt.Errorf("no route: %s", c.Request().URL.Path))
	})
	return router, nil
}

func serve(ctx context.Context, cfg *RecaptchadConfig, logger *zap.Logger) error {
	if err := page.LoadTemplates(cfg.TemplateDirectory, templateFuncMap(cfg)); err != nil {
		return fmt.Errorf("cannot load templates: %w", err)
	}

	router, err := createRouter(cfg, logger)
	if err != nil {
		return err
	}

	svr := &http.Server{
		Handler:        router,
		MaxHeaderBytes: 64 * 1024,
		ReadTimeout:    30 * time.Second,
	}

	errc := make(chan error, len(cfg.Bind))
	for _, addr := range cfg.Bind {
		part := strings.SplitN(addr, ":", 2)
		if len(part) != 2 {
			svr.Close()
			return fmt.Errorf("invalid bind address: %s", addr)
		}
		listener, err := net.Listen(part[0], part[1])
		if err != nil {
			svr.Close()
			return fmt.Errorf("listen failed for address %s: %w", addr, err)
		}
		if part[0] == "unix" {
			// Ignores errors, we can't do anything to those.
			_ = os.Chmod(part[1], 0777)
		}
		logger.Info("listening", zap.String("addr", addr))
		go func() {
			errc <- svr.Serve(listener)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svr.Shutdown(shutdownCtx)
}
