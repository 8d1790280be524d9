package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/checkoutgate/api"
	"github.com/jmcleod/checkoutgate/config"
	"github.com/jmcleod/checkoutgate/gate"
	"github.com/jmcleod/checkoutgate/internal/util"
	"github.com/jmcleod/checkoutgate/metrics"
	"github.com/jmcleod/checkoutgate/password"
	"github.com/jmcleod/checkoutgate/token"
)

const sweepInterval = 10 * time.Minute

type serverFlags struct {
	listen   string
	upstream string
	siteURL  string
	dataDir  string
	backend  string
	tlsCert  string
	tlsKey   string
}

func newServerCmd(configPath *string) *cobra.Command {
	var f serverFlags
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the gate in front of the upstream shop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(cmd, *configPath, f)
			if err != nil {
				return err
			}
			return runServer(cmd, cfg)
		},
	}
	cmd.Flags().StringVarP(&f.listen, "listen", "l", "", "Address to listen on (default :8080)")
	cmd.Flags().StringVar(&f.upstream, "upstream", "", "URL of the upstream shop")
	cmd.Flags().StringVar(&f.siteURL, "site-url", "", "Canonical base URL of the site")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "Directory for the bbolt settings store")
	cmd.Flags().StringVar(&f.backend, "storage", "", "Settings store: bbolt, memory or postgres")
	cmd.Flags().StringVar(&f.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	cmd.Flags().StringVar(&f.tlsKey, "tls-key", "", "Path to TLS key file")
	return cmd
}

// loadServerConfig loads the configuration and applies command-line flags,
// which take precedence over the file and the environment.
func loadServerConfig(cmd *cobra.Command, path string, f serverFlags) (*config.Config, error) {
	cfg, err := config.Load(path, func(c *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("listen") {
			c.Server.Listen = f.listen
		}
		if flags.Changed("upstream") {
			c.Server.Upstream = f.upstream
		}
		if flags.Changed("site-url") {
			c.Site.URL = f.siteURL
		}
		if flags.Changed("data-dir") {
			c.Storage.DataDir = f.dataDir
		}
		if flags.Changed("storage") {
			c.Storage.Backend = f.backend
		}
		if flags.Changed("tls-cert") {
			c.Server.TLSCert = f.tlsCert
		}
		if flags.Changed("tls-key") {
			c.Server.TLSKey = f.tlsKey
		}
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, cfg *config.Config) error {
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	repo, closeRepo, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	secret, err := cfg.ServerSecret()
	if err != nil {
		return err
	}
	codec, err := token.NewCodec(secret)
	if err != nil {
		return fmt.Errorf("failed to derive token key: %w", err)
	}
	defer codec.Destroy()
	af, err := gate.NewAntiForgery(secret, gate.AntiForgeryAction)
	if err != nil {
		return fmt.Errorf("failed to derive anti-forgery key: %w", err)
	}
	defer af.Destroy()
	util.WipeBytes(secret)

	hasher := password.Default()
	engine, err := gate.NewEngine(gate.Config{
		SiteURL:         cfg.Site.URL,
		GuardedPath:     cfg.Site.GuardedPath,
		BypassEndpoints: cfg.Site.BypassEndpoints,
		TokenTTL:        cfg.Site.TokenTTL,
	}, repo, codec, hasher, af, gate.WithLogger(logger))
	if err != nil {
		return err
	}

	m := metrics.New()
	m.SetVersion(Version)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithMetrics(m),
		api.WithAdminToken(cfg.Admin.Token),
		api.WithCookieOptions(api.CookieOptions{Domain: cfg.Cookie.Domain, Path: cfg.Cookie.Path}),
		api.WithAsyncPath(cfg.Site.AsyncPath),
		api.WithAssetsPath(cfg.Site.AssetsPath),
		api.WithSubmissionRate(cfg.RateLimit.SubmissionsPerSecond, cfg.RateLimit.Burst),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert", slog.String("type", string(e.Type)),
				slog.Int("count", e.Count), slog.Int("threshold", e.Threshold))
		}),
	}
	if cfg.Server.Upstream != "" {
		target, err := url.Parse(cfg.Server.Upstream)
		if err != nil {
			return fmt.Errorf("invalid upstream URL: %w", err)
		}
		opts = append(opts, api.WithUpstream(api.NewReverseProxy(target, logger)))
	} else {
		logger.Warn("no upstream configured; allowed requests will get 404")
	}
	if cfg.Site.DisableAjaxBypass {
		opts = append(opts, api.WithAjaxParam(""))
	} else {
		opts = append(opts, api.WithAjaxParam(cfg.Site.AjaxParam))
	}
	if cfg.Audit.WebhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookAuthHeader))
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			return err
		}
		opts = append(opts, opt)
	}

	a, err := api.New(engine, gate.NewAdmin(repo, hasher), opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	a.StartSweeper(ctx, sweepInterval)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", a.Router())

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	useTLS := cfg.Server.TLSCert != "" && cfg.Server.TLSKey != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	out := cmd.OutOrStdout()
	printBanner(out)
	fmt.Fprintf(out, "Gating %s%s on %s (storage: %s, upstream: %s)...\n",
		cfg.Site.URL, cfg.Site.GuardedPath, cfg.Server.Listen, cfg.Storage.Backend, cfg.Server.Upstream)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}
