package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appcfg "github.com/park285/checkmate-server/internal/config"
	"github.com/park285/checkmate-server/internal/captcha"
	"github.com/park285/checkmate-server/internal/httpapi"
	"github.com/park285/checkmate-server/internal/identity"
	"github.com/park285/checkmate-server/internal/match"
	"github.com/park285/checkmate-server/internal/msgcat"
	"github.com/park285/checkmate-server/internal/obslog"
	"github.com/park285/checkmate-server/internal/store"
	"github.com/park285/checkmate-server/internal/store/pgstore"
	"github.com/park285/checkmate-server/internal/store/redisstore"
	"github.com/park285/checkmate-server/internal/watch"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := appcfg.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := obslog.Init(obslog.OptionsFromEnv())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			log.Warn("backend_close", zap.Error(err))
		}
	}()
	st, rdb := be.store, be.events

	signer, err := identity.NewSigner(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	ids := identity.NewService(st, signer,
		identity.WithLogger(log.Named("identity")),
		identity.WithHasher(identity.BcryptHasher{Cost: cfg.BcryptCost}),
		identity.WithRememberFor(cfg.RememberFor()),
	)

	matchOpts := []match.Option{match.WithLogger(log.Named("match")), match.WithSite(cfg.Site)}
	var relay *watch.Relay
	if rdb != nil {
		feed := watch.NewFeed(rdb, watch.WithLogger(log.Named("watch")))
		matchOpts = append(matchOpts, match.WithPublisher(feed))
		relay = watch.NewRelay(feed, log.Named("watch"), originHosts(cfg.AllowedOrigins)...)
	}
	matches := match.NewService(st, matchOpts...)

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}
	captchaOpts := []captcha.Option{captcha.WithLogger(log.Named("captcha"))}
	if cfg.CaptchaEndpoint != "" {
		captchaOpts = append(captchaOpts, captcha.WithEndpoint(cfg.CaptchaEndpoint))
	}
	captchaOpts = append(captchaOpts, captcha.WithMessages(captcha.Messages{
		Fault:   msgs.Text("captcha.fault", nil, captcha.DefaultMessages.Fault),
		Invalid: msgs.Text("captcha.invalid", nil, captcha.DefaultMessages.Invalid),
		Expired: msgs.Text("captcha.expired", nil, captcha.DefaultMessages.Expired),
	}))
	verifier := captcha.New(cfg.CaptchaSecret, cfg.CaptchaSitekey, captchaOpts...)
	if !verifier.Enabled() {
		log.Warn("captcha_disabled")
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Config{
			Matches:        matches,
			Identity:       ids,
			Captcha:        verifier,
			Messages:       msgs,
			Relay:          relay,
			Logger:         log.Named("http"),
			AllowedOrigins: cfg.AllowedOrigins,
			SecureCookies:  cfg.SecureCookies,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http_listen", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		log.Info("http_shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// backend is the configured store plus the redis client that carries
// spectator events. events is nil when no redis is reachable.
type backend struct {
	store   store.Store
	events  *redis.Client
	closers []io.Closer
}

// Close releases everything openBackend opened, newest first.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg *appcfg.AppConfig, log *zap.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case appcfg.DriverPostgres:
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL, log.Named("pgstore"))
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		be := &backend{store: pg, closers: []io.Closer{pg}}
		if cfg.RedisURL == "" {
			return be, nil
		}
		ropts, err := redisstore.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			_ = be.Close()
			return nil, err
		}
		be.events = redis.NewClient(ropts)
		be.closers = append(be.closers, be.events)
		return be, nil
	default:
		rs, err := redisstore.Open(ctx, cfg.RedisURL, redisstore.WithLogger(log.Named("redisstore")))
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		if err := rs.SeedTimers(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("seed timers: %w", err)
		}
		// the store owns its client
		return &backend{store: rs, events: rs.Client(), closers: []io.Closer{rs}}, nil
	}
}

// originHosts turns CORS origins into the host patterns the websocket upgrade expects.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
