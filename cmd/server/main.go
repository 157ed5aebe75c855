// listsmart server entry point.
//
// Every backend (identity provider, document store, revocations, object
// storage) is built here and injected into the HTTP handlers.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/api"
	"github.com/Laboratorynotices/listsmart/internal/auth"
	"github.com/Laboratorynotices/listsmart/internal/config"
	"github.com/Laboratorynotices/listsmart/internal/docstore/backend"
	"github.com/Laboratorynotices/listsmart/internal/identity"
	"github.com/Laboratorynotices/listsmart/internal/mcp"
	"github.com/Laboratorynotices/listsmart/internal/obs"
	"github.com/Laboratorynotices/listsmart/internal/ratelimit"
	"github.com/Laboratorynotices/listsmart/internal/s3client"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
	"github.com/Laboratorynotices/listsmart/internal/shorturl"
	"github.com/Laboratorynotices/listsmart/internal/snapshot"
	"github.com/Laboratorynotices/listsmart/internal/telemetry"
	"github.com/Laboratorynotices/listsmart/internal/web"
)

const shutdownTimeout = 15 * time.Second

func main() {
	obs.Init()
	if err := run(os.Args[1:]); err != nil {
		obs.Pkg("main").Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return err
	}
	if !obs.SetLevel(cfg.LogLevel) {
		obs.Pkg("main").Warn("unknown_log_level", "level", cfg.LogLevel)
	}
	cfg.PrintStartupSummary(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:   cfg.OTLPEndpoint,
		Sampler:    cfg.TraceSampler,
		SamplerArg: cfg.TraceSamplerArg,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 20*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Pkg("main").Info("server_listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	obs.Pkg("main").Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// app is the assembled server: the root handler plus everything that must
// be released on shutdown.
type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			obs.Pkg("main").Warn("close_failed", "error", err)
		}
	}
}

// newApp builds every backend selected by cfg and mounts the routes.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	mux := http.NewServeMux()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	repo := shopping.NewDocRepository(store)

	revocations, err := openRevocations(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := revocations.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	verifier, minter, err := newIdentity(ctx, cfg, revocations, mux)
	if err != nil {
		return nil, err
	}

	gate := auth.NewGate(verifier, auth.GateConfig{
		CookieName: cfg.SessionCookieName,
		Secure:     cfg.RequireSecureCookies(),
	})
	auth.NewSessionHandler(gate, minter, cfg.SessionDuration).RegisterRoutes(mux)

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	a.closers = append(a.closers, func() error { limiter.Stop(); return nil })

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if objects.close != nil {
		a.closers = append(a.closers, objects.close)
	}

	shortLinks := shorturl.NewService(store)
	shortLinks.RegisterRoutes(mux)

	api.NewHandler(gate, repo, api.Options{
		Publisher:  snapshot.NewPublisher(objects.store),
		ShortLinks: shortLinks,
		BaseURL:    cfg.BaseURL,
		Limiter:    limiter,
		Timeout:    cfg.RequestTimeout,
	}).RegisterRoutes(mux)

	renderer, err := web.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	web.NewWebHandler(renderer, gate, repo, web.Config{
		LocalLogin: cfg.NoIDP,
		Firebase: web.FirebaseConfig{
			APIKey:     cfg.FirebaseAPIKey,
			AuthDomain: cfg.FirebaseAuthDomain,
			ProjectID:  cfg.FirebaseProjectID,
			AppID:      cfg.FirebaseAppID,
		},
		Timeout: cfg.RequestTimeout,
	}).RegisterRoutes(mux)
	web.NewStaticHandler().RegisterRoutes(mux)

	mcpServer := mcp.NewServer(repo)
	mcpGated := gate.RequireIdentity(ratelimit.Middleware(limiter, auth.UserIDFromRequest)(mcpServer))
	mountMCPRoute(mux, "/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight carries no cookie.
		if r.Method == http.MethodOptions {
			mcpServer.ServeHTTP(w, r)
			return
		}
		mcpGated.ServeHTTP(w, r)
	}))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	var handler http.Handler = mux
	handler = obs.AccessLogMiddleware("http", handler)
	handler = obs.RecoverMiddleware(handler)
	handler = obs.RequestContextMiddleware(handler)
	handler = telemetry.Middleware(telemetry.DefaultServiceName)(handler)
	a.handler = handler
	return a, nil
}

// mountMCPRoute registers the Streamable HTTP methods on path.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	mux.Handle("GET "+path, handler)
	mux.Handle("POST "+path, handler)
	mux.Handle("DELETE "+path, handler)
	mux.Handle("OPTIONS "+path, handler)
}

func openRevocations(ctx context.Context, cfg *config.Config) (identity.RevocationStore, error) {
	if cfg.RedisURL == "" {
		return identity.NewMemoryRevocations(), nil
	}
	store, err := identity.NewRedisRevocations(ctx, cfg.RedisURL, identity.MaxSessionTTL)
	if err != nil {
		return nil, fmt.Errorf("open revocation store: %w", err)
	}
	return store, nil
}

// newIdentity returns the session verifier and minter. With --no-idp the
// built-in provider signs cookies and publishes its JWKS on mux.
func newIdentity(ctx context.Context, cfg *config.Config, revocations identity.RevocationStore, mux *http.ServeMux) (identity.Verifier, identity.SessionMinter, error) {
	if cfg.NoIDP {
		local, err := identity.NewLocalProvider(cfg.BaseURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("start local identity provider: %w", err)
		}
		local.RegisterRoutes(mux)
		verifier := identity.NewJWTVerifier(identity.VerifierConfig{
			Issuer:      local.Issuer(),
			Audience:    identity.LocalAudience,
			KeySet:      local.KeySet(),
			Revocations: revocations,
		})
		return verifier, local, nil
	}

	minter, err := identity.NewFirebaseMinter(ctx, cfg.FirebaseProjectID, cfg.ServiceAccountJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("init firebase: %w", err)
	}
	keys := identity.NewRemoteKeySet(cfg.SessionJWKSURL,
		telemetry.InstrumentClient(&http.Client{Timeout: 10 * time.Second}), nil)
	verifier := identity.NewJWTVerifier(identity.VerifierConfig{
		Issuer:      cfg.SessionIssuer,
		Audience:    cfg.FirebaseProjectID,
		KeySet:      keys,
		Revocations: revocations,
	})
	return verifier, minter, nil
}

type objectStore struct {
	store snapshot.ObjectStore
	close func() error
}

// openObjectStore returns the share bucket. With --no-s3 an in-process
// gofakes3 server stands in.
func openObjectStore(ctx context.Context, cfg *config.Config) (objectStore, error) {
	if cfg.NoS3 {
		local, err := s3client.StartLocal(ctx, cfg.AWSBucketName)
		if err != nil {
			return objectStore{}, fmt.Errorf("start local s3: %w", err)
		}
		return objectStore{store: local.Client, close: local.Close}, nil
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.AWSBucketName,
		PublicURL:       cfg.AWSPublicURL,
		UsePathStyle:    true,
	})
	if err != nil {
		return objectStore{}, fmt.Errorf("init s3: %w", err)
	}
	return objectStore{store: client}, nil
}
