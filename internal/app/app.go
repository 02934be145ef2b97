// Package app wires all scribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithTemplateStore,
// WithSink, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribe/internal/api"
	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/editor"
	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/mcpserver"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/recorder"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/internal/template"
	"github.com/MrWong99/scribe/pkg/audio/wsmic"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// seedAuthor is recorded as the author of templates imported from seed files.
const seedAuthor = "seed"

// Providers holds the generation backend. Populated by main.go via the
// config registry and [BuildGenerator].
type Providers struct {
	Generator generation.Provider

	// Healthy reports whether the generator accepts work. Nil means always.
	Healthy func() bool
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	logLevel  *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics   *observe.Metrics
	store     template.Store
	templates *template.Service
	sink      editor.DocumentSink
	mic       *wsmic.Hub
	sessions  *editor.Manager
	handler   http.Handler

	mu     sync.Mutex
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTemplateStore injects a template store instead of creating one from
// config.
func WithTemplateStore(s template.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSink injects the document sink instead of creating one from config.
func WithSink(s editor.DocumentSink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects the metric instruments. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the log level through lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: template store connection
// and migration, seed import, document sink, microphone bridge, session
// manager and HTTP routes.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Generator == nil {
		return nil, errors.New("app: a generation provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Templates ─────────────────────────────────────────────────────
	if err := a.initTemplates(ctx); err != nil {
		return nil, fmt.Errorf("app: init templates: %w", err)
	}

	// ── 2. Document sink ─────────────────────────────────────────────────
	if err := a.initSink(); err != nil {
		return nil, fmt.Errorf("app: init sink: %w", err)
	}

	// ── 3. Microphone bridge + sessions ──────────────────────────────────
	a.initSessions()

	// ── 4. HTTP routes ───────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTemplates sets up the template store and imports seed files.
func (a *App) initTemplates(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Templates.PostgresDSN; dsn != "" {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return fmt.Errorf("ping postgres: %w", err)
			}
			pg := template.NewPostgresStore(pool)
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return err
			}
			a.store = pg
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			slog.Info("template store connected", "backend", "postgres")
		} else {
			a.store = template.NewMemStore()
			slog.Warn("template store is in-memory; templates are lost on restart")
		}
	}

	a.templates = template.NewService(a.store,
		template.WithSearchThreshold(a.cfg.Templates.SearchThreshold),
		template.WithConflictHook(func(string) {
			a.metrics.RecordVersionConflict(context.Background())
		}),
	)

	if pattern := a.cfg.Templates.SeedGlob; pattern != "" {
		seeds, err := template.LoadSeedFiles(pattern)
		if err != nil {
			return err
		}
		n, err := a.templates.Import(ctx, seeds, seedAuthor)
		if err != nil {
			return err
		}
		slog.Info("imported template seeds", "pattern", pattern, "seeds", len(seeds), "created", n)
	}
	return nil
}

// initSink chooses the webhook sink when a URL is configured.
func (a *App) initSink() error {
	if a.sink != nil {
		return nil
	}
	docs := a.cfg.Documents
	if docs.WebhookURL == "" {
		a.sink = editor.LogSink{}
		return nil
	}
	opts := []editor.WebhookOption{
		editor.WithWebhookBreaker(resilience.CircuitBreakerConfig{
			Name:          "webhook",
			OnStateChange: breakerTransitions(a.metrics),
		}),
	}
	for k, v := range docs.WebhookHeaders {
		opts = append(opts, editor.WithWebhookHeader(k, v))
	}
	sink, err := editor.NewWebhookSink(docs.WebhookURL, opts...)
	if err != nil {
		return err
	}
	a.sink = sink
	return nil
}

func (a *App) initSessions() {
	var hubOpts []wsmic.Option
	if d := a.cfg.Recorder.AcquireTimeout; d > 0 {
		hubOpts = append(hubOpts, wsmic.WithAcquireTimeout(d))
	}
	if d := a.cfg.Recorder.FlushTimeout; d > 0 {
		hubOpts = append(hubOpts, wsmic.WithFlushTimeout(d))
	}
	if origins := a.cfg.Server.AllowedOrigins; len(origins) > 0 {
		hubOpts = append(hubOpts, wsmic.WithOriginPatterns(origins...))
	}
	a.mic = wsmic.NewHub(hubOpts...)

	a.sessions = editor.NewManager(editor.ManagerConfig{
		Generator:       a.providers.Generator,
		SourceFor:       a.mic.Source,
		Sink:            a.sink,
		Metrics:         a.metrics,
		RecorderOptions: []recorder.Option{recorder.WithTickInterval(a.cfg.Recorder.TickInterval)},
	})
}

// initHTTP registers the API, health, metrics and MCP routes.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	api.New(a.sessions, a.templates, a.mic).Register(mux)

	checks := []health.Checker{health.PingCheck("template_store", a.store)}
	if a.providers.Healthy != nil {
		checks = append(checks, health.StateCheck("generation", a.providers.Healthy))
	}
	if hs, ok := a.sink.(interface{ Healthy() bool }); ok {
		checks = append(checks, health.StateCheck("document_sink", hs.Healthy))
	}
	health.New(checks...).Register(mux)

	mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, promhttp.Handler())

	if a.cfg.MCP.Enabled {
		mux.Handle(a.cfg.MCP.Path, mcpserver.New(a.templates, a.version).Handler())
		slog.Info("mcp server enabled", "path", a.cfg.MCP.Path)
	}

	a.handler = observe.Middleware(a.metrics)(mux)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Templates returns the template service.
func (a *App) Templates() *template.Service { return a.templates }

// Sessions returns the editing session manager.
func (a *App) Sessions() *editor.Manager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then stops accepting
// connections and waits up to the configured shutdown timeout for in-flight
// requests.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable settings of next and logs the
// changes that need a restart. It is meant as a [config.Watcher] callback.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SearchThresholdChanged {
		a.templates.SetSearchThreshold(d.NewSearchThreshold)
		slog.Info("template search threshold changed", "threshold", d.NewSearchThreshold)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every session (releasing microphones) and tears down all
// subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		a.sessions.CloseAll(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
