// Package server wires the GraphQL demo APIs, their caches and the gateway
// middleware into one HTTP server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/FormidableLabs/trygql/internal/apis/colors"
	"github.com/FormidableLabs/trygql/internal/apis/npm"
	"github.com/FormidableLabs/trygql/internal/apis/pokedex"
	"github.com/FormidableLabs/trygql/internal/cache"
	"github.com/FormidableLabs/trygql/internal/coalesce"
	"github.com/FormidableLabs/trygql/internal/config"
	"github.com/FormidableLabs/trygql/internal/fetch"
	"github.com/FormidableLabs/trygql/internal/metrics"
	"github.com/FormidableLabs/trygql/internal/middleware"
	"github.com/FormidableLabs/trygql/internal/resolvercache"
	"github.com/FormidableLabs/trygql/internal/schema"
	"github.com/FormidableLabs/trygql/internal/tracing"
)

// Routes served by the gateway.
const (
	RouteHealth        = "/health"
	RoutePokedex       = "/graphql/basic-pokedex"
	RouteColors        = "/graphql/intermittent-colors"
	RouteRelayNPM      = "/graphql/relay-npm"
	RouteResolverCache = "/cache/resolvers"
)

// Options carries dependencies that tests and main inject.
type Options struct {
	Logger *slog.Logger
	// Store replaces the store selected by the cache config.
	Store cache.Store
	// ColorRandom is the failure source of the intermittent-colors API.
	ColorRandom func() float64
	HTTPClient  *http.Client
}

// Server is the trygql gateway.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracing   *tracing.Provider
	store     cache.Store
	closers   []func() error
	resolvers *resolvercache.Plugin
	handler   http.Handler
	http      *http.Server
}

// New builds the server from cfg without listening.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger}

	if cfg.Metrics.Prometheus.Enabled {
		s.metrics = metrics.New()
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: tracing.DefaultConfig().ServiceVersion,
		SampleRate:     cfg.Tracing.SampleRate,
		BatchTimeout:   config.ParseDuration(cfg.Tracing.BatchTimeout, 5*time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	s.tracing = tp
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	if err := s.openStore(ctx, opts.Store); err != nil {
		s.Close()
		return nil, err
	}

	if s.metrics != nil {
		if reporter, ok := s.store.(cache.StatsReporter); ok {
			if err := s.metrics.RegisterStore(cfg.Cache.Backend, reporter); err != nil {
				s.Close()
				return nil, err
			}
		}
	}

	if err := s.buildResolverCache(); err != nil {
		s.Close()
		return nil, err
	}

	mux, err := s.routes(opts)
	if err != nil {
		s.Close()
		return nil, err
	}

	headers := middleware.DefaultSecurityHeadersConfig()
	headers.Region = cfg.Server.Region
	headers.AllowOrigin = cfg.CORS.AllowOrigin

	s.handler = middleware.Chain(mux,
		middleware.RecoveryMiddleware(logger),
		middleware.AccessLogMiddleware(middleware.AccessLogConfig{
			Logger:     logger,
			SkipPaths:  []string{RouteHealth, cfg.Metrics.Prometheus.Path},
			LogHeaders: []string{"User-Agent"},
		}),
		middleware.SecurityHeadersMiddleware(headers),
		middleware.CORSMiddleware(middleware.CORSConfig{
			AllowedMethods:   cfg.CORS.AllowMethods,
			AllowedHeaders:   cfg.CORS.AllowHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}),
		middleware.BodyLimitMiddleware(middleware.BodyLimitConfig{
			MaxSize: config.ParseSize(cfg.Server.MaxBodySize, middleware.DefaultMaxBodySize),
		}),
	)

	return s, nil
}

// openStore selects the backing store. The resolver cache and the upstream
// response caches share it under separate namespaces.
func (s *Server) openStore(ctx context.Context, override cache.Store) error {
	if override != nil {
		s.store = override
		return nil
	}

	switch s.cfg.Cache.Backend {
	case config.BackendRedis:
		rs, err := cache.NewRedis(ctx, cache.RedisConfig{
			URL:         s.cfg.Cache.RedisURL,
			DialTimeout: config.ParseDuration(s.cfg.Cache.DialTimeout, 5*time.Second),
		})
		if err != nil {
			return fmt.Errorf("opening redis cache: %w", err)
		}
		s.store = rs
		s.closers = append(s.closers, rs.Close)
		s.logger.Info("using redis cache")
	default:
		s.store = cache.NewMemory(cache.MemoryConfig{
			CleanupInterval: config.ParseDuration(s.cfg.Cache.CleanupInterval, time.Minute),
		})
		s.logger.Info("using in-memory cache")
	}
	return nil
}

func (s *Server) buildResolverCache() error {
	rc := resolvercache.Config{
		Store:     s.store,
		Namespace: s.cfg.Cache.Namespace,
		Logger:    s.logger,
		Tracer:    s.tracing.Tracer(),
	}
	if s.metrics != nil {
		rc.Recorder = s.metrics
	}
	if s.cfg.Cache.Coalesce.Enabled {
		rc.Coalesce = coalesce.New(coalesce.Config{
			MaxWaiters: s.cfg.Cache.Coalesce.MaxWaiters,
			Timeout:    config.ParseDuration(s.cfg.Cache.Coalesce.Timeout, 30*time.Second),
			Logger:     s.logger,
		})
		if s.metrics != nil {
			if err := s.metrics.RegisterCoalescer(rc.Coalesce); err != nil {
				return err
			}
		}
	}

	p, err := resolvercache.New(rc)
	if err != nil {
		return fmt.Errorf("creating resolver cache: %w", err)
	}
	s.resolvers = p
	return nil
}

// upstream creates the fetch client for one upstream API.
func (s *Server) upstream(name, defaultURL string, httpClient *http.Client) (*fetch.Client, error) {
	uc := s.cfg.Upstream(name)
	if uc.BaseURL == "" {
		uc.BaseURL = defaultURL
	}

	fc := fetch.Config{
		Name:        name,
		BaseURL:     uc.BaseURL,
		Store:       s.store,
		Timeout:     config.ParseDuration(uc.Timeout, 10*time.Second),
		DefaultTTL:  config.ParseDuration(uc.DefaultTTL, 0),
		MaxBodySize: config.ParseSize(uc.MaxResponseSize, fetch.DefaultMaxBodySize),
		Breaker: fetch.NewBreaker(
			int64(uc.Circuit.FailureThreshold),
			int64(uc.Circuit.SuccessThreshold),
			config.ParseDuration(uc.Circuit.Timeout, 30*time.Second),
		),
		HTTPClient: httpClient,
		Logger:     s.logger,
	}
	if s.metrics != nil {
		fc.Recorder = s.metrics
	}

	client, err := fetch.New(fc)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		breaker := client.Breaker()
		if err := s.metrics.RegisterCircuitBreaker(name, func() int { return int(breaker.State()) }); err != nil {
			return nil, fmt.Errorf("registering %s breaker: %w", name, err)
		}
	}

	return client, nil
}

func (s *Server) routes(opts Options) (*http.ServeMux, error) {
	mux := http.NewServeMux()

	dex, err := pokedex.Load()
	if err != nil {
		return nil, fmt.Errorf("loading pokedex: %w", err)
	}
	pokedexSchema, err := pokedex.NewSchema(s.builder(), dex)
	if err != nil {
		return nil, fmt.Errorf("building %s schema: %w", RoutePokedex, err)
	}

	colorAPI, err := colors.New(colors.Config{Random: opts.ColorRandom})
	if err != nil {
		return nil, fmt.Errorf("loading colors: %w", err)
	}
	colorsSchema, err := colors.NewSchema(s.builder(), colorAPI)
	if err != nil {
		return nil, fmt.Errorf("building %s schema: %w", RouteColors, err)
	}

	registryClient, err := s.upstream("npm", npm.DefaultRegistryURL, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	skypackClient, err := s.upstream("skypack", npm.DefaultSkypackURL, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	npmSchema, err := npm.NewSchema(s.builder(), npm.NewRegistry(registryClient), npm.NewSkypack(skypackClient))
	if err != nil {
		return nil, fmt.Errorf("building %s schema: %w", RouteRelayNPM, err)
	}

	mux.Handle("GET "+RouteHealth, s.route(RouteHealth, http.HandlerFunc(health)))
	mux.Handle(RoutePokedex, s.route(RoutePokedex, s.graphqlHandler(pokedexSchema)))
	mux.Handle(RouteColors, s.route(RouteColors, s.graphqlHandler(colorsSchema)))
	mux.Handle(RouteRelayNPM, s.route(RouteRelayNPM, s.graphqlHandler(npmSchema)))

	if s.cfg.Cache.PurgeEndpoint {
		mux.Handle("DELETE "+RouteResolverCache, s.route(RouteResolverCache, http.HandlerFunc(s.purge)))
	}

	if s.metrics != nil {
		mux.Handle("GET "+s.cfg.Metrics.Prometheus.Path, s.metrics.Handler())
	}

	mux.Handle("/", http.HandlerFunc(notFound))

	return mux, nil
}

func (s *Server) builder() *schema.Builder {
	return schema.NewBuilder(s.logger, s.resolvers)
}

// route instruments h under a fixed route label.
func (s *Server) route(route string, h http.Handler) http.Handler {
	h = s.tracing.Middleware(route)(h)
	if s.metrics != nil {
		h = s.metrics.Middleware(route)(h)
	}
	return h
}

func (s *Server) graphqlHandler(sch graphql.Schema) http.Handler {
	return handler.New(&handler.Config{
		Schema:     &sch,
		Pretty:     false,
		GraphiQL:   false,
		Playground: s.cfg.Server.Playground,
	})
}

type statusBody struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body statusBody) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{StatusCode: http.StatusOK, Status: "ok"})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, statusBody{
		StatusCode: http.StatusNotFound,
		Error:      http.StatusText(http.StatusNotFound),
		Message:    fmt.Sprintf("Route %s:%s not found", r.Method, r.URL.Path),
	})
}

type purgeBody struct {
	StatusCode int    `json:"statusCode"`
	Field      string `json:"field,omitempty"`
	Purged     int64  `json:"purged"`
}

// purge drops cached resolver results, for one field when the field query
// parameter names a Type.field coordinate and for every field otherwise.
func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	var c resolvercache.Coordinate
	field := r.URL.Query().Get("field")
	if field != "" {
		var ok bool
		if c, ok = resolvercache.ParseCoordinate(field); !ok {
			writeJSON(w, http.StatusBadRequest, statusBody{
				StatusCode: http.StatusBadRequest,
				Error:      http.StatusText(http.StatusBadRequest),
				Message:    fmt.Sprintf("field %q is not a Type.field coordinate", field),
			})
			return
		}
	}

	n, err := s.resolvers.Purge(r.Context(), c)
	if err != nil {
		s.logger.Error("resolver cache purge failed", "field", field, "error", err)
		writeJSON(w, http.StatusInternalServerError, statusBody{
			StatusCode: http.StatusInternalServerError,
			Error:      http.StatusText(http.StatusInternalServerError),
		})
		return
	}

	s.logger.Info("resolver cache purged", "field", field, "purged", n)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(purgeBody{StatusCode: http.StatusOK, Field: field, Purged: n})
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}


// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	h := s.handler
	if s.cfg.Server.H2C {
		h = h2c.NewHandler(h, &http2.Server{})
	}

	s.http = &http.Server{
		Handler:           h,
		ReadTimeout:       config.ParseDuration(s.cfg.Server.ReadTimeout, 30*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      config.ParseDuration(s.cfg.Server.WriteTimeout, 30*time.Second),
		IdleTimeout:       config.ParseDuration(s.cfg.Server.IdleTimeout, 120*time.Second),
		MaxHeaderBytes:    1 << 20, // 1MB
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", ln.Addr().String(), "region", s.cfg.Server.Region)
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.ParseDuration(s.cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Close flushes traces and releases the store.
func (s *Server) Close() error {
	var errs []error

	if s.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		cancel()
	}

	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Run loads the config at configPath, serves until ctx is cancelled and
// applies log level changes on config reload. An empty path runs with
// defaults and environment overrides.
func Run(ctx context.Context, configPath string, level *slog.LevelVar, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
		opts.Logger = logger
	}

	var cfg *config.Config
	if configPath != "" {
		manager, err := config.NewManager(configPath, logger)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		defer manager.Close()

		cfg = manager.Get()
		manager.OnChange(func(newCfg *config.Config) {
			applyLogLevel(logger, level, newCfg)
		})
	} else {
		var err error
		if cfg, err = config.Load(""); err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
	}
	applyLogLevel(logger, level, cfg)

	logger.Info("starting trygql", "config", configPath, "address", cfg.Server.Address)

	srv, err := New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		logger.Info("trygql shutdown complete")
	}()

	return srv.ListenAndServe(ctx)
}

// applyLogLevel sets level from cfg when the file names one. Only the log
// level is applied on reload; other settings take effect on restart.
func applyLogLevel(logger *slog.Logger, level *slog.LevelVar, cfg *config.Config) {
	if level == nil || cfg.Log.Level == "" {
		return
	}
	l, err := cfg.Log.SlogLevel()
	if err != nil {
		return
	}
	if level.Level() != l {
		level.Set(l)
		logger.Info("log level set", "level", l.String())
	}
}
