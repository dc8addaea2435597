// Package resolvercache caches GraphQL field resolver results.
//
// Fields opt in with a positive TTL. Each call of an opted-in field is keyed
// by its coordinate plus hashes of the parent value and the arguments, looked
// up in a namespaced store and, on a miss, resolved and written back.
// Resolver errors are never cached. Store read failures degrade to a miss and
// write failures are only logged.
package resolvercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FormidableLabs/trygql/internal/cache"
	"github.com/FormidableLabs/trygql/internal/coalesce"
	"github.com/FormidableLabs/trygql/internal/schema"
)

// DefaultNamespace is the store namespace used when none is configured.
const DefaultNamespace = "resolver_cache"

// Lookup results reported to a Recorder.
const (
	ResultHit       = "hit"
	ResultMiss      = "miss"
	ResultCoalesced = "coalesced"
)

// Store operations reported to a Recorder.
const (
	OpGet    = "get"
	OpSet    = "set"
	OpEncode = "encode"
	OpDecode = "decode"
)

// ErrNoStore is returned by New when Config.Store is nil.
var ErrNoStore = errors.New("resolvercache: store is required")

// Recorder receives cache events, typically to export them as metrics.
type Recorder interface {
	RecordResolverCacheLookup(coordinate, result string)
	RecordResolverCacheError(coordinate, op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordResolverCacheLookup(string, string) {}
func (nopRecorder) RecordResolverCacheError(string, string) {}

// Config configures the plugin.
type Config struct {
	// Store backs the cache. It is wrapped in Namespace.
	Store cache.Store
	// Namespace prefixes every key. Defaults to DefaultNamespace.
	Namespace string
	// Identities assigns tokens to opaque parent or argument values. Sharing
	// one across plugins keeps tokens stable between them.
	Identities *Identities
	Logger     *slog.Logger
	Recorder   Recorder
	Tracer     trace.Tracer
	// Coalesce, when set, makes concurrent misses on one key share a single
	// resolver call. Without it each miss resolves and writes independently.
	Coalesce *coalesce.Coalescer
}

// Plugin wraps resolvers of fields that declare a TTL with cache-aside
// behavior. It implements schema.Plugin.
type Plugin struct {
	store     *cache.Namespaced
	hasher    *Hasher
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer
	coalescer *coalesce.Coalescer
}

// New creates the plugin.
func New(cfg Config) (*Plugin, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/FormidableLabs/trygql/internal/resolvercache")
	}

	return &Plugin{
		store:     cache.Namespace(cfg.Store, cfg.Namespace),
		hasher:    NewHasher(cfg.Identities),
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
		tracer:    cfg.Tracer,
		coalescer: cfg.Coalesce,
	}, nil
}

// Name implements schema.Plugin.
func (p *Plugin) Name() string {
	return "resolver-cache"
}

// Key returns the cache key for a call of the field at c.
func (p *Plugin) Key(c Coordinate, parent, args any) string {
	return p.hasher.Key(c, parent, args)
}

// OnCreateFieldResolver implements schema.Plugin. Fields without a positive
// TTL are left untouched.
func (p *Plugin) OnCreateFieldResolver(cfg schema.FieldConfig) schema.Middleware {
	if cfg.Field.TTL <= 0 {
		return nil
	}

	f := field{
		coordinate: Coordinate{TypeName: cfg.ParentTypeName, FieldName: cfg.Field.Name},
		ttl:        cfg.Field.TTL,
		decode:     cfg.Field.Decode,
	}
	if f.decode == nil {
		f.decode = decodeAny
	}

	return func(next graphql.FieldResolveFn) graphql.FieldResolveFn {
		return func(params graphql.ResolveParams) (interface{}, error) {
			return p.resolve(f, next, params)
		}
	}
}

type field struct {
	coordinate Coordinate
	ttl        time.Duration
	decode     schema.DecodeFunc
}

func (p *Plugin) resolve(f field, next graphql.FieldResolveFn, params graphql.ResolveParams) (interface{}, error) {
	ctx := params.Context
	if ctx == nil {
		ctx = context.Background()
	}

	coordinate := f.coordinate.String()
	key := p.Key(f.coordinate, params.Source, params.Args)

	ctx, span := p.tracer.Start(ctx, "resolvercache "+coordinate,
		trace.WithAttributes(
			attribute.String("graphql.field.coordinate", coordinate),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()
	params.Context = ctx

	if value, ok := p.lookup(ctx, f, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		p.recorder.RecordResolverCacheLookup(coordinate, ResultHit)
		return value, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))
	p.recorder.RecordResolverCacheLookup(coordinate, ResultMiss)

	if p.coalescer == nil {
		return p.populate(ctx, f, key, next, params)
	}

	// The flight outlives the caller that starts it, so it must not inherit
	// that caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	value, shared, err := p.coalescer.Do(ctx, key, func() (any, error) {
		flightParams := params
		flightParams.Context = flightCtx
		return p.populate(flightCtx, f, key, next, flightParams)
	})
	if errors.Is(err, coalesce.ErrTooManyWaiters) || errors.Is(err, coalesce.ErrTimeout) {
		p.logger.Debug("resolver cache coalescing skipped",
			"field", coordinate,
			"key", key,
			"error", err,
		)
		return p.populate(ctx, f, key, next, params)
	}
	if shared {
		p.recorder.RecordResolverCacheLookup(coordinate, ResultCoalesced)
	}
	return value, err
}

// lookup reads key from the store. Any failure is reported as a miss.
func (p *Plugin) lookup(ctx context.Context, f field, key string) (any, bool) {
	data, found, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("resolver cache read failed",
			"field", f.coordinate.String(),
			"key", key,
			"error", err,
		)
		p.recorder.RecordResolverCacheError(f.coordinate.String(), OpGet)
		return nil, false
	}
	if !found {
		return nil, false
	}

	value, err := f.decode(data)
	if err != nil {
		p.logger.Warn("resolver cache entry undecodable",
			"field", f.coordinate.String(),
			"key", key,
			"error", err,
		)
		p.recorder.RecordResolverCacheError(f.coordinate.String(), OpDecode)
		return nil, false
	}
	if value == nil {
		return nil, false
	}
	return value, true
}

// populate runs the real resolver and writes a successful, non-null result.
func (p *Plugin) populate(ctx context.Context, f field, key string, next graphql.FieldResolveFn, params graphql.ResolveParams) (any, error) {
	value, err := next(params)
	if err != nil {
		trace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
		return value, err
	}

	value, err = settle(value)
	if err != nil {
		trace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
		return value, err
	}
	if isNil(value) {
		return value, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		p.logger.Warn("resolver cache value not encodable",
			"field", f.coordinate.String(),
			"key", key,
			"error", err,
		)
		p.recorder.RecordResolverCacheError(f.coordinate.String(), OpEncode)
		return value, nil
	}

	if err := p.store.Set(ctx, key, data, f.ttl); err != nil {
		p.logger.Warn("resolver cache write failed",
			"field", f.coordinate.String(),
			"key", key,
			"error", err,
		)
		p.recorder.RecordResolverCacheError(f.coordinate.String(), OpSet)
	}

	return value, nil
}

// settle resolves graphql-go thunks, which resolvers return to run
// concurrently, so the cache stores their final value.
func settle(value any) (any, error) {
	for {
		thunk, ok := value.(func() (interface{}, error))
		if !ok {
			return value, nil
		}
		var err error
		if value, err = thunk(); err != nil {
			return value, err
		}
	}
}

// Purge removes cached entries for the field at c, or every entry of the
// plugin when c is the zero Coordinate.
func (p *Plugin) Purge(ctx context.Context, c Coordinate) (int64, error) {
	if c == (Coordinate{}) {
		n, err := p.store.Clear(ctx)
		if err != nil {
			return n, fmt.Errorf("clearing resolver cache: %w", err)
		}
		return n, nil
	}

	prefix := c.String() + "."
	n, err := p.store.Purge(ctx, prefix)
	if err != nil {
		return n, fmt.Errorf("purging %q: %w", prefix, err)
	}
	return n, nil
}
