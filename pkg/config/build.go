package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	settings "github.com/goliatone/go-settings"
	"github.com/goliatone/go-settings/override"
	"github.com/goliatone/go-settings/pkg/activity"
	"github.com/goliatone/go-settings/pkg/cache"
	"github.com/goliatone/go-settings/pkg/encryption"
	"github.com/goliatone/go-settings/pkg/metrics"
	"github.com/goliatone/go-settings/pkg/repository"
)

// Guard engines accepted by OverrideConfig.Engine.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// Runtime is a Settings instance wired from a Config together with the
// collaborators it owns.
type Runtime struct {
	Config    *Config
	Settings  *settings.Settings
	Factory   *repository.Factory
	Metrics   *metrics.Collectors
	Logger    *slog.Logger
	// Functions holds the helpers override guards can call.
	Functions *override.FunctionRegistry
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	repository string
	hooks      activity.Hooks
	identity   activity.IdentityFunc
	sinks      []settings.EventSink
	drivers    map[string]repository.Creator
	functions  []guardFunction
}

type guardFunction struct {
	name string
	fn   override.GuardFunction
}

// WithLogger sets the logger shared by the factory, Settings and override.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithRegisterer enables Prometheus instrumentation of the repository, cache
// and events.
func WithRegisterer(reg prometheus.Registerer) BuildOption {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

// WithRepository selects a repository other than the configured default.
func WithRepository(name string) BuildOption {
	return func(o *buildOptions) {
		o.repository = strings.TrimSpace(name)
	}
}

// WithActivityHooks forwards settings events as activity records when the
// activity block is enabled.
func WithActivityHooks(hooks ...activity.ActivityHook) BuildOption {
	return func(o *buildOptions) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithIdentity resolves the actor of activity records.
func WithIdentity(fn activity.IdentityFunc) BuildOption {
	return func(o *buildOptions) {
		o.identity = fn
	}
}

// WithEventSink adds a sink receiving every settings event.
func WithEventSink(sink settings.EventSink) BuildOption {
	return func(o *buildOptions) {
		if sink != nil {
			o.sinks = append(o.sinks, sink)
		}
	}
}

// WithDriver registers a custom repository driver on the factory.
func WithDriver(name string, creator repository.Creator) BuildOption {
	return func(o *buildOptions) {
		if o.drivers == nil {
			o.drivers = map[string]repository.Creator{}
		}
		o.drivers[name] = creator
	}
}

// WithGuardFunction exposes fn to override guards as name, in every engine.
// Invalid or duplicate names make Build fail.
func WithGuardFunction(name string, fn override.GuardFunction) BuildOption {
	return func(o *buildOptions) {
		o.functions = append(o.functions, guardFunction{name: name, fn: fn})
	}
}

// Build resolves the configured repository and returns a Runtime whose
// Settings honours the cache, encryption and events flags of cfg.
func Build(ctx context.Context, cfg *Config, opts ...BuildOption) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := buildOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{Config: cfg, Logger: logger, Functions: override.NewFunctionRegistry()}
	for _, gf := range o.functions {
		if err := rt.Functions.Register(gf.name, gf.fn); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	factoryOpts := []repository.FactoryOption{repository.WithLogger(logger)}
	if o.registerer != nil {
		rt.Metrics = metrics.NewCollectors(o.registerer)
		factoryOpts = append(factoryOpts, repository.WithDecorator(rt.Metrics.InstrumentRepository))
	}
	rt.Factory = repository.NewFactory(cfg.FactoryConfig(), factoryOpts...)
	for name, creator := range o.drivers {
		rt.Factory.Extend(name, creator)
	}

	repo, err := rt.Factory.Repository(ctx, o.repository)
	if err != nil {
		return nil, err
	}

	var c settings.Cache = cache.New(cache.WithPrefix(cfg.Prefix))
	if rt.Metrics != nil {
		c = rt.Metrics.InstrumentCache(c)
	}
	settingsOpts := []settings.Option{
		settings.WithCache(c),
		settings.WithCacheEnabled(cfg.Cache),
		settings.WithEventsEnabled(cfg.Events),
		settings.WithLogger(settings.SlogLogger(logger)),
	}

	if cfg.Encryption {
		key := strings.TrimSpace(cfg.EncryptionKey)
		if key == "" {
			_ = rt.Factory.Close()
			return nil, fmt.Errorf("config: encryption is enabled but encryption_key is empty: %w", settings.ErrConfiguration)
		}
		encrypter, err := encryption.FromBase64(key)
		if err != nil {
			_ = rt.Factory.Close()
			return nil, fmt.Errorf("config: encryption_key: %w", err)
		}
		settingsOpts = append(settingsOpts, settings.WithEncrypter(encrypter), settings.WithEncryptionEnabled(true))
	}

	if sink := rt.eventSink(o); sink != nil {
		settingsOpts = append(settingsOpts, settings.WithEventSink(sink))
	}

	rt.Settings = settings.New(repo, settingsOpts...)
	return rt, nil
}

func (rt *Runtime) eventSink(o buildOptions) settings.EventSink {
	sinks := append([]settings.EventSink(nil), o.sinks...)
	if rt.Config.Activity.Enabled && o.hooks.Enabled() {
		sinkOpts := []activity.SinkOption{activity.WithLogger(rt.Logger)}
		if o.identity != nil {
			sinkOpts = append(sinkOpts, activity.WithIdentity(o.identity))
		}
		emitter := activity.NewEmitter(o.hooks, rt.Config.Activity)
		sinks = append(sinks, activity.NewSink(emitter, sinkOpts...))
	}

	var sink settings.EventSink
	switch len(sinks) {
	case 0:
	case 1:
		sink = sinks[0]
	default:
		sink = fanout(sinks)
	}
	if rt.Metrics != nil {
		sink = rt.Metrics.EventSink(sink)
	}
	return sink
}

func fanout(sinks []settings.EventSink) settings.EventSink {
	return settings.EventSinkFunc(func(ctx context.Context, name string, payload []any) {
		for _, sink := range sinks {
			sink.Fire(ctx, name, payload)
		}
	})
}

// Override applies the configured override rules onto store, reading
// values through the runtime's Settings. Events are fired when the events
// flag is on; the timezone listener runs whenever apply_timezone is set.
func (rt *Runtime) Override(ctx context.Context, store override.ConfigStore, opts ...override.Option) (override.Report, error) {
	rules, err := override.ParseRules(rt.Config.Override.Rules)
	if err != nil {
		return override.Report{}, err
	}
	if len(rules) == 0 {
		return override.Report{}, nil
	}
	evaluator, err := NewEvaluator(rt.Config.Override.Engine, rt.Functions)
	if err != nil {
		return override.Report{}, err
	}
	applyOpts := []override.Option{
		override.WithEvaluator(evaluator),
		override.WithLogger(override.SlogLogger(rt.Logger)),
		override.WithSkipMissing(rt.Config.Override.SkipMissing),
	}

	var sinks []settings.EventSink
	if sink := rt.Settings.EventSink(); sink != nil && rt.Settings.IsEventsEnabled() {
		sinks = append(sinks, sink)
	}
	if rt.Config.Override.ApplyTimezone {
		sinks = append(sinks, override.TimezoneListener(rt.Logger, rt.Config.Override.TimezoneKeys...))
	}
	switch len(sinks) {
	case 0:
	case 1:
		applyOpts = append(applyOpts, override.WithEventSink(sinks[0]))
	default:
		applyOpts = append(applyOpts, override.WithEventSink(fanout(sinks)))
	}
	return override.Apply(ctx, store, rt.Settings, rules, append(applyOpts, opts...)...)
}

// NewEvaluator returns the guard evaluator for engine with functions callable
// from guards. functions may be nil. The js engine is only available in
// builds with the js_eval tag.
func NewEvaluator(engine string, functions *override.FunctionRegistry) (override.Evaluator, error) {
	programs := override.NewProgramCache(0, 256)
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineExpr:
		return override.NewExprEvaluator(
			override.ExprWithProgramCache(programs),
			override.ExprWithFunctionRegistry(functions),
		), nil
	case EngineCEL:
		return override.NewCELEvaluator(
			override.CELWithProgramCache(programs),
			override.CELWithFunctionRegistry(functions),
		), nil
	case EngineJS:
		if !override.JSAvailable() {
			return nil, fmt.Errorf("config: override engine %q requires the js_eval build tag: %w", engine, settings.ErrConfiguration)
		}
		return override.NewJSEvaluator(
			override.JSWithProgramCache(programs),
			override.JSWithFunctionRegistry(functions),
		), nil
	default:
		return nil, fmt.Errorf("config: unknown override engine %q: %w", engine, settings.ErrConfiguration)
	}
}

// Close releases the repositories opened by the factory.
func (rt *Runtime) Close() error {
	if rt == nil || rt.Factory == nil {
		return nil
	}
	return rt.Factory.Close()
}
