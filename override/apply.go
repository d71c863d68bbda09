package override

import (
	"context"
	"fmt"
	"time"

	settings "github.com/goliatone/go-settings"
)

// ConfigStore is the configuration being overridden. *viper.Viper satisfies
// it.
type ConfigStore interface {
	Get(key string) any
	Set(key string, value any)
}

// Reader reads setting values. *settings.Settings and settings.Scoped satisfy
// it.
type Reader interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string, def any) (any, error)
}

// Skip reasons reported on Outcome.
const (
	ReasonGuard   = "guard"
	ReasonMissing = "missing"
)

// Outcome records what happened to one rule.
type Outcome struct {
	Rule     Rule
	Applied  bool
	Reason   string
	Previous any
	Value    any
}

// Report lists rule outcomes in application order.
type Report struct {
	Outcomes []Outcome
}

// Applied returns the outcomes whose value was written.
func (r Report) Applied() []Outcome {
	return r.filter(true)
}

// Skipped returns the outcomes left untouched.
func (r Report) Skipped() []Outcome {
	return r.filter(false)
}

func (r Report) filter(applied bool) []Outcome {
	var out []Outcome
	for _, outcome := range r.Outcomes {
		if outcome.Applied == applied {
			out = append(out, outcome)
		}
	}
	return out
}

type applyConfig struct {
	evaluator   Evaluator
	sink        settings.EventSink
	logger      EvaluatorLogger
	now         func() time.Time
	skipMissing bool
}

// Option configures Apply.
type Option func(*applyConfig)

// WithEvaluator selects the guard engine. The expr evaluator is the default.
func WithEvaluator(evaluator Evaluator) Option {
	return func(cfg *applyConfig) {
		if evaluator != nil {
			cfg.evaluator = evaluator
		}
	}
}

// WithEventSink fires overriding/override events on sink.
func WithEventSink(sink settings.EventSink) Option {
	return func(cfg *applyConfig) {
		cfg.sink = sink
	}
}

// WithLogger records guard evaluations.
func WithLogger(logger EvaluatorLogger) Option {
	return func(cfg *applyConfig) {
		if logger == nil {
			cfg.logger = noopEvaluatorLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithClock pins the time bound to now in guards.
func WithClock(now func() time.Time) Option {
	return func(cfg *applyConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithSkipMissing leaves config keys untouched when the setting is not
// stored. By default a missing setting overrides the config key with nil.
func WithSkipMissing(skip bool) Option {
	return func(cfg *applyConfig) {
		cfg.skipMissing = skip
	}
}

// Apply overrides config values in store with the settings read from s.
// Guards are compiled up front so an invalid expression fails before any
// config key is written.
func Apply(ctx context.Context, store ConfigStore, s Reader, rules []Rule, opts ...Option) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := applyConfig{
		logger: noopEvaluatorLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.evaluator == nil {
		cfg.evaluator = NewExprEvaluator()
	}

	rules, err := normalizeAll(rules)
	if err != nil {
		return Report{}, err
	}
	guards := make([]CompiledRule, len(rules))
	for i, rule := range rules {
		if rule.When == "" {
			continue
		}
		compiled, err := cfg.evaluator.Compile(rule.When)
		if err != nil {
			return Report{}, wrapEvaluationError(evaluatorEngineName(cfg.evaluator), rule.When, rule.ConfigKey, err)
		}
		guards[i] = compiled
	}

	var report Report
	for i, rule := range rules {
		outcome, err := cfg.apply(ctx, store, s, rule, guards[i])
		if err != nil {
			return report, err
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

func (cfg *applyConfig) apply(ctx context.Context, store ConfigStore, s Reader, rule Rule, guard CompiledRule) (Outcome, error) {
	outcome := Outcome{Rule: rule}
	cfg.fire(ctx, settings.VerbOverriding, rule.ConfigKey, rule.ConfigKey, rule.SettingKey)

	if cfg.skipMissing {
		found, err := s.Has(ctx, rule.SettingKey)
		if err != nil {
			return outcome, fmt.Errorf("override: %s: %w", rule.ConfigKey, err)
		}
		if !found {
			outcome.Reason = ReasonMissing
			return outcome, nil
		}
	}

	value, err := s.Get(ctx, rule.SettingKey, nil)
	if err != nil {
		return outcome, fmt.Errorf("override: %s: %w", rule.ConfigKey, err)
	}
	outcome.Value = value
	outcome.Previous = store.Get(rule.ConfigKey)

	if guard != nil {
		pass, err := cfg.evaluate(guard, rule, value, outcome.Previous)
		if err != nil {
			return outcome, err
		}
		if !pass {
			outcome.Reason = ReasonGuard
			return outcome, nil
		}
	}

	store.Set(rule.ConfigKey, value)
	outcome.Applied = true
	cfg.fire(ctx, settings.VerbOverride, rule.ConfigKey, rule.ConfigKey, outcome.Previous, rule.SettingKey, value)
	return outcome, nil
}

func (cfg *applyConfig) evaluate(guard CompiledRule, rule Rule, value, previous any) (bool, error) {
	now := cfg.now()
	engine := evaluatorEngineName(cfg.evaluator)
	start := time.Now()
	result, err := guard.Evaluate(RuleContext{
		ConfigKey:  rule.ConfigKey,
		SettingKey: rule.SettingKey,
		Value:      value,
		Config:     previous,
		Now:        &now,
	})
	pass, ok := result.(bool)
	if err == nil && !ok {
		err = fmt.Errorf("%w, got %T", ErrGuardNotBool, result)
	}
	err = wrapEvaluationError(engine, rule.When, rule.ConfigKey, err)
	cfg.logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     rule.When,
		Rule:     rule.ConfigKey,
		Result:   result,
		Duration: time.Since(start),
		Err:      err,
	})
	return pass, err
}

func (cfg *applyConfig) fire(ctx context.Context, verb, configKey string, payload ...any) {
	if cfg.sink == nil {
		return
	}
	cfg.sink.Fire(ctx, settings.EventName(verb, configKey), payload)
}
