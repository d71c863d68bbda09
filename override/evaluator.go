package override

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Evaluator executes guard expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule represents a reusable guard program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// RuleContext carries the values a guard expression can observe. Expressions
// see them as value, config, key, setting and now.
type RuleContext struct {
	ConfigKey  string
	SettingKey string
	Value      any
	Config     any
	Now        *time.Time
}

func (c RuleContext) withDefaultNow() RuleContext {
	if c.Now == nil {
		now := time.Now().UTC()
		c.Now = &now
	}
	return c
}

func (c RuleContext) timestamp() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return *c.Now
}

func (c RuleContext) bindings() map[string]any {
	return map[string]any{
		"value":   c.Value,
		"config":  c.Config,
		"key":     c.ConfigKey,
		"setting": c.SettingKey,
		"now":     c.timestamp(),
	}
}

func (c RuleContext) label() string {
	if c.ConfigKey == "" {
		return "<none>"
	}
	return c.ConfigKey
}

// ProgramCache stores compiled programs keyed by engine and expression.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

type ttlProgramCache struct {
	cache *ttlcache.Cache[string, any]
}

// NewProgramCache returns a ProgramCache on ttlcache. A zero ttl keeps
// programs until evicted by capacity; a zero capacity is unbounded.
func NewProgramCache(ttl time.Duration, capacity uint64) ProgramCache {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	opts := []ttlcache.Option[string, any]{
		ttlcache.WithTTL[string, any](ttl),
		ttlcache.WithDisableTouchOnHit[string, any](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, any](capacity))
	}
	return &ttlProgramCache{cache: ttlcache.New(opts...)}
}

func (c *ttlProgramCache) Get(key string) (any, bool) {
	item := c.cache.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *ttlProgramCache) Set(key string, value any) {
	c.cache.Set(key, value, ttlcache.DefaultTTL)
}

func cacheKey(engine, expression string) string {
	return engine + ":" + expression
}

type namedEngine interface {
	engineName() string
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	if named, ok := e.(namedEngine); ok {
		return named.engineName()
	}
	return "custom"
}
