// Package metrics provides Prometheus instrumentation for settings
// repositories, caches and events.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	settings "github.com/goliatone/go-settings"
)

// Namespace for all settings metrics.
const namespace = "settings"

const (
	outcomeSuccess = "success"
	outcomeError   = "error"

	resultHit  = "hit"
	resultMiss = "miss"
)

// Collectors groups the settings metrics registered on one registry.
type Collectors struct {
	RepositoryOperations *prometheus.CounterVec
	RepositoryDuration   *prometheus.HistogramVec
	CacheLookups         *prometheus.CounterVec
	Events               *prometheus.CounterVec
}

// NewCollectors registers the settings metrics on reg. A nil reg uses the
// default registerer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collectors{
		RepositoryOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_operations_total",
				Help:      "Total number of repository operations by repository, operation and outcome",
			},
			[]string{"repository", "op", "outcome"},
		),
		RepositoryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "repository_operation_duration_seconds",
				Help:      "Repository operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .5},
			},
			[]string{"repository", "op"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of cache lookups by result",
			},
			[]string{"result"},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of settings events fired by verb",
			},
			[]string{"verb"},
		),
	}
}

// InstrumentRepository wraps repo so every call is counted and timed. Its
// signature matches repository.Decorator.
func (c *Collectors) InstrumentRepository(name string, repo settings.Repository) settings.Repository {
	if c == nil || repo == nil {
		return repo
	}
	return &instrumentedRepository{name: name, next: repo, collectors: c}
}

// InstrumentCache wraps cache so lookups are counted as hits or misses.
func (c *Collectors) InstrumentCache(cache settings.Cache) settings.Cache {
	if c == nil || cache == nil {
		return cache
	}
	return &instrumentedCache{next: cache, collectors: c}
}

// EventSink counts fired events by verb and forwards them to next, which
// may be nil.
func (c *Collectors) EventSink(next settings.EventSink) settings.EventSink {
	return settings.EventSinkFunc(func(ctx context.Context, name string, payload []any) {
		if c != nil {
			verb, _, ok := settings.ParseEventName(name)
			if !ok {
				verb = "unknown"
			}
			c.Events.WithLabelValues(verb).Inc()
		}
		if next != nil {
			next.Fire(ctx, name, payload)
		}
	})
}

func (c *Collectors) observe(repository, op string, start time.Time, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	c.RepositoryOperations.WithLabelValues(repository, op, outcome).Inc()
	c.RepositoryDuration.WithLabelValues(repository, op).Observe(time.Since(start).Seconds())
}

type instrumentedRepository struct {
	name       string
	next       settings.Repository
	collectors *Collectors
}

func (r *instrumentedRepository) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := r.next.Has(ctx, key)
	r.collectors.observe(r.name, "has", start, err)
	return ok, err
}

func (r *instrumentedRepository) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, found, err := r.next.Get(ctx, key)
	r.collectors.observe(r.name, "get", start, err)
	return value, found, err
}

func (r *instrumentedRepository) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := r.next.Set(ctx, key, value)
	r.collectors.observe(r.name, "set", start, err)
	return err
}

func (r *instrumentedRepository) Forget(ctx context.Context, key string) error {
	start := time.Now()
	err := r.next.Forget(ctx, key)
	r.collectors.observe(r.name, "forget", start, err)
	return err
}

// Unwrap returns the wrapped repository.
func (r *instrumentedRepository) Unwrap() settings.Repository {
	return r.next
}

type instrumentedCache struct {
	next       settings.Cache
	collectors *Collectors
}

func (c *instrumentedCache) RememberForever(ctx context.Context, key string, producer settings.Producer) (string, bool, error) {
	missed := false
	value, found, err := c.next.RememberForever(ctx, key, func(ctx context.Context) (string, bool, error) {
		missed = true
		return producer(ctx)
	})
	result := resultHit
	if missed {
		result = resultMiss
	}
	c.collectors.CacheLookups.WithLabelValues(result).Inc()
	return value, found, err
}

func (c *instrumentedCache) Forget(ctx context.Context, key string) error {
	return c.next.Forget(ctx, key)
}
