package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	settings "github.com/goliatone/go-settings"
	"github.com/goliatone/go-settings/internal/hydrate"
)

// Built-in driver names.
const (
	DriverMemory   = "memory"
	DriverDatabase = "database"
	DriverBolt     = "bbolt"
)

// Creator builds a repository from its configuration block. The block
// includes the "driver" key.
type Creator func(ctx context.Context, cfg map[string]any) (settings.Repository, error)

// Decorator wraps every repository the factory resolves.
type Decorator func(name string, repo settings.Repository) settings.Repository

// FactoryConfig names the default repository and lists the repository
// blocks, each selecting a driver through its "driver" key.
type FactoryConfig struct {
	Default      string                    `mapstructure:"default"`
	Repositories map[string]map[string]any `mapstructure:"repositories"`
}

// Factory resolves named repositories from configuration. Resolved instances
// are cached for the lifetime of the factory.
type Factory struct {
	mu         sync.Mutex
	cfg        FactoryConfig
	creators   map[string]Creator
	builtins   map[string]builtinCreator
	resolved   map[string]settings.Repository
	closers    map[string]io.Closer
	decorators []Decorator
	logger     *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger used for resolution messages.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDecorator wraps resolved repositories, e.g. with metrics.
func WithDecorator(decorator Decorator) FactoryOption {
	return func(f *Factory) {
		if decorator != nil {
			f.decorators = append(f.decorators, decorator)
		}
	}
}

// NewFactory builds a factory over cfg with the memory, database and bbolt drivers.
func NewFactory(cfg FactoryConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:      cfg,
		creators: map[string]Creator{},
		resolved: map[string]settings.Repository{},
		closers:  map[string]io.Closer{},
		logger:   slog.Default(),
	}
	f.builtins = map[string]builtinCreator{
		DriverMemory:   createMemory,
		DriverDatabase: createDatabase,
		DriverBolt:     createBolt,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// DefaultDriver returns the name of the default repository.
func (f *Factory) DefaultDriver() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Default
}

// SetDefaultDriver changes the repository used for an empty name.
func (f *Factory) SetDefaultDriver(name string) {
	f.mu.Lock()
	f.cfg.Default = name
	f.mu.Unlock()
}

// Extend registers a custom driver. Custom drivers shadow built-ins with the
// same name.
func (f *Factory) Extend(driver string, creator Creator) *Factory {
	f.mu.Lock()
	f.creators[strings.ToLower(driver)] = creator
	f.mu.Unlock()
	return f
}

// Names returns the configured repository names in sorted order.
func (f *Factory) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.cfg.Repositories))
	for name := range f.cfg.Repositories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Driver is an alias of Repository.
func (f *Factory) Driver(ctx context.Context, name string) (settings.Repository, error) {
	return f.Repository(ctx, name)
}

// Repository returns the repository configured under name, building it on
// first use. An empty name selects the default repository.
func (f *Factory) Repository(ctx context.Context, name string) (settings.Repository, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if name == "" {
		name = f.cfg.Default
	}
	if repo, ok := f.resolved[name]; ok {
		return repo, nil
	}

	block, ok := f.cfg.Repositories[name]
	if !ok {
		return nil, &ConfigurationError{Name: name, Reason: "repository is not defined"}
	}
	driver, _ := block["driver"].(string)
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		return nil, &ConfigurationError{Name: name, Reason: "does not specify a driver"}
	}
	var (
		repo settings.Repository
		err  error
	)
	if creator, ok := f.creators[driver]; ok {
		repo, err = creator(ctx, cloneBlock(block))
	} else if builtin, ok := f.builtins[driver]; ok {
		repo, err = builtin(ctx, hydrate.Context{Repository: name, Driver: driver}, block)
	} else {
		return nil, &ConfigurationError{Name: name, Driver: driver, Reason: "driver is not supported"}
	}
	if err != nil {
		return nil, fmt.Errorf("repository: [%s]: %w", name, err)
	}
	if closer, ok := repo.(io.Closer); ok {
		f.closers[name] = closer
	}
	for _, decorate := range f.decorators {
		repo = decorate(name, repo)
	}
	f.resolved[name] = repo
	f.logger.Debug("settings repository resolved", slog.String("name", name), slog.String("driver", driver))
	return repo, nil
}

// Close closes every resolved repository implementing io.Closer, decorated or
// not, and forgets the resolved instances.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for name, closer := range f.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("repository: [%s]: close: %w", name, err))
		}
	}
	clear(f.closers)
	clear(f.resolved)
	return errors.Join(errs...)
}

func cloneBlock(block map[string]any) map[string]any {
	out := make(map[string]any, len(block))
	for key, value := range block {
		out[key] = value
	}
	return out
}

type builtinCreator func(ctx context.Context, hc hydrate.Context, cfg map[string]any) (settings.Repository, error)

func decodeBlock[T any](hc hydrate.Context, cfg map[string]any) (T, error) {
	decoder := hydrate.NewDecoder[T](
		hydrate.WithPreHook[T](hydrate.DropKeys("driver")),
		hydrate.WithDisallowUnknownFields[T](),
	)
	return decoder.Decode(hc, cfg)
}

func createMemory(context.Context, hydrate.Context, map[string]any) (settings.Repository, error) {
	return NewMemory(), nil
}

func createDatabase(ctx context.Context, hc hydrate.Context, cfg map[string]any) (settings.Repository, error) {
	block, err := decodeBlock[DatabaseConfig](hc, cfg)
	if err != nil {
		return nil, err
	}
	return OpenDatabase(ctx, block)
}

func createBolt(_ context.Context, hc hydrate.Context, cfg map[string]any) (settings.Repository, error) {
	block, err := decodeBlock[BoltConfig](hc, cfg)
	if err != nil {
		return nil, err
	}
	return OpenBolt(block)
}
