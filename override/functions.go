package override

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	settings "github.com/goliatone/go-settings"
)

// GuardFunction is a helper guards can call by name. Arguments arrive as the
// engine produced them and the result is handed back unchanged.
type GuardFunction func(args ...any) (any, error)

var guardFunctionName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedNames are the bindings every guard already sees.
var reservedNames = map[string]struct{}{
	"value": {}, "config": {}, "key": {}, "setting": {}, "now": {},
}

// FunctionRegistry holds the helpers shared by the guard engines. Names are
// case insensitive identifiers and cannot shadow a guard binding.
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]GuardFunction
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: map[string]GuardFunction{}}
}

// Register adds fn under name. Invalid, reserved and duplicate names are
// rejected with settings.ErrConfiguration.
func (r *FunctionRegistry) Register(name string, fn GuardFunction) error {
	key := strings.ToLower(strings.TrimSpace(name))
	switch {
	case fn == nil:
		return fmt.Errorf("override: guard function %q is nil: %w", name, settings.ErrConfiguration)
	case !guardFunctionName.MatchString(key):
		return fmt.Errorf("override: guard function name %q is not an identifier: %w", name, settings.ErrConfiguration)
	}
	if _, reserved := reservedNames[key]; reserved {
		return fmt.Errorf("override: guard function name %q shadows a guard binding: %w", name, settings.ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs == nil {
		r.funcs = map[string]GuardFunction{}
	}
	if _, taken := r.funcs[key]; taken {
		return fmt.Errorf("override: guard function %q registered twice: %w", name, settings.ErrConfiguration)
	}
	r.funcs[key] = fn
	return nil
}

// Len returns the number of registered helpers.
func (r *FunctionRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Clone returns a registry detached from later registrations on r.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &FunctionRegistry{funcs: make(map[string]GuardFunction, len(r.funcs))}
	for name, fn := range r.funcs {
		out.funcs[name] = fn
	}
	return out
}

// Call runs the helper registered under name. Helper failures are prefixed
// with the helper name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	var fn GuardFunction
	if r != nil {
		r.mu.RLock()
		fn = r.funcs[strings.ToLower(name)]
		r.mu.RUnlock()
	}
	if fn == nil {
		return nil, fmt.Errorf("override: guard function %q is not registered", name)
	}
	out, err := fn(args...)
	if err != nil {
		return nil, fmt.Errorf("override: guard function %s: %w", name, err)
	}
	return out, nil
}

// Names lists the registered helpers in lowercase, sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
