package settings

import (
	"fmt"
	"sort"
)

// Context carries named scoping arguments. Two contexts with equal arguments
// address the same stored values; a nil *Context means "no scoping" and is
// distinct from an empty Context.
type Context struct {
	arguments map[string]any
}

// NewContext builds a Context from an initial argument mapping. The map is
// copied so later caller mutations do not leak into the context.
func NewContext(arguments map[string]any) *Context {
	c := &Context{arguments: make(map[string]any, len(arguments))}
	for name, value := range arguments {
		c.arguments[name] = value
	}
	return c
}

// Get returns the argument stored under name.
func (c *Context) Get(name string) (any, error) {
	if c != nil {
		if value, ok := c.arguments[name]; ok {
			return value, nil
		}
	}
	return nil, fmt.Errorf("%w: %q is not part of context", ErrArgumentNotFound, name)
}

// Set stores value under name, replacing any previous value. Setting on a nil
// Context is a no-op; build one with NewContext first.
func (c *Context) Set(name string, value any) {
	if c == nil {
		return
	}
	if c.arguments == nil {
		c.arguments = map[string]any{}
	}
	c.arguments[name] = value
}

// Has reports whether name is an argument of c.
func (c *Context) Has(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.arguments[name]
	return ok
}

// Remove deletes name. Removing a missing argument is a no-op.
func (c *Context) Remove(name string) {
	if c == nil {
		return
	}
	delete(c.arguments, name)
}

// Count returns the number of arguments.
func (c *Context) Count() int {
	if c == nil {
		return 0
	}
	return len(c.arguments)
}

// Arguments returns a detached copy of the context arguments.
func (c *Context) Arguments() map[string]any {
	if c == nil {
		return nil
	}
	out := make(map[string]any, len(c.arguments))
	for name, value := range c.arguments {
		out[name] = value
	}
	return out
}

// Names returns the argument names sorted alphabetically.
func (c *Context) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.arguments))
	for name := range c.arguments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of c. Cloning a nil context yields nil.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	return NewContext(c.arguments)
}

// String renders the arguments sorted by name, or <none> for nil.
func (c *Context) String() string {
	if c == nil {
		return "<none>"
	}
	return fmt.Sprintf("%v", c.arguments)
}
