package expressions

import (
	"sync"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// maxCachedPrograms bounds each engine's cache. Definitions are long-lived so
// the working set is small; hitting the bound resets the cache.
const maxCachedPrograms = 1024

// programCache memoizes compiled expressions per engine. Compiled programs are
// immutable and safe to share across goroutines.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{programs: make(map[string]P)}
}

// get returns the cached program for expression, compiling it on a miss.
// Compile failures are not cached.
func (c *programCache[P]) get(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[expression]; ok {
		return p, nil
	}
	p, err := compile(expression)
	if err != nil {
		return p, err
	}
	if len(c.programs) >= maxCachedPrograms {
		clear(c.programs)
	}
	c.programs[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// expressionError wraps an engine failure with the offending expression.
func expressionError(code, what, expression string, err error) *schema.EngineError {
	return schema.NewErrorf(code, "%s in %q: %s", what, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
