package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Shutdowner runs registered hooks once, in registration order, under a
// shared deadline.
type Shutdowner struct {
	mu      sync.Mutex
	hooks   []hook
	timeout time.Duration
	logger  *slog.Logger
	once    sync.Once
	err     error
}

// NewShutdowner creates a Shutdowner with the given overall timeout.
func NewShutdowner(timeout time.Duration, logger *slog.Logger) *Shutdowner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shutdowner{timeout: timeout, logger: logger}
}

// Register appends a hook.
func (s *Shutdowner) Register(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Shutdown runs every hook. Hook errors are joined; running out of time
// returns SHUTDOWN_TIMEOUT and skips the remaining hooks. Later calls return
// the first call's result.
func (s *Shutdowner) Shutdown(ctx context.Context) error {
	s.once.Do(func() { s.err = s.run(ctx) })
	return s.err
}

func (s *Shutdowner) run(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]hook(nil), s.hooks...)
	s.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var errs []error
	for i, h := range hooks {
		if ctx.Err() != nil {
			skipped := make([]string, 0, len(hooks)-i)
			for _, rest := range hooks[i:] {
				skipped = append(skipped, rest.name)
			}
			s.logger.Error("shutdown timed out", "skipped", skipped)
			return schema.NewErrorf(schema.ErrCodeShutdownTimeout, "shutdown timed out before %s", h.name).
				WithDetails(map[string]any{"skipped": skipped}).
				WithCause(errors.Join(errs...))
		}
		start := time.Now()
		err := h.fn(ctx)
		s.logger.Info("shutdown hook finished", "hook", h.name, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		if err != nil {
			if schema.IsCode(err, schema.ErrCodeShutdownTimeout) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
