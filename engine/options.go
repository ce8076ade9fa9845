package engine

import (
	"go.uber.org/zap"

	"github.com/chronoflux/tsengine/internal/options"
	"github.com/chronoflux/tsengine/meas"
)

type config struct {
	ignoreLockFile bool
	logger         *zap.Logger
	clock          func() meas.Time
}

// Option configures Open using the shared functional-options pattern
// (internal/options), generalized here from a one-off constructor
// flag list to a composable option set.
type Option = options.Option[*config]

// WithIgnoreLockFile opens the storage root even if a lock file is
// present, for tooling that inspects a storage root without holding
// the engine's own lock.
func WithIgnoreLockFile() Option {
	return options.NoError(func(c *config) { c.ignoreLockFile = true })
}

// WithLogger supplies the *zap.Logger threaded through the engine's
// Environment. The default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return options.NoError(func(c *config) { c.logger = l })
}

// WithClock overrides the engine's notion of "now", used to enforce
// the memory tier's late-arrival window. Tests pass a fixed clock;
// production code leaves the default (wall-clock milliseconds).
func WithClock(fn func() meas.Time) Option {
	return options.NoError(func(c *config) { c.clock = fn })
}

func defaultConfig() *config {
	return &config{logger: zap.NewNop(), clock: wallClock}
}
