package pipeline

import (
	"time"

	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
)

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	logger         *logging.Logger
	bus            *event.Bus
	clock          func() time.Time
	resolve        ResolveOptions
	releaseTimeout time.Duration
}

func defaultManagerConfig() managerConfig {
	return managerConfig{
		clock:          func() time.Time { return time.Now().UTC() },
		releaseTimeout: 2 * time.Minute,
	}
}

// WithLogger sets the logger used by the manager and its runner.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithBus sets the bus lifecycle events are published on. Without one the
// manager creates a private bus, reachable through Manager.Bus.
func WithBus(bus *event.Bus) ManagerOption {
	return func(c *managerConfig) {
		c.bus = bus
	}
}

// WithClock overrides the time source. Tests use it to get stable timestamps.
func WithClock(clock func() time.Time) ManagerOption {
	return func(c *managerConfig) {
		c.clock = clock
	}
}

// WithResolveOptions sets the fallback validator and attempt bound applied
// to definitions that do not set their own.
func WithResolveOptions(opts ResolveOptions) ManagerOption {
	return func(c *managerConfig) {
		c.resolve = opts
	}
}

// WithReleaseTimeout bounds how long releasing a workspace may take.
func WithReleaseTimeout(d time.Duration) ManagerOption {
	return func(c *managerConfig) {
		if d > 0 {
			c.releaseTimeout = d
		}
	}
}
