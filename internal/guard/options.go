package guard

import (
	"time"

	"go.uber.org/zap"
)

type GuardConfig struct {
	Logger  *zap.SugaredLogger
	Timeout time.Duration
}

func (c *GuardConfig) Options(opts ...GuardOption) {
	for _, opt := range opts {
		opt.ConfigureGuard(c)
	}
}

func (c *GuardConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

type GuardOption interface {
	ConfigureGuard(*GuardConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureGuard(c *GuardConfig) {
	c.Logger = w.Logger
}

// WithWriteTimeout bounds the store write of an admitted request.
type WithWriteTimeout time.Duration

func (w WithWriteTimeout) ConfigureGuard(c *GuardConfig) {
	c.Timeout = time.Duration(w)
}
