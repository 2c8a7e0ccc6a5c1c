package service

import (
	"time"

	"github.com/Ajpantuso/replset-guard/internal/lifecycle"
	"github.com/Ajpantuso/replset-guard/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type ServiceConfig struct {
	Logger              *zap.SugaredLogger
	Metrics             *metrics.Metrics
	WriteTimeout        time.Duration
	Runtime             lifecycle.Runtime
	LifecycleTimeout    time.Duration
	DefaultRestartDelay time.Duration
	Oplog               OplogSource
}

func (c *ServiceConfig) Options(opts ...ServiceOption) {
	for _, opt := range opts {
		opt.ConfigureService(c)
	}
}

func (c *ServiceConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.LifecycleTimeout <= 0 {
		c.LifecycleTimeout = 30 * time.Second
	}
	if c.DefaultRestartDelay < 0 {
		c.DefaultRestartDelay = 0
	}
}

type ServiceOption interface {
	ConfigureService(*ServiceConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureService(c *ServiceConfig) {
	c.Logger = w.Logger
}

type WithMetrics struct {
	Metrics *metrics.Metrics
}

func (w WithMetrics) ConfigureService(c *ServiceConfig) {
	c.Metrics = w.Metrics
}

type WithWriteTimeout time.Duration

func (w WithWriteTimeout) ConfigureService(c *ServiceConfig) {
	c.WriteTimeout = time.Duration(w)
}

// WithRuntime enables fault injection through the given container runtime.
type WithRuntime struct {
	Runtime lifecycle.Runtime
}

func (w WithRuntime) ConfigureService(c *ServiceConfig) {
	c.Runtime = w.Runtime
}

type WithLifecycleTimeout time.Duration

func (w WithLifecycleTimeout) ConfigureService(c *ServiceConfig) {
	c.LifecycleTimeout = time.Duration(w)
}

type WithDefaultRestartDelay time.Duration

func (w WithDefaultRestartDelay) ConfigureService(c *ServiceConfig) {
	c.DefaultRestartDelay = time.Duration(w)
}

// WithOplog enables oplog inspection. Without it recovery advice relies on
// lag thresholds alone.
type WithOplog struct {
	Source OplogSource
}

func (w WithOplog) ConfigureService(c *ServiceConfig) {
	c.Oplog = w.Source
}
