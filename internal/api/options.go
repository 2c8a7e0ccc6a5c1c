package api

import (
	"time"

	"github.com/Ajpantuso/replset-guard/internal/alert"
	"github.com/Ajpantuso/replset-guard/internal/metrics"
	"github.com/Ajpantuso/replset-guard/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Address         string
	Logger          *zap.SugaredLogger
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer
	ShutdownTimeout time.Duration
	Monitor         MonitorState
}

func (c *ServerConfig) Options(opts ...ServerOption) {
	for _, opt := range opts {
		opt.ConfigureServer(c)
	}
}

func (c *ServerConfig) Default() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Metrics == nil || c.Gatherer == nil {
		reg := prometheus.NewRegistry()
		if c.Metrics == nil {
			c.Metrics = metrics.NewMetrics(reg)
		}
		if c.Gatherer == nil {
			c.Gatherer = reg
		}
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

type ServerOption interface {
	ConfigureServer(*ServerConfig)
}

type WithAddress string

func (w WithAddress) ConfigureServer(c *ServerConfig) {
	c.Address = string(w)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureServer(c *ServerConfig) {
	c.Logger = w.Logger
}

type WithMetrics struct {
	Metrics *metrics.Metrics
}

func (w WithMetrics) ConfigureServer(c *ServerConfig) {
	c.Metrics = w.Metrics
}

// WithGatherer sets the registry served on /metrics.
type WithGatherer struct {
	Gatherer prometheus.Gatherer
}

func (w WithGatherer) ConfigureServer(c *ServerConfig) {
	c.Gatherer = w.Gatherer
}

type WithShutdownTimeout time.Duration

func (w WithShutdownTimeout) ConfigureServer(c *ServerConfig) {
	c.ShutdownTimeout = time.Duration(w)
}

// MonitorState is the view of the background monitor served on
// /monitor/status.
type MonitorState interface {
	Last() (monitor.Result, bool)
	Active() []alert.Alert
}

type WithMonitor struct {
	Monitor MonitorState
}

func (w WithMonitor) ConfigureServer(c *ServerConfig) {
	c.Monitor = w.Monitor
}
