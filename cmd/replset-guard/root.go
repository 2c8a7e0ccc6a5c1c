package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/api"
	"github.com/Ajpantuso/replset-guard/internal/collector"
	"github.com/Ajpantuso/replset-guard/internal/config"
	"github.com/Ajpantuso/replset-guard/internal/health"
	"github.com/Ajpantuso/replset-guard/internal/lifecycle"
	"github.com/Ajpantuso/replset-guard/internal/metrics"
	"github.com/Ajpantuso/replset-guard/internal/monitor"
	"github.com/Ajpantuso/replset-guard/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

var (
	cfgFile string
	logger  *zap.SugaredLogger
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replset-guard",
		Short: "Cluster state classification and consistency guard for replica sets",
		Long: `replset-guard watches a replicated store, classifies its topology,
	raises alerts, recommends recovery actions and refuses majority writes
	while the cluster has no single primary. Every guarded write, recovery
	trigger and injected fault is recorded in a hash-chained audit log.`,
		SilenceUsage: true,
	}

	viper, err := SetupViper(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up configuration: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newAuditCommand(viper))

	cmd.PersistentPreRunE = initializeLogging(viper)
	cmd.RunE = run(viper)

	return cmd
}

// initializeLogging loads configuration and sets up the logger from it
func initializeLogging(viper *viper.Viper) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, s []string) error {
		LoadOptions(viper)

		level := viper.GetString("log-level")
		format := viper.GetString("log-format")

		var config zap.Config
		if format == "console" {
			config = zap.NewDevelopmentConfig()
		} else {
			config = zap.NewProductionConfig()
		}

		config.Level = zap.NewAtomicLevelAt(parseLogLevel(level))
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}

		baseLogger, err := config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		logger = baseLogger.Sugar()
		return nil
	}
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func run(viper *viper.Viper) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		defer logger.Sync() //nolint:errcheck

		logger.Infow("Starting replset-guard",
			"version", config.Version,
			"store_backend", viper.GetString("store-backend"),
			"listen_address", viper.GetString("listen-address"),
		)

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := metrics.NewMetrics(reg)

		st, err := openStore(ctx, viper)
		if err != nil {
			logger.Errorw("Failed to connect to store", "error", err)
			return err
		}
		defer st.close()

		auditLog, err := openAuditLog(viper)
		if err != nil {
			logger.Errorw("Failed to open audit log", "error", err)
			return err
		}
		defer auditLog.Close()

		coll := collector.NewCollector(st.source,
			collector.WithLogger{Logger: logger},
			collector.WithTimeout(viper.GetDuration("collect-timeout")),
			collector.WithObserver(func(d time.Duration, _ error) {
				m.CollectDuration.Observe(d.Seconds())
			}),
		)

		svcOpts := []service.ServiceOption{
			service.WithLogger{Logger: logger},
			service.WithMetrics{Metrics: m},
			service.WithWriteTimeout(viper.GetDuration("write-timeout")),
			service.WithLifecycleTimeout(viper.GetDuration("lifecycle-timeout")),
			service.WithDefaultRestartDelay(viper.GetDuration("default-restart-delay")),
		}
		if st.oplog != nil {
			svcOpts = append(svcOpts, service.WithOplog{Source: st.oplog})
		}
		if viper.GetBool("lifecycle-enabled") {
			k8sClient, err := newKubernetesClient()
			if err != nil {
				return err
			}
			namespace := viper.GetString("lifecycle-namespace")
			svcOpts = append(svcOpts, service.WithRuntime{
				Runtime: lifecycle.NewKubernetesRuntime(k8sClient, namespace, logger),
			})
			logger.Infow("Fault injection enabled", "namespace", namespace)
		}

		svc := service.NewService(coll, st.writer, auditLog, svcOpts...)
		defer svc.Close()

		mon := monitor.NewMonitor(coll,
			monitor.WithLogger{Logger: logger},
			monitor.WithMetrics{Metrics: m},
			monitor.WithInterval(viper.GetDuration("monitor-interval")),
		)
		hc := health.NewHealthChecker(coll, logger)
		server := api.NewServer(svc, hc,
			api.WithAddress(viper.GetString("listen-address")),
			api.WithLogger{Logger: logger},
			api.WithMetrics{Metrics: m},
			api.WithGatherer{Gatherer: reg},
			api.WithMonitor{Monitor: mon},
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return server.Run(gctx) })
		g.Go(func() error { return mon.Run(gctx) })

		// Mark as ready after initialization
		hc.SetReady(true)

		if err := g.Wait(); err != nil {
			logger.Errorw("replset-guard failed", "error", err)
			return err
		}

		logger.Info("replset-guard stopped")
		return nil
	}
}

func newKubernetesClient() (kubernetes.Interface, error) {
	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		logger.Errorw("Failed to load in-cluster config", "error", err)
		return nil, err
	}

	k8sClient, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		logger.Errorw("Failed to create Kubernetes client", "error", err)
		return nil, err
	}

	logger.Infow("Kubernetes client initialized")
	return k8sClient, nil
}
