package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	backendMongoDB = "mongodb"
	backendEtcd    = "etcd"

	auditBolt   = "bolt"
	auditMemory = "memory"
)

func SetupViper(cmd *cobra.Command) (*viper.Viper, error) {
	cmd.PersistentFlags().StringVar(&cfgFile, "config", ".replset-guard.yaml", "config file")

	// Shared by every subcommand
	persistent := cmd.PersistentFlags()
	persistent.String("audit-backend", auditBolt, "Audit log storage (bolt, memory)")
	persistent.String("audit-path", "replset-guard-audit.db", "Path of the bolt audit database")
	persistent.String("log-level", "info", "Log level (debug, info, warn, error)")
	persistent.String("log-format", "json", "Log format (json, console)")

	flags := cmd.Flags()

	// Store Configuration
	flags.String("store-backend", backendMongoDB, "Replicated store to guard (mongodb, etcd)")
	flags.Duration("collect-timeout", 5*time.Second, "Timeout for a single status query")
	flags.Duration("write-timeout", 5*time.Second, "Timeout for a single guarded write")

	// MongoDB Configuration
	flags.String("mongo-uri", "mongodb://localhost:27017/?replicaSet=rs0", "MongoDB connection string")
	flags.String("mongo-database", "replset_guard", "Database receiving guarded writes")

	// ETCD Configuration
	flags.StringSlice("etcd-endpoints", []string{"http://localhost:2379"}, "ETCD client endpoints")
	flags.String("etcd-namespace", "", "Namespace to discover ETCD members in (empty disables discovery)")
	flags.String("etcd-cluster", "etcd", "ETCD cluster name, also used for member discovery")
	flags.String("cluster-label-key", "etcd.io/cluster", "Label key used to identify ETCD cluster membership")
	flags.String("etcd-write-prefix", "/replset-guard/writes", "Key prefix for guarded writes")
	flags.Int("etcd-probe-concurrency", 8, "Maximum concurrent member status probes")

	// ETCD TLS Configuration
	flags.Bool("etcd-tls-enabled", false, "Enable TLS authentication for ETCD")
	flags.String("etcd-client-cert-path", "/etc/etcd/tls/client/etcd-client.crt", "Path to ETCD client certificate")
	flags.String("etcd-client-key-path", "/etc/etcd/tls/client/etcd-client.key", "Path to ETCD client key")
	flags.String("etcd-ca-path", "/etc/etcd/tls/etcd-ca/ca.crt", "Path to ETCD CA certificate")

	// Monitoring
	flags.Duration("monitor-interval", 5*time.Second, "Interval between background cluster assessments")

	// Fault Injection
	flags.Bool("lifecycle-enabled", false, "Enable node stop/start through Kubernetes StatefulSets")
	flags.String("lifecycle-namespace", "default", "Namespace of the member StatefulSets")
	flags.Duration("lifecycle-timeout", 30*time.Second, "Timeout for a single stop or start")
	flags.Duration("default-restart-delay", 30*time.Second, "Restart delay used when a stop request names none")

	// Observability
	flags.String("listen-address", ":8080", "Address for the API, metrics and health endpoints")

	viper := viper.New()

	if err := viper.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	if err := viper.BindPFlags(persistent); err != nil {
		return nil, fmt.Errorf("binding persistent flags: %w", err)
	}

	return viper, nil
}

func LoadOptions(viper *viper.Viper) {
	viper.SetConfigType("yaml")
	viper.SetConfigFile(cfgFile)

	// LOG_LEVEL overrides log-level
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		viper.WatchConfig()
	}
}
