package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/audit"
	"github.com/Ajpantuso/replset-guard/internal/collector"
	"github.com/Ajpantuso/replset-guard/internal/etcd"
	"github.com/Ajpantuso/replset-guard/internal/guard"
	"github.com/Ajpantuso/replset-guard/internal/mongodb"
	"github.com/Ajpantuso/replset-guard/internal/service"
	"github.com/spf13/viper"
)

// store bundles the status source and write path of one backend.
// oplog is nil for backends without one.
type store struct {
	source collector.StatusSource
	writer guard.Writer
	oplog  service.OplogSource
	close  func()
}

func openStore(ctx context.Context, viper *viper.Viper) (*store, error) {
	switch backend := viper.GetString("store-backend"); backend {
	case backendMongoDB:
		return openMongoDB(ctx, viper)
	case backendEtcd:
		return openEtcd(ctx, viper)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", backend)
	}
}

func openMongoDB(ctx context.Context, viper *viper.Viper) (*store, error) {
	client, err := mongodb.Connect(ctx, viper.GetString("mongo-uri"), viper.GetDuration("collect-timeout"))
	if err != nil {
		return nil, err
	}

	database := viper.GetString("mongo-database")
	logger.Infow("MongoDB client initialized", "database", database)

	source := mongodb.NewSource(client, logger)
	return &store{
		source: source,
		writer: mongodb.NewWriter(client, database),
		oplog:  source,
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				logger.Warnw("Failed to disconnect MongoDB client", "error", err)
			}
		},
	}, nil
}

func openEtcd(ctx context.Context, viper *viper.Viper) (*store, error) {
	tlsEnabled := viper.GetBool("etcd-tls-enabled")
	clusterName := viper.GetString("etcd-cluster")

	endpoints := viper.GetStringSlice("etcd-endpoints")
	if namespace := viper.GetString("etcd-namespace"); namespace != "" {
		k8sClient, err := newKubernetesClient()
		if err != nil {
			return nil, err
		}
		discovery := etcd.NewDiscovery(k8sClient,
			etcd.WithLogger{Logger: logger},
			etcd.WithClusterLabelKey(viper.GetString("cluster-label-key")),
			etcd.WithTLS(tlsEnabled),
		)
		if endpoints, err = discovery.Endpoints(ctx, namespace, clusterName); err != nil {
			return nil, err
		}
	}

	var tlsConfig *tls.Config
	if tlsEnabled {
		var err error
		tlsConfig, err = etcd.LoadTLSConfig(
			viper.GetString("etcd-client-cert-path"),
			viper.GetString("etcd-client-key-path"),
			viper.GetString("etcd-ca-path"),
		)
		if err != nil {
			return nil, err
		}
	}

	client, err := etcd.NewClient(endpoints, tlsConfig, viper.GetDuration("collect-timeout"))
	if err != nil {
		return nil, err
	}

	logger.Infow("ETCD client initialized",
		"cluster", clusterName,
		"endpoints", endpoints,
		"tls_enabled", tlsEnabled,
	)

	return &store{
		source: etcd.NewSource(client,
			etcd.WithLogger{Logger: logger},
			etcd.WithClusterName(clusterName),
			etcd.WithProbeConcurrency(viper.GetInt("etcd-probe-concurrency")),
		),
		writer: etcd.NewWriter(client, viper.GetString("etcd-write-prefix")),
		close: func() {
			if err := client.Close(); err != nil {
				logger.Warnw("Failed to close ETCD client", "error", err)
			}
		},
	}, nil
}

func openAuditLog(viper *viper.Viper) (*audit.Log, error) {
	var backend audit.Backend
	switch kind := viper.GetString("audit-backend"); kind {
	case auditBolt:
		path := viper.GetString("audit-path")
		b, err := audit.OpenBoltBackend(path)
		if err != nil {
			return nil, err
		}
		logger.Infow("Audit log opened", "backend", kind, "path", path)
		backend = b
	case auditMemory:
		logger.Warnw("Audit log is not persisted", "backend", kind)
		backend = audit.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported audit backend %q", kind)
	}

	return audit.NewLog(backend, audit.WithLogger{Logger: logger}), nil
}
