package etcd

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

// Discovery finds the client endpoints of an etcd cluster running in
// Kubernetes from the labels on its pods.
type Discovery struct {
	k8sClient kubernetes.Interface
	cfg       *DiscoveryConfig
}

func NewDiscovery(k8sClient kubernetes.Interface, opts ...DiscoveryOption) *Discovery {
	var cfg DiscoveryConfig
	cfg.Options(opts...)
	cfg.Default()

	return &Discovery{
		k8sClient: k8sClient,
		cfg:       &cfg,
	}
}

// Endpoints lists pods in namespace labelled clusterLabelKey=clusterName and
// returns one client URL per pod, addressed through the headless service.
func (d *Discovery) Endpoints(ctx context.Context, namespace, clusterName string) ([]string, error) {
	selector := labels.SelectorFromSet(map[string]string{
		d.cfg.ClusterLabelKey: clusterName,
	})

	pods, err := d.k8sClient.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods by label: %w", err)
	}

	if len(pods.Items) == 0 {
		return nil, fmt.Errorf("no ETCD pods found with label %s=%s", d.cfg.ClusterLabelKey, clusterName)
	}

	endpoints := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		host := pod.Name
		if pod.Spec.Subdomain != "" {
			host = fmt.Sprintf("%s.%s", pod.Name, pod.Spec.Subdomain)
		}
		endpoints = append(endpoints, fmt.Sprintf("%s://%s.%s.svc:%d", d.cfg.Scheme, host, namespace, d.cfg.ClientPort))
	}
	sort.Strings(endpoints)

	d.cfg.Logger.Infow("Discovered ETCD cluster via labels",
		"cluster_name", clusterName,
		"endpoints", endpoints,
		"pod_count", len(pods.Items),
	)
	return endpoints, nil
}

type DiscoveryConfig struct {
	Logger          *zap.SugaredLogger
	ClusterLabelKey string
	Scheme          string
	ClientPort      int
}

func (c *DiscoveryConfig) Options(opts ...DiscoveryOption) {
	for _, opt := range opts {
		opt.ConfigureDiscovery(c)
	}
}

func (c *DiscoveryConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.ClusterLabelKey == "" {
		c.ClusterLabelKey = "etcd.io/cluster"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.ClientPort == 0 {
		c.ClientPort = 2379
	}
}

type DiscoveryOption interface {
	ConfigureDiscovery(*DiscoveryConfig)
}

type WithClusterLabelKey string

func (w WithClusterLabelKey) ConfigureDiscovery(c *DiscoveryConfig) {
	c.ClusterLabelKey = string(w)
}

// WithTLS switches discovered endpoints to https.
type WithTLS bool

func (w WithTLS) ConfigureDiscovery(c *DiscoveryConfig) {
	if w {
		c.Scheme = "https"
	} else {
		c.Scheme = "http"
	}
}
