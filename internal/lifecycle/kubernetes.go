package lifecycle

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// Runtime stops and starts the container backing a member.
type Runtime interface {
	Stop(ctx context.Context, node string) error
	Start(ctx context.Context, node string) error
}

// KubernetesRuntime runs every member as its own single-replica StatefulSet
// and stops a member by scaling it to zero.
type KubernetesRuntime struct {
	k8sClient kubernetes.Interface
	namespace string
	logger    *zap.SugaredLogger
}

func NewKubernetesRuntime(k8sClient kubernetes.Interface, namespace string, logger *zap.SugaredLogger) *KubernetesRuntime {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KubernetesRuntime{
		k8sClient: k8sClient,
		namespace: namespace,
		logger:    logger,
	}
}

// WorkloadName maps a member name such as "mongo2:27017" or
// "mongo2.mongo.svc:27017" onto the StatefulSet name "mongo2".
func WorkloadName(node string) string {
	host := node
	if h, _, err := net.SplitHostPort(node); err == nil {
		host = h
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

func (r *KubernetesRuntime) Stop(ctx context.Context, node string) error {
	return r.scale(ctx, node, 0)
}

func (r *KubernetesRuntime) Start(ctx context.Context, node string) error {
	return r.scale(ctx, node, 1)
}

func (r *KubernetesRuntime) scale(ctx context.Context, node string, replicas int32) error {
	name := WorkloadName(node)
	statefulSets := r.k8sClient.AppsV1().StatefulSets(r.namespace)

	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		sts, err := statefulSets.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if sts.Spec.Replicas != nil && *sts.Spec.Replicas == replicas {
			return nil
		}
		sts.Spec.Replicas = &replicas
		_, err = statefulSets.Update(ctx, sts, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to scale statefulset %s/%s to %d: %w", r.namespace, name, replicas, err)
	}

	r.logger.Infow("Scaled member workload",
		"node", node,
		"statefulset", name,
		"namespace", r.namespace,
		"replicas", replicas,
	)
	return nil
}
