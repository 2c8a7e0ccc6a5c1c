package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

type call struct {
	op   string
	node string
}

type fakeRuntime struct {
	mu      sync.Mutex
	calls   []call
	stopErr error
}

func (f *fakeRuntime) Stop(_ context.Context, node string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"stop", node})
	return f.stopErr
}

func (f *fakeRuntime) Start(_ context.Context, node string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"start", node})
	return nil
}

func (f *fakeRuntime) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestWorkloadName(t *testing.T) {
	assert.Equal(t, "mongo2", lifecycle.WorkloadName("mongo2:27017"))
	assert.Equal(t, "mongo2", lifecycle.WorkloadName("mongo2.mongo.svc:27017"))
	assert.Equal(t, "mongo2", lifecycle.WorkloadName("mongo2"))
}

func TestKubernetesRuntimeScales(t *testing.T) {
	ctx := context.Background()
	one := int32(1)
	k8sClient := fake.NewSimpleClientset(&appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "mongo2", Namespace: "db"},
		Spec:       appsv1.StatefulSetSpec{Replicas: &one},
	})
	runtime := lifecycle.NewKubernetesRuntime(k8sClient, "db", nil)

	require.NoError(t, runtime.Stop(ctx, "mongo2:27017"))
	sts, err := k8sClient.AppsV1().StatefulSets("db").Get(ctx, "mongo2", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), *sts.Spec.Replicas)

	require.NoError(t, runtime.Start(ctx, "mongo2:27017"))
	sts, err = k8sClient.AppsV1().StatefulSets("db").Get(ctx, "mongo2", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *sts.Spec.Replicas)

	err = runtime.Stop(ctx, "missing:27017")
	assert.ErrorContains(t, err, "db/missing")
}

func TestSchedulerRestartsAfterDelay(t *testing.T) {
	runtime := &fakeRuntime{}
	restarted := make(chan string, 1)
	s := lifecycle.NewScheduler(runtime, lifecycle.WithRestartHook(func(node string, err error) {
		assert.NoError(t, err)
		restarted <- node
	}))
	defer s.Close()

	require.NoError(t, s.Stop(context.Background(), "a:1", 20*time.Millisecond))
	require.Len(t, s.Pending(), 1)
	assert.Equal(t, "a:1", s.Pending()[0].Node)

	select {
	case node := <-restarted:
		assert.Equal(t, "a:1", node)
	case <-time.After(5 * time.Second):
		t.Fatal("restart never ran")
	}

	assert.Empty(t, s.Pending())
	assert.Equal(t, []call{{"stop", "a:1"}, {"start", "a:1"}}, runtime.Calls())
}

func TestSchedulerSecondStopReplacesPendingRestart(t *testing.T) {
	runtime := &fakeRuntime{}
	s := lifecycle.NewScheduler(runtime)

	require.NoError(t, s.Stop(context.Background(), "a:1", time.Hour))
	first := s.Pending()[0].Due
	require.NoError(t, s.Stop(context.Background(), "a:1", 2*time.Hour))

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Due.After(first))

	s.Close()
	assert.Empty(t, s.Pending())
	assert.Equal(t, []call{{"stop", "a:1"}, {"stop", "a:1"}}, runtime.Calls())
}

func TestSchedulerStartCancelsPendingRestart(t *testing.T) {
	runtime := &fakeRuntime{}
	s := lifecycle.NewScheduler(runtime)
	defer s.Close()

	require.NoError(t, s.Stop(context.Background(), "a:1", 30*time.Millisecond))
	require.NoError(t, s.Start(context.Background(), "a:1"))
	assert.Empty(t, s.Pending())

	// the cancelled restart must not fire
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []call{{"stop", "a:1"}, {"start", "a:1"}}, runtime.Calls())
}

func TestSchedulerCancel(t *testing.T) {
	s := lifecycle.NewScheduler(&fakeRuntime{})
	defer s.Close()

	require.NoError(t, s.Stop(context.Background(), "b:1", time.Hour))
	require.NoError(t, s.Stop(context.Background(), "a:1", time.Hour))
	require.NoError(t, s.Stop(context.Background(), "c:1", 0))

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a:1", pending[0].Node)
	assert.Equal(t, "b:1", pending[1].Node)

	assert.True(t, s.Cancel("a:1"))
	assert.False(t, s.Cancel("a:1"))
	assert.False(t, s.Cancel("c:1"))
	assert.Len(t, s.Pending(), 1)
}

func TestSchedulerStopFailureSchedulesNothing(t *testing.T) {
	runtime := &fakeRuntime{stopErr: errors.New("forbidden")}
	s := lifecycle.NewScheduler(runtime)
	defer s.Close()

	err := s.Stop(context.Background(), "a:1", time.Hour)
	assert.EqualError(t, err, "forbidden")
	assert.Empty(t, s.Pending())
}

func TestSchedulerClosed(t *testing.T) {
	s := lifecycle.NewScheduler(&fakeRuntime{})
	s.Close()

	assert.ErrorIs(t, s.Stop(context.Background(), "a:1", time.Second), lifecycle.ErrClosed)
	assert.ErrorIs(t, s.Start(context.Background(), "a:1"), lifecycle.ErrClosed)
}

// gatedRuntime holds every Start until release is closed and tracks whether
// the node ends up running.
type gatedRuntime struct {
	mu      sync.Mutex
	running bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRuntime) Stop(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
	return nil
}

func (g *gatedRuntime) Start(context.Context, string) error {
	g.entered <- struct{}{}
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = true
	return nil
}

func (g *gatedRuntime) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func TestSchedulerStopDuringScheduledRestartWins(t *testing.T) {
	runtime := &gatedRuntime{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := lifecycle.NewScheduler(runtime)
	defer s.Close()

	require.NoError(t, s.Stop(context.Background(), "a:1", 10*time.Millisecond))

	select {
	case <-runtime.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled restart never started")
	}

	done := make(chan error, 1)
	go func() { done <- s.Stop(context.Background(), "a:1", 0) }()

	// the stop waits for the in-flight restart instead of racing it
	select {
	case err := <-done:
		t.Fatalf("stop returned while restart was running: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(runtime.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop never returned")
	}

	assert.False(t, runtime.Running())
	assert.Empty(t, s.Pending())
}
