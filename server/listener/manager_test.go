package listener

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/helixdb/helix/settings"
)

// fakeListener records lifecycle calls and fails on demand.
type fakeListener struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	stopErr  error
	running  bool
}

func (f *fakeListener) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeListener) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return f.stopErr
}

func (f *fakeListener) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// fakeFactory hands out pre-seeded listeners keyed by spec.
type fakeFactory struct {
	mu        sync.Mutex
	listeners map[settings.Port]*fakeListener
	buildErr  map[settings.Port]error
	built     []settings.Port
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		listeners: make(map[settings.Port]*fakeListener),
		buildErr:  make(map[settings.Port]error),
	}
}

func (f *fakeFactory) factory() Factory {
	return func(spec settings.Port) (Listener, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.built = append(f.built, spec)
		if err := f.buildErr[spec]; err != nil {
			return nil, err
		}
		lis, ok := f.listeners[spec]
		if !ok {
			lis = &fakeListener{}
			f.listeners[spec] = lis
		}
		return lis, nil
	}
}

func (f *fakeFactory) listener(spec settings.Port) *fakeListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	lis, ok := f.listeners[spec]
	if !ok {
		lis = &fakeListener{}
		f.listeners[spec] = lis
	}
	return lis
}

func portSpec(port int) settings.Port {
	return settings.Port{
		Protocol: ProtocolEdgeQLHTTP,
		Address:  "127.0.0.1",
		Port:     port,
		Database: "helixdb",
		User:     "http",
	}
}

func TestStartAndDuplicate(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()
	spec := portSpec(8888)

	require.NoError(t, m.Start(ctx, spec, false))
	require.True(t, m.Running(spec))

	// Second start of the same key is a no-op.
	require.NoError(t, m.Start(ctx, spec, false))
	starts, _ := f.listener(spec).counts()
	require.Equal(t, 1, starts)
}

func TestStartFailureCleansUp(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()
	spec := portSpec(8888)
	f.listener(spec).startErr = errors.New("bind: address already in use")

	err := m.Start(ctx, spec, false)
	require.Error(t, err)
	require.False(t, m.Running(spec))

	// The stop hook ran for cleanup.
	_, stops := f.listener(spec).counts()
	require.Equal(t, 1, stops)

	// Best-effort bring-up swallows the failure.
	require.NoError(t, m.Start(ctx, spec, true))
	require.False(t, m.Running(spec))
}

func TestStopTwice(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()
	spec := portSpec(8888)

	require.NoError(t, m.Start(ctx, spec, false))
	m.Stop(ctx, spec)
	// Second stop is a no-op warning, never a crash.
	m.Stop(ctx, spec)

	_, stops := f.listener(spec).counts()
	require.Equal(t, 1, stops)
}

// Stopping a key whose listener is still being constructed must remove
// the registration without crashing, and the listener must never come up.
func TestStopDuringStart(t *testing.T) {
	building := make(chan struct{})
	release := make(chan struct{})
	lis := &fakeListener{}
	factory := func(spec settings.Port) (Listener, error) {
		close(building)
		<-release
		return lis, nil
	}
	m := NewManager(factory)
	ctx := context.Background()
	spec := portSpec(8888)

	done := make(chan error, 1)
	go func() {
		done <- m.Start(ctx, spec, false)
	}()

	<-building
	m.Stop(ctx, spec) // registration exists, listener does not
	close(release)

	require.NoError(t, <-done)
	require.False(t, m.Running(spec))
	starts, _ := lis.counts()
	require.Equal(t, 0, starts)
}

func TestStopFailureIsSwallowed(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()
	spec := portSpec(8888)
	f.listener(spec).stopErr = errors.New("sockets are hard")

	require.NoError(t, m.Start(ctx, spec, false))
	m.Stop(ctx, spec) // must not panic or raise
	require.False(t, m.Running(spec))
}

func mgmtSpec(host string, port int) settings.Port {
	return settings.Port{Protocol: ProtocolBinary, Address: host, Port: port}
}

func TestRestartManagement(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()

	l0 := mgmtSpec("hostA", 10701)
	l1 := mgmtSpec("hostB", 10702)
	require.NoError(t, m.StartManagement(ctx, l0))
	require.Equal(t, l0, m.ManagementSpec())

	require.NoError(t, m.RestartManagement(ctx, l1))
	require.Equal(t, l1, m.ManagementSpec())
	require.False(t, f.listener(l0).running)
	require.True(t, f.listener(l1).running)
}

// A failed restart must leave the original listener running and re-raise
// the original start error.
func TestRestartManagementRollback(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()

	l0 := mgmtSpec("hostA", 10701)
	l1 := mgmtSpec("hostB", 10702)
	startErr := errors.New("bind: address already in use")
	f.listener(l1).startErr = startErr

	require.NoError(t, m.StartManagement(ctx, l0))
	err := m.RestartManagement(ctx, l1)
	require.Equal(t, startErr, errors.Cause(err))

	// Back on the original configuration.
	require.Equal(t, l0, m.ManagementSpec())
	require.True(t, f.listener(l0).running)
	require.False(t, f.listener(l1).running)
}

// Even when rollback fails, the original error is the one raised.
func TestRestartManagementRollbackFailure(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()

	l0 := mgmtSpec("hostA", 10701)
	l1 := mgmtSpec("hostB", 10702)
	require.NoError(t, m.StartManagement(ctx, l0))

	startErr := errors.New("replacement failed")
	f.listener(l1).startErr = startErr
	f.listener(l0).startErr = errors.New("rollback failed too")

	err := m.RestartManagement(ctx, l1)
	require.Equal(t, startErr, errors.Cause(err))
}

func TestRestartManagementConstructionFailure(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()

	l0 := mgmtSpec("hostA", 10701)
	l1 := mgmtSpec("hostB", 10702)
	buildErr := errors.New("unknown protocol")
	f.buildErr[l1] = buildErr

	require.NoError(t, m.StartManagement(ctx, l0))
	err := m.RestartManagement(ctx, l1)
	require.Equal(t, buildErr, errors.Cause(err))
	require.True(t, f.listener(l0).running)
}

func TestStopAll(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f.factory())
	ctx := context.Background()

	require.NoError(t, m.StartManagement(ctx, mgmtSpec("hostA", 10701)))
	require.NoError(t, m.Start(ctx, portSpec(8888), false))
	require.NoError(t, m.Start(ctx, portSpec(8889), false))

	m.StopAll(ctx)
	require.Empty(t, m.Registrations())
	require.False(t, f.listener(mgmtSpec("hostA", 10701)).running)
}

func TestFactoryUnknownProtocol(t *testing.T) {
	factory := NewFactory()
	_, err := factory(settings.Port{Protocol: "carrier-pigeon"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown protocol")
}
