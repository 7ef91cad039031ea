package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helixdb/helix/backend/memory"
	"github.com/helixdb/helix/errs"
	"github.com/helixdb/helix/server/config"
	"github.com/helixdb/helix/server/listener"
	"github.com/helixdb/helix/settings"
)

type fakeListener struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error
}

func (l *fakeListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	if l.startErr != nil {
		return l.startErr
	}
	l.running = true
	return nil
}

func (l *fakeListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.stops++
		l.running = false
	}
	return nil
}

func (l *fakeListener) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

type fakeFactory struct {
	mu       sync.Mutex
	built    map[settings.Port]*fakeListener
	startErr map[settings.Port]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		built:    make(map[settings.Port]*fakeListener),
		startErr: make(map[settings.Port]error),
	}
}

func (f *fakeFactory) New(spec settings.Port) (listener.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &fakeListener{startErr: f.startErr[spec]}
	f.built[spec] = l
	return l, nil
}

func (f *fakeFactory) get(spec settings.Port) *fakeListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[spec]
}

func (f *fakeFactory) failStart(spec settings.Port, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr[spec] = err
}

func mgmtPort(port int) settings.Port {
	return settings.Port{
		Protocol: listener.ProtocolBinary,
		Address:  settings.DefaultListenAddress,
		Port:     port,
	}
}

const emptySchema = `{"types": []}`

func newTestServer(t *testing.T, sysConfig string) (*Server, *memory.Backend, *fakeFactory) {
	b := memory.New()
	b.AddRole("admin", true, "secret")
	b.AddDatabase("helixdb", []byte(emptySchema))
	if sysConfig != "" {
		b.SetSysConfig([]byte(sysConfig))
	}

	cfg := config.NewConfig()
	require.NoError(t, cfg.Parse(nil))

	f := newFakeFactory()
	s := New(cfg, b, f.New)
	require.NoError(t, s.Init(context.Background()))
	return s, b, f
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "condition never held")
}

func TestInitLoadsCaches(t *testing.T) {
	s, _, _ := newTestServer(t, `{"listen_port": 10701}`)

	require.Contains(t, s.Roles(), "admin")
	require.True(t, s.Roles()["admin"].Superuser)

	_, ok := s.Index().DB("helixdb")
	require.True(t, ok)

	require.Equal(t, int64(10701), s.Index().SysConfig().Lookup("listen_port"))
	require.Equal(t, mgmtPort(10701), s.mgmtSpec)
}

// Stored listen settings of the wrong type must not crash Init; the
// registry defaults take over.
func TestInitToleratesMalformedListenSettings(t *testing.T) {
	s, _, _ := newTestServer(t, `{"listen_addresses": 42, "listen_port": "oops"}`)
	require.Equal(t, mgmtPort(settings.DefaultPort), s.mgmtSpec)
}

func TestStartBringsUpStoredPorts(t *testing.T) {
	extra := settings.Port{
		Protocol: listener.ProtocolEdgeQLHTTP,
		Address:  "localhost",
		Port:     8080,
		Database: "helixdb",
		User:     "admin",
	}
	s, _, f := newTestServer(t,
		`{"ports": [{"protocol": "edgeql+http", "address": "localhost", "port": 8080, "database": "helixdb", "user": "admin"}]}`)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.True(t, s.Serving())
	require.True(t, f.get(mgmtPort(settings.DefaultPort)).isRunning())
	require.True(t, f.get(extra).isRunning())
	require.True(t, s.Listeners().Running(extra))
}

func TestStopDrainsEverything(t *testing.T) {
	s, _, f := newTestServer(t, "")
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	require.False(t, s.Serving())
	require.False(t, f.get(mgmtPort(settings.DefaultPort)).isRunning())
	require.Panics(t, func() {
		_, _ = s.syscon.Acquire(context.Background())
	})
}

func TestAuthMethodDefaults(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	require.Equal(t, DefaultAuthMethod, s.AuthMethod("anyone"))
}

func TestAuthMethodPriorityOrder(t *testing.T) {
	s, _, _ := newTestServer(t, `{
		"auth": [
			{"priority": 10, "user": ["*"], "method": "SCRAM"},
			{"priority": 0, "user": ["admin"], "method": "Trust"}
		]
	}`)

	require.Equal(t, "Trust", s.AuthMethod("admin"))
	require.Equal(t, "SCRAM", s.AuthMethod("guest"))
}

func TestOnDropDatabase(t *testing.T) {
	s, b, _ := newTestServer(t, "")

	s.Index().AddConn("helixdb")
	err := s.OnDropDatabase(context.Background(), "helixdb")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindExecution))
	_, ok := s.Index().DB("helixdb")
	require.True(t, ok)

	s.Index().RemoveConn("helixdb")
	require.NoError(t, s.OnDropDatabase(context.Background(), "helixdb"))
	_, ok = s.Index().DB("helixdb")
	require.False(t, ok)
	require.Equal(t, 1, b.Pruned("helixdb"))
}
