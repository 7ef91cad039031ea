package listener

import (
	"context"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/helixdb/helix/errs"
	"github.com/helixdb/helix/settings"
)

// Manager owns the listener registry. All lifecycle transitions go
// through its operations; at most one live registration exists per key.
type Manager struct {
	factory Factory

	mu    sync.Mutex
	ports map[settings.Port]*registration

	mgmt     Listener
	mgmtSpec settings.Port
}

// NewManager returns a manager constructing listeners through factory.
func NewManager(factory Factory) *Manager {
	return &Manager{
		factory: factory,
		ports:   make(map[settings.Port]*registration),
	}
}

// Start brings up the listener for spec. Starting an already-registered
// key is a no-op. On start failure the listener's stop hook runs for
// cleanup, and the error propagates unless bestEffort is set, in which
// case it is logged and swallowed (bulk bring-up of configured ports).
func (m *Manager) Start(ctx context.Context, spec settings.Port, bestEffort bool) error {
	m.mu.Lock()
	if _, ok := m.ports[spec]; ok {
		m.mu.Unlock()
		log.Info("listener for port configuration already started",
			zap.Stringer("port", spec))
		return nil
	}
	reg := &registration{spec: spec, state: int32(StateStarting)}
	m.ports[spec] = reg
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		if m.ports[spec] == reg {
			delete(m.ports, spec)
		}
		m.mu.Unlock()
		listenerEvents.WithLabelValues("start", "error").Inc()
		if bestEffort {
			log.Error("failed to start listener for port configuration",
				zap.Stringer("port", spec), zap.Error(err))
			return nil
		}
		return err
	}

	lis, err := m.factory(spec)
	if err != nil {
		return fail(err)
	}

	m.mu.Lock()
	if m.ports[spec] != reg {
		// Stop got here first, while the listener was still being built.
		m.mu.Unlock()
		return nil
	}
	reg.lis = lis
	m.mu.Unlock()

	if err := lis.Start(ctx); err != nil {
		if serr := lis.Stop(ctx); serr != nil {
			log.Error("failed to clean up listener after start failure",
				zap.Stringer("port", spec), zap.Error(serr))
		}
		return fail(err)
	}

	m.mu.Lock()
	if m.ports[spec] != reg {
		// Stop raced the start but saw no listener to stop yet.
		m.mu.Unlock()
		if serr := lis.Stop(ctx); serr != nil {
			log.Error("failed to stop listener removed during start",
				zap.Stringer("port", spec), zap.Error(serr))
		}
		return nil
	}
	reg.setState(StateRunning)
	m.mu.Unlock()
	listenerEvents.WithLabelValues("start", "ok").Inc()
	log.Info("started listener for port configuration", zap.Stringer("port", spec))
	return nil
}

// Stop tears down the listener for spec. Stopping an unregistered key is
// a no-op with a warning. Stop failure is logged, never raised: stop is
// always best-effort.
func (m *Manager) Stop(ctx context.Context, spec settings.Port) {
	m.mu.Lock()
	reg, ok := m.ports[spec]
	if !ok {
		m.mu.Unlock()
		log.Warn("no listener to stop for port configuration",
			zap.Stringer("port", spec))
		return
	}
	delete(m.ports, spec)
	lis := reg.lis
	m.mu.Unlock()

	reg.setState(StateStopping)
	if lis == nil {
		// Caught mid-construction. The removal from the registry is
		// enough: Start observes it and never brings the listener up.
		reg.setState(StateStopped)
		log.Info("removed listener registration before it started",
			zap.Stringer("port", spec))
		return
	}
	if err := lis.Stop(ctx); err != nil {
		listenerEvents.WithLabelValues("stop", "error").Inc()
		log.Error("failed to stop listener for port configuration",
			zap.Stringer("port", spec), zap.Error(err))
	} else {
		listenerEvents.WithLabelValues("stop", "ok").Inc()
		log.Info("stopped listener for port configuration", zap.Stringer("port", spec))
	}
	reg.setState(StateStopped)
}

// Running reports whether spec currently has a running registration.
func (m *Manager) Running(spec settings.Port) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.ports[spec]
	return ok && reg.getState() == StateRunning
}

// Registrations returns the keys of all live registrations.
func (m *Manager) Registrations() []settings.Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]settings.Port, 0, len(m.ports))
	for spec := range m.ports {
		out = append(out, spec)
	}
	return out
}

// StartManagement brings up the management listener.
func (m *Manager) StartManagement(ctx context.Context, spec settings.Port) error {
	lis, err := m.factory(spec)
	if err != nil {
		return err
	}
	if err := lis.Start(ctx); err != nil {
		if serr := lis.Stop(ctx); serr != nil {
			log.Error("failed to clean up management listener after start failure",
				zap.Error(serr))
		}
		return err
	}
	m.mu.Lock()
	m.mgmt, m.mgmtSpec = lis, spec
	m.mu.Unlock()
	log.Info("management listener started", zap.Stringer("addr", spec))
	return nil
}

// ManagementSpec returns the configuration of the current management
// listener.
func (m *Manager) ManagementSpec() settings.Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mgmtSpec
}

// RestartManagement replaces the management listener with one bound to
// spec. The server must never be left without a management listener: if
// constructing or starting the replacement fails, the original listener
// is restarted before the error propagates. A rollback failure is logged
// loudly, but the original start error is still the one returned.
func (m *Manager) RestartManagement(ctx context.Context, spec settings.Port) error {
	m.mu.Lock()
	old, oldSpec := m.mgmt, m.mgmtSpec
	m.mu.Unlock()
	if old == nil {
		return errs.Executionf("management listener is not running")
	}

	if err := old.Stop(ctx); err != nil {
		return err
	}

	rollback := func() {
		if rerr := old.Start(ctx); rerr != nil {
			mgmtRestartCounter.WithLabelValues("rollback_failed").Inc()
			log.Error("failed to restore the management listener; "+
				"the server has no management listener",
				zap.Stringer("addr", oldSpec), zap.Error(rerr))
		}
	}

	newLis, err := m.factory(spec)
	if err != nil {
		rollback()
		mgmtRestartCounter.WithLabelValues("error").Inc()
		return err
	}
	if err := newLis.Start(ctx); err != nil {
		if serr := newLis.Stop(ctx); serr != nil {
			log.Error("could not stop the replacement management listener",
				zap.Error(serr))
		}
		rollback()
		mgmtRestartCounter.WithLabelValues("error").Inc()
		return err
	}

	m.mu.Lock()
	m.mgmt, m.mgmtSpec = newLis, spec
	m.mu.Unlock()
	mgmtRestartCounter.WithLabelValues("ok").Inc()
	log.Info("management listener restarted",
		zap.Stringer("from", oldSpec), zap.Stringer("to", spec))
	return nil
}

// StopAll stops the management listener and every registered protocol
// listener. Used during server shutdown; failures are logged only.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	specs := make([]settings.Port, 0, len(m.ports))
	for spec := range m.ports {
		specs = append(specs, spec)
	}
	mgmt := m.mgmt
	m.mgmt = nil
	m.mu.Unlock()

	for _, spec := range specs {
		m.Stop(ctx, spec)
	}
	if mgmt != nil {
		if err := mgmt.Stop(ctx); err != nil {
			log.Error("failed to stop the management listener", zap.Error(err))
		}
	}
}
