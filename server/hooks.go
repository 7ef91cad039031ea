package server

import (
	"context"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/helixdb/helix/settings"
)

// hookKey identifies one (setting, operation) pair in the dispatch
// tables.
type hookKey struct {
	setting string
	op      settings.Op
}

type hookFunc func(ctx context.Context, d settings.Delta) error

// initHooks builds the dispatch tables. Before hooks run ahead of the
// delta being applied and can abort it; after hooks observe the already
// updated configuration.
func (s *Server) initHooks() {
	s.before = map[hookKey]hookFunc{
		{"listen_addresses", settings.OpSet}:   s.onListenAddressesSet,
		{"listen_addresses", settings.OpReset}: s.onListenAddressesReset,
		{"listen_port", settings.OpSet}:        s.onListenPortSet,
		{"listen_port", settings.OpReset}:      s.onListenPortReset,
		{"ports", settings.OpAdd}:              s.onPortAdd,
		{"ports", settings.OpRemove}:           s.onPortRemove,
	}
	s.after = map[hookKey]hookFunc{
		{"auth", settings.OpAdd}:    s.afterAuthChange,
		{"auth", settings.OpRemove}: s.afterAuthChange,
	}
}

// OnConfigDelta is the single entry point for instance-level
// configuration changes. The before hook runs first and aborts the
// delta on failure; the system config snapshot is then swapped and the
// after hook observes the new state. An after-hook failure is reported
// but the delta stays applied.
func (s *Server) OnConfigDelta(ctx context.Context, d settings.Delta) error {
	if err := s.RunBefore(ctx, d); err != nil {
		return err
	}
	s.index.SetSysConfig(s.index.SysConfig().Apply(d))
	if err := s.RunAfter(ctx, d); err != nil {
		log.Error("config after-hook failed, the change remains applied",
			zap.String("setting", d.Name),
			zap.Stringer("op", d.Op),
			zap.Error(err))
		return err
	}
	return nil
}

// RunBefore runs the before hook registered for the delta, if any. A
// failure means the delta must not be applied.
func (s *Server) RunBefore(ctx context.Context, d settings.Delta) error {
	return s.runHook(ctx, s.before, "before", d)
}

// RunAfter runs the after hook registered for the delta, if any.
func (s *Server) RunAfter(ctx context.Context, d settings.Delta) error {
	return s.runHook(ctx, s.after, "after", d)
}

func (s *Server) runHook(ctx context.Context, table map[hookKey]hookFunc, phase string, d settings.Delta) error {
	h, ok := table[hookKey{setting: d.Name, op: d.Op}]
	if !ok {
		return nil
	}
	configDeltaCounter.WithLabelValues(d.Name, d.Op.String(), phase).Inc()
	return h(ctx, d)
}

func (s *Server) onListenAddressesSet(ctx context.Context, d settings.Delta) error {
	host, ok := d.Value.(string)
	if !ok {
		return errors.Errorf("listen_addresses: expected string, got %T", d.Value)
	}
	spec := s.listeners.ManagementSpec()
	spec.Address = host
	return s.listeners.RestartManagement(ctx, spec)
}

func (s *Server) onListenAddressesReset(ctx context.Context, d settings.Delta) error {
	spec := s.listeners.ManagementSpec()
	spec.Address = settings.DefaultListenAddress
	return s.listeners.RestartManagement(ctx, spec)
}

func (s *Server) onListenPortSet(ctx context.Context, d settings.Delta) error {
	port, ok := intValue(d.Value)
	if !ok {
		return errors.Errorf("listen_port: expected integer, got %T", d.Value)
	}
	spec := s.listeners.ManagementSpec()
	spec.Port = port
	return s.listeners.RestartManagement(ctx, spec)
}

func (s *Server) onListenPortReset(ctx context.Context, d settings.Delta) error {
	spec := s.listeners.ManagementSpec()
	spec.Port = settings.DefaultPort
	return s.listeners.RestartManagement(ctx, spec)
}

func (s *Server) onPortAdd(ctx context.Context, d settings.Delta) error {
	spec, ok := d.Value.(settings.Port)
	if !ok {
		return errors.Errorf("ports: expected port tuple, got %T", d.Value)
	}
	return s.listeners.Start(ctx, spec, false)
}

func (s *Server) onPortRemove(ctx context.Context, d settings.Delta) error {
	spec, ok := d.Value.(settings.Port)
	if !ok {
		return errors.Errorf("ports: expected port tuple, got %T", d.Value)
	}
	s.listeners.Stop(ctx, spec)
	return nil
}

func (s *Server) afterAuthChange(ctx context.Context, d settings.Delta) error {
	s.populateSysAuth()
	return nil
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
