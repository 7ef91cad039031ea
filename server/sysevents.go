package server

import (
	"context"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/helixdb/helix/backend"
)

// handleEvent runs on the notification-delivery path, so it only
// dispatches: the actual work happens on tracked background goroutines.
// Events tagged with this server's own id are skipped; the local
// operation that raised them already updated the caches.
func (s *Server) handleEvent(ev backend.Event) {
	if ev.ServerID == s.id {
		return
	}
	sysEventCounter.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case backend.EventSchemaChange:
		s.OnRemoteDDL(ev.Database)
	case backend.EventGlobalSchemaChange:
		s.OnGlobalSchemaChange()
	case backend.EventRoleChange:
		s.OnRoleChange()
	case backend.EventDatabaseConfigChange:
		s.OnDatabaseConfigChange(ev.Database)
	default:
		log.Warn("unknown backend event", zap.Stringer("kind", ev.Kind))
	}
}

// OnRemoteDDL reloads dbname's cached catalog in the background.
func (s *Server) OnRemoteDDL(dbname string) {
	s.schedule("reintrospect database", func(ctx context.Context) error {
		return s.introspectDB(ctx, dbname)
	})
}

// OnGlobalSchemaChange reloads the cross-database catalog in the
// background.
func (s *Server) OnGlobalSchemaChange() {
	s.schedule("reintrospect global schema", func(ctx context.Context) error {
		schema, err := s.introspectGlobalSchema(ctx)
		if err != nil {
			return err
		}
		s.index.UpdateGlobalSchema(schema)
		return nil
	})
}

// OnRoleChange reloads the role cache in the background.
func (s *Server) OnRoleChange() {
	s.schedule("refetch roles", s.fetchRoles)
}

// OnDatabaseConfigChange is informational only; per-database settings
// are read from the backend on demand.
func (s *Server) OnDatabaseConfigChange(dbname string) {
	log.Debug("remote database config change", zap.String("database", dbname))
}

// SignalSysEvent broadcasts an event to every server attached to the
// backend. The event is tagged with this server's id so the local
// delivery is recognized and dropped.
func (s *Server) SignalSysEvent(ctx context.Context, ev backend.Event) error {
	ev.ServerID = s.id
	return s.syscon.With(ctx, func(conn backend.SysConn) error {
		return conn.SignalSysEvent(ctx, ev)
	})
}
