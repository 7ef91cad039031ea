// Package backend defines the contracts of the storage backend the server
// talks to: connections, the per-tenant connection pool, and the
// asynchronous notification transport. The wire protocol itself lives
// behind these interfaces.
package backend

import "context"

// EventKind names a backend notification.
type EventKind int

const (
	// EventSchemaChange signals remote DDL against one database.
	EventSchemaChange EventKind = iota
	// EventGlobalSchemaChange signals a change to the cross-database
	// catalog.
	EventGlobalSchemaChange
	// EventRoleChange signals a change to the role table.
	EventRoleChange
	// EventDatabaseConfigChange signals a per-database configuration
	// change.
	EventDatabaseConfigChange
)

func (k EventKind) String() string {
	switch k {
	case EventSchemaChange:
		return "schema-change"
	case EventGlobalSchemaChange:
		return "global-schema-change"
	case EventRoleChange:
		return "role-change"
	case EventDatabaseConfigChange:
		return "database-config-change"
	}
	return "unknown"
}

// Event is a backend notification. Delivery is at-least-once with no
// ordering guarantee across kinds. ServerID carries the identity of the
// originating server so a server can recognize its own events.
type Event struct {
	Kind     EventKind
	Database string
	ServerID string
}

// Conn is a single backend connection. A Conn must not be used
// concurrently.
type Conn interface {
	// QueryJSON executes a system query and returns its JSON-encoded
	// result.
	QueryJSON(ctx context.Context, query string) ([]byte, error)
	// Terminate closes the connection immediately.
	Terminate()
}

// SysConn is the one administrative connection used for catalog-wide
// operations. It additionally carries the notification transport.
type SysConn interface {
	Conn
	// SetEventHandler registers the callback invoked for each backend
	// notification. The callback must return quickly; it runs on the
	// notification-delivery path.
	SetEventHandler(handler func(Event))
	// SignalSysEvent broadcasts an event to every server attached to the
	// backend, including this one.
	SignalSysEvent(ctx context.Context, ev Event) error
}

// Pool hands out per-tenant connections.
type Pool interface {
	Acquire(ctx context.Context, dbname string) (Conn, error)
	Release(dbname string, conn Conn, discard bool)
	// Prune closes the pool's idle connections to dbname.
	Prune(ctx context.Context, dbname string) error
}

// Backend is a storage backend the server can attach to.
type Backend interface {
	// ConnectSystem establishes the administrative connection.
	ConnectSystem(ctx context.Context) (SysConn, error)
	// Pool returns the per-tenant connection pool.
	Pool() Pool
}

// Well-known system queries. The query text for everything else is loaded
// from backend instance data at startup.
const (
	// QueryInstanceData returns the instance-data map, including the
	// text of every other system query.
	QueryInstanceData = "instancedata"
)

// Names of the system queries carried in instance data.
const (
	SysQueryRoles           = "roles"
	SysQueryListDBs         = "listdbs"
	SysQueryGlobalSchema    = "global_intro"
	SysQueryLocalSchema     = "local_intro"
	SysQueryReflectionCache = "reflection_cache"
	SysQuerySysConfig       = "sysconfig"
)
