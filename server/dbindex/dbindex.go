// Package dbindex caches per-database catalog state, the cross-database
// global schema, and the system configuration. Every cached structure is
// an immutable snapshot swapped atomically under a single owning
// reference; concurrent readers never see in-place mutation.
package dbindex

import (
	"sync"
	"sync/atomic"

	"github.com/helixdb/helix/catalog"
	"github.com/helixdb/helix/settings"
)

// Database is the cached state of one database. It is immutable;
// refreshing a database installs a new value.
type Database struct {
	Name            string
	Schema          catalog.Schema
	ReflectionCache map[string][]string
}

// Index is the per-process database index.
type Index struct {
	// mu serializes writers; readers go through the atomic values.
	mu sync.Mutex

	dbs       atomic.Value // map[string]*Database
	global    atomic.Value // catalog.Schema
	sysConfig atomic.Value // settings.Store

	conns map[string]int
}

// New creates an index with the given global schema and system config.
func New(global catalog.Schema, sys settings.Store) *Index {
	i := &Index{conns: make(map[string]int)}
	i.dbs.Store(map[string]*Database{})
	i.global.Store(&globalBox{schema: global})
	i.sysConfig.Store(sys)
	return i
}

// globalBox wraps the schema interface so atomic.Value always stores one
// concrete type.
type globalBox struct {
	schema catalog.Schema
}

func (i *Index) dbMap() map[string]*Database {
	return i.dbs.Load().(map[string]*Database)
}

// RegisterDB installs (or refreshes) the cached state of a database.
func (i *Index) RegisterDB(db *Database) {
	i.mu.Lock()
	defer i.mu.Unlock()
	old := i.dbMap()
	next := make(map[string]*Database, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[db.Name] = db
	i.dbs.Store(next)
}

// RemoveDB drops a database from the index.
func (i *Index) RemoveDB(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	old := i.dbMap()
	next := make(map[string]*Database, len(old))
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	i.dbs.Store(next)
}

// DB returns the cached state of a database.
func (i *Index) DB(name string) (*Database, bool) {
	db, ok := i.dbMap()[name]
	return db, ok
}

// Databases returns the names of all indexed databases.
func (i *Index) Databases() []string {
	m := i.dbMap()
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	return out
}

// GlobalSchema returns the current cross-database catalog snapshot.
func (i *Index) GlobalSchema() catalog.Schema {
	return i.global.Load().(*globalBox).schema
}

// UpdateGlobalSchema swaps in a new cross-database catalog snapshot.
func (i *Index) UpdateGlobalSchema(s catalog.Schema) {
	i.global.Store(&globalBox{schema: s})
}

// SysConfig returns the current system configuration snapshot.
func (i *Index) SysConfig() settings.Store {
	return i.sysConfig.Load().(settings.Store)
}

// SetSysConfig swaps in a new system configuration snapshot.
func (i *Index) SetSysConfig(s settings.Store) {
	i.sysConfig.Store(s)
}

// AddConn records a client connection to a database.
func (i *Index) AddConn(dbname string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.conns[dbname]++
}

// RemoveConn records a client disconnect from a database.
func (i *Index) RemoveConn(dbname string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conns[dbname] > 0 {
		i.conns[dbname]--
	}
}

// ConnCount reports the number of open client connections to a database.
func (i *Index) ConnCount(dbname string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.conns[dbname]
}
