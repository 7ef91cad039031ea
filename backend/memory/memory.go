// Package memory implements an in-process backend serving canned
// catalog, role and configuration data. It backs tests and the
// development mode of the server binary, the way a standalone storage
// stands in for the real cluster.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/helixdb/helix/backend"
)

// Backend is an in-memory storage backend.
type Backend struct {
	mu sync.Mutex

	roles        []map[string]interface{}
	dbs          map[string][]byte // dbname -> schema snapshot JSON
	globalSchema []byte
	sysConfig    []byte

	handler func(backend.Event)
	tenants *pool
}

// New returns an empty backend; seed it with the Set* helpers.
func New() *Backend {
	b := &Backend{
		dbs:          make(map[string][]byte),
		globalSchema: []byte(`{"types": []}`),
		sysConfig:    []byte(`{}`),
	}
	b.tenants = &pool{b: b}
	return b
}

// AddRole registers a role.
func (b *Backend) AddRole(name string, superuser bool, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roles = append(b.roles, map[string]interface{}{
		"name":      name,
		"superuser": superuser,
		"password":  password,
	})
}

// RemoveRoles drops every registered role.
func (b *Backend) RemoveRoles() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roles = nil
}

// AddDatabase registers a database with its schema snapshot.
func (b *Backend) AddDatabase(name string, schemaSnapshot []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dbs[name] = schemaSnapshot
}

// SetGlobalSchema installs the cross-database catalog snapshot.
func (b *Backend) SetGlobalSchema(snapshot []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalSchema = snapshot
}

// SetSysConfig installs the persisted system configuration payload.
func (b *Backend) SetSysConfig(cfg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sysConfig = cfg
}

// Notify delivers a backend event to the attached server, simulating a
// notification originated elsewhere.
func (b *Backend) Notify(ev backend.Event) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// ConnectSystem implements backend.Backend.
func (b *Backend) ConnectSystem(ctx context.Context) (backend.SysConn, error) {
	return &sysConn{conn: conn{b: b}}, nil
}

// Pool implements backend.Backend.
func (b *Backend) Pool() backend.Pool {
	return b.tenants
}

// Pruned reports how many times dbname's idle pool connections were
// pruned. Test helper.
func (b *Backend) Pruned(dbname string) int {
	return b.tenants.prunedCount(dbname)
}

type conn struct {
	b      *Backend
	dbname string
	closed bool
}

func (c *conn) QueryJSON(ctx context.Context, query string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil, errors.New("memory backend: connection is terminated")
	}

	switch query {
	case backend.QueryInstanceData:
		return json.Marshal(map[string]interface{}{
			"sysqueries": map[string]string{
				backend.SysQueryRoles:           backend.SysQueryRoles,
				backend.SysQueryListDBs:         backend.SysQueryListDBs,
				backend.SysQueryGlobalSchema:    backend.SysQueryGlobalSchema,
				backend.SysQueryLocalSchema:     backend.SysQueryLocalSchema,
				backend.SysQueryReflectionCache: backend.SysQueryReflectionCache,
				backend.SysQuerySysConfig:       backend.SysQuerySysConfig,
			},
		})
	case backend.SysQueryRoles:
		return json.Marshal(c.b.roles)
	case backend.SysQueryListDBs:
		names := make([]string, 0, len(c.b.dbs))
		for name := range c.b.dbs {
			names = append(names, name)
		}
		return json.Marshal(names)
	case backend.SysQueryGlobalSchema:
		return c.b.globalSchema, nil
	case backend.SysQuerySysConfig:
		return c.b.sysConfig, nil
	case backend.SysQueryLocalSchema:
		snap, ok := c.b.dbs[c.dbname]
		if !ok {
			return nil, errors.Errorf("memory backend: unknown database %q", c.dbname)
		}
		return snap, nil
	case backend.SysQueryReflectionCache:
		return []byte(`{}`), nil
	}
	return nil, errors.Errorf("memory backend: unknown query %q", query)
}

func (c *conn) Terminate() {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.closed = true
}

type sysConn struct {
	conn
}

func (c *sysConn) SetEventHandler(handler func(backend.Event)) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.handler = handler
}

func (c *sysConn) SignalSysEvent(ctx context.Context, ev backend.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// The transport broadcasts to every attached server, this one
	// included.
	c.b.Notify(ev)
	return nil
}

type pool struct {
	b *Backend

	mu       sync.Mutex
	acquired int
	pruned   map[string]int
}

func (p *pool) Acquire(ctx context.Context, dbname string) (backend.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.b.mu.Lock()
	_, ok := p.b.dbs[dbname]
	p.b.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("memory backend: unknown database %q", dbname)
	}
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return &conn{b: p.b, dbname: dbname}, nil
}

func (p *pool) Release(dbname string, c backend.Conn, discard bool) {
	if discard {
		c.Terminate()
	}
	p.mu.Lock()
	p.acquired--
	p.mu.Unlock()
}

func (p *pool) Prune(ctx context.Context, dbname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pruned == nil {
		p.pruned = make(map[string]int)
	}
	p.pruned[dbname]++
	return nil
}

func (p *pool) prunedCount(dbname string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pruned[dbname]
}
