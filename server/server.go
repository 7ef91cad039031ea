// Package server ties the runtime-configuration subsystem together: it
// owns the system connection, the listener set, the database index, the
// role and auth caches, and reacts to configuration deltas and backend
// notifications.
package server

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/helixdb/helix/backend"
	"github.com/helixdb/helix/catalog"
	"github.com/helixdb/helix/errs"
	"github.com/helixdb/helix/server/config"
	"github.com/helixdb/helix/server/dbindex"
	"github.com/helixdb/helix/server/listener"
	"github.com/helixdb/helix/server/syscon"
	"github.com/helixdb/helix/settings"
)

// RoleDescriptor is one entry of the role cache.
type RoleDescriptor struct {
	Name      string `json:"name"`
	Superuser bool   `json:"superuser"`
	Password  string `json:"password"`
}

// DefaultAuthMethod is used when no auth rule matches a user.
const DefaultAuthMethod = "SCRAM"

// Server is the helix server instance.
type Server struct {
	cfg *config.Config

	// id tags self-originated backend events so they can be recognized
	// and skipped on delivery.
	id string

	backend   backend.Backend
	pool      backend.Pool
	syscon    *syscon.Arbitrator
	listeners *listener.Manager
	index     *dbindex.Index

	before map[hookKey]hookFunc
	after  map[hookKey]hookFunc

	// sysQueries maps well-known query names to the query text loaded
	// from backend instance data.
	sysQueries map[string]string

	roles   uatomic.Value // map[string]RoleDescriptor
	sysAuth uatomic.Value // []settings.Auth

	serving *uatomic.Bool

	mgmtSpec settings.Port

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopWg     sync.WaitGroup
}

// New creates a server over the given backend. Call Init before Start.
func New(cfg *config.Config, b backend.Backend, factory listener.Factory) *Server {
	loopCtx, loopCancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		id:         uuid.New().String(),
		backend:    b,
		listeners:  listener.NewManager(factory),
		serving:    uatomic.NewBool(false),
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
	}
	s.initHooks()
	return s
}

// ID returns the server's instance identity tag.
func (s *Server) ID() string { return s.id }

// Index returns the database index. It is nil before Init.
func (s *Server) Index() *dbindex.Index { return s.index }

// Listeners returns the listener manager.
func (s *Server) Listeners() *listener.Manager { return s.listeners }

// Init attaches to the backend and loads every cache the server serves
// from: instance data, roles, the global schema, the system config, and
// the per-database catalogs.
func (s *Server) Init(ctx context.Context) error {
	sc, err := s.backend.ConnectSystem(ctx)
	if err != nil {
		return errors.WithMessage(err, "connect system")
	}
	s.syscon = syscon.New(sc)
	s.pool = s.backend.Pool()

	if err := s.loadInstanceData(ctx); err != nil {
		return err
	}
	if err := s.fetchRoles(ctx); err != nil {
		return err
	}

	global, err := s.introspectGlobalSchema(ctx)
	if err != nil {
		return err
	}
	sysCfg, err := s.loadSysConfig(ctx)
	if err != nil {
		return err
	}
	s.index = dbindex.New(global, sysCfg)

	if err := s.introspectDBs(ctx); err != nil {
		return err
	}

	s.populateSysAuth()
	s.mgmtSpec = s.managementSpec(sysCfg)

	sc.SetEventHandler(s.handleEvent)

	log.Info("server initialized",
		zap.String("id", s.id),
		zap.Int("databases", len(s.index.Databases())),
		zap.Stringer("management", s.mgmtSpec))
	return nil
}

// managementSpec computes the management listener address. Bootstrap
// config overrides win over the stored settings; a stored value of an
// unexpected type falls back to the registry default.
func (s *Server) managementSpec(sysCfg settings.Store) settings.Port {
	host := s.cfg.ListenHost
	if host == "" {
		if v, ok := sysCfg.Lookup("listen_addresses").(string); ok && v != "" {
			host = v
		} else {
			host = settings.DefaultListenAddress
		}
	}
	port := s.cfg.ListenPort
	if port == 0 {
		if v, ok := intValue(sysCfg.Lookup("listen_port")); ok && v != 0 {
			port = v
		} else {
			port = settings.DefaultPort
		}
	}
	return settings.Port{
		Protocol: listener.ProtocolBinary,
		Address:  host,
		Port:     port,
	}
}

// Start brings up the management listener and then every listener
// stored in the ports setting. Stored listeners come up best-effort; a
// port that cannot bind is logged and skipped so one stale registration
// cannot keep the whole server down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.listeners.StartManagement(ctx, s.mgmtSpec); err != nil {
		return err
	}
	for _, v := range s.portsSetting() {
		if err := s.listeners.Start(ctx, v, true); err != nil {
			return err
		}
	}
	s.serving.Store(true)
	log.Info("server started", zap.String("id", s.id))
	return nil
}

// Serving reports whether Start has completed and Stop has not begun.
func (s *Server) Serving() bool { return s.serving.Load() }

// Stop drains background work, shuts every listener down, and tears
// down the system connection. The arbitrator is acquired first so an
// in-flight system operation finishes before the connection dies.
func (s *Server) Stop(ctx context.Context) error {
	s.serving.Store(false)
	s.loopCancel()
	s.loopWg.Wait()

	s.listeners.StopAll(ctx)

	conn, err := s.syscon.Acquire(ctx)
	if err != nil {
		return errors.WithMessage(err, "drain system connection")
	}
	s.syscon.Close()
	conn.Terminate()

	log.Info("server stopped", zap.String("id", s.id))
	return nil
}

func (s *Server) portsSetting() []settings.Port {
	raw, ok := s.index.SysConfig().Get("ports")
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]settings.Port, 0, len(items))
	for _, item := range items {
		if p, ok := item.(settings.Port); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) loadInstanceData(ctx context.Context) error {
	var payload struct {
		SysQueries map[string]string `json:"sysqueries"`
	}
	err := s.syscon.With(ctx, func(conn backend.SysConn) error {
		raw, err := conn.QueryJSON(ctx, backend.QueryInstanceData)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &payload)
	})
	if err != nil {
		return errors.WithMessage(err, "load instance data")
	}
	s.sysQueries = payload.SysQueries
	return nil
}

func (s *Server) sysQuery(name string) (string, error) {
	q, ok := s.sysQueries[name]
	if !ok {
		return "", errors.Errorf("system query %q missing from instance data", name)
	}
	return q, nil
}

// fetchRoles reloads the role cache from the backend.
func (s *Server) fetchRoles(ctx context.Context) error {
	q, err := s.sysQuery(backend.SysQueryRoles)
	if err != nil {
		return err
	}
	var descs []RoleDescriptor
	err = s.syscon.With(ctx, func(conn backend.SysConn) error {
		raw, err := conn.QueryJSON(ctx, q)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &descs)
	})
	if err != nil {
		return errors.WithMessage(err, "fetch roles")
	}
	roles := make(map[string]RoleDescriptor, len(descs))
	for _, d := range descs {
		roles[d.Name] = d
	}
	s.roles.Store(roles)
	return nil
}

// Roles returns the role cache snapshot.
func (s *Server) Roles() map[string]RoleDescriptor {
	v, _ := s.roles.Load().(map[string]RoleDescriptor)
	return v
}

func (s *Server) introspectGlobalSchema(ctx context.Context) (catalog.Schema, error) {
	q, err := s.sysQuery(backend.SysQueryGlobalSchema)
	if err != nil {
		return nil, err
	}
	var schema catalog.Schema
	err = s.syscon.With(ctx, func(conn backend.SysConn) error {
		raw, err := conn.QueryJSON(ctx, q)
		if err != nil {
			return err
		}
		schema, err = catalog.ParseSnapshot(raw)
		return err
	})
	if err != nil {
		return nil, errors.WithMessage(err, "introspect global schema")
	}
	return schema, nil
}

func (s *Server) loadSysConfig(ctx context.Context) (settings.Store, error) {
	q, err := s.sysQuery(backend.SysQuerySysConfig)
	if err != nil {
		return settings.Store{}, err
	}
	var store settings.Store
	err = s.syscon.With(ctx, func(conn backend.SysConn) error {
		raw, err := conn.QueryJSON(ctx, q)
		if err != nil {
			return err
		}
		store, err = settings.ParseStore(raw)
		return err
	})
	if err != nil {
		return settings.Store{}, errors.WithMessage(err, "load system config")
	}
	return store, nil
}

// introspectDBs loads the catalog of every database in parallel.
func (s *Server) introspectDBs(ctx context.Context) error {
	q, err := s.sysQuery(backend.SysQueryListDBs)
	if err != nil {
		return err
	}
	var names []string
	err = s.syscon.With(ctx, func(conn backend.SysConn) error {
		raw, err := conn.QueryJSON(ctx, q)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &names)
	})
	if err != nil {
		return errors.WithMessage(err, "list databases")
	}

	errCh := make(chan error, len(names))
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			errCh <- s.introspectDB(ctx, name)
		}(name)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// introspectDB loads one database's catalog and reflection cache over a
// pooled tenant connection and installs the snapshot in the index.
func (s *Server) introspectDB(ctx context.Context, dbname string) error {
	localQ, err := s.sysQuery(backend.SysQueryLocalSchema)
	if err != nil {
		return err
	}
	cacheQ, err := s.sysQuery(backend.SysQueryReflectionCache)
	if err != nil {
		return err
	}

	conn, err := s.pool.Acquire(ctx, dbname)
	if err != nil {
		return errors.WithMessagef(err, "introspect %q", dbname)
	}
	defer s.pool.Release(dbname, conn, false)

	rawSchema, err := conn.QueryJSON(ctx, localQ)
	if err != nil {
		return errors.WithMessagef(err, "introspect %q", dbname)
	}
	schema, err := catalog.ParseSnapshot(rawSchema)
	if err != nil {
		return errors.WithMessagef(err, "introspect %q", dbname)
	}

	rawCache, err := conn.QueryJSON(ctx, cacheQ)
	if err != nil {
		return errors.WithMessagef(err, "introspect %q", dbname)
	}
	cache := make(map[string][]string)
	if err := json.Unmarshal(rawCache, &cache); err != nil {
		return errors.WithMessagef(err, "introspect %q", dbname)
	}

	s.index.RegisterDB(&dbindex.Database{
		Name:            dbname,
		Schema:          schema,
		ReflectionCache: cache,
	})
	return nil
}

// populateSysAuth rebuilds the auth cache from the auth setting, sorted
// by rule priority.
func (s *Server) populateSysAuth() {
	var rules []settings.Auth
	if raw, ok := s.index.SysConfig().Get("auth"); ok {
		if items, ok := raw.([]interface{}); ok {
			for _, item := range items {
				if a, ok := item.(settings.Auth); ok {
					rules = append(rules, a)
				}
			}
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	s.sysAuth.Store(rules)
}

// AuthMethod resolves the authentication method for a user: the first
// rule, in priority order, naming the user or the "*" wildcard wins.
func (s *Server) AuthMethod(user string) string {
	rules, _ := s.sysAuth.Load().([]settings.Auth)
	for _, rule := range rules {
		for _, u := range rule.User {
			if u == user || u == "*" {
				return rule.Method
			}
		}
	}
	return DefaultAuthMethod
}

// OnDropDatabase refuses to drop a database with open connections and
// prunes the pool's idle connections to it before the catalog entry
// goes away.
func (s *Server) OnDropDatabase(ctx context.Context, dbname string) error {
	if n := s.index.ConnCount(dbname); n > 0 {
		return errs.Executionf(
			"database %q is being accessed by %d other connection(s)", dbname, n)
	}
	if err := s.pool.Prune(ctx, dbname); err != nil {
		return errors.WithMessagef(err, "prune %q", dbname)
	}
	s.index.RemoveDB(dbname)
	return nil
}

// schedule runs fn on a tracked background goroutine. Failures are
// logged, never propagated; the triggering notification was delivered
// at-least-once and a later one retries the same work.
func (s *Server) schedule(task string, fn func(ctx context.Context) error) {
	s.loopWg.Add(1)
	go func() {
		defer s.loopWg.Done()
		if err := fn(s.loopCtx); err != nil {
			log.Error("background task failed",
				zap.String("task", task),
				zap.Error(err))
		}
	}()
}
