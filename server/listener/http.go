package listener

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pingcap/log"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
	"go.uber.org/zap"

	"github.com/helixdb/helix/settings"
)

// httpListener serves one HTTP protocol endpoint (edgeql+http or
// graphql+http). The query protocol handlers themselves live in the
// protocol adapters; this listener only owns the socket lifecycle and
// the status surface.
type httpListener struct {
	spec settings.Port
	rd   *render.Render

	mu  sync.Mutex
	srv *http.Server
	lis net.Listener
}

func newHTTPListener(spec settings.Port) *httpListener {
	return &httpListener{
		spec: spec,
		rd:   render.New(),
	}
}

func (h *httpListener) handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/server-info", h.handleServerInfo).Methods(http.MethodGet)
	router.HandleFunc("/query", h.handleQuery).Methods(http.MethodPost)

	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(router)
	return n
}

func (h *httpListener) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	_ = h.rd.JSON(w, http.StatusOK, map[string]interface{}{
		"protocol":    h.spec.Protocol,
		"database":    h.spec.Database,
		"user":        h.spec.User,
		"concurrency": h.spec.Concurrency,
	})
}

func (h *httpListener) handleQuery(w http.ResponseWriter, r *http.Request) {
	// The query surface is attached by the protocol adapter wiring.
	_ = h.rd.JSON(w, http.StatusServiceUnavailable, map[string]string{
		"error": "protocol adapter is not attached",
	})
}

// Start binds the socket and begins serving. A stopped listener may be
// started again; the management rollback path relies on that.
func (h *httpListener) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", h.spec.Address, h.spec.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h.handler()}

	h.mu.Lock()
	h.srv, h.lis = srv, lis
	h.mu.Unlock()

	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error("http listener terminated",
				zap.Stringer("port", h.spec), zap.Error(err))
		}
	}()
	return nil
}

func (h *httpListener) Stop(ctx context.Context) error {
	h.mu.Lock()
	srv := h.srv
	h.srv, h.lis = nil, nil
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr returns the bound address, for tests binding port 0.
func (h *httpListener) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lis == nil {
		return nil
	}
	return h.lis.Addr()
}
