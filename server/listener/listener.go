// Package listener manages the lifecycle of the server's network
// listeners: per-protocol listeners keyed by their configuration tuple,
// and the distinguished management listener whose restart carries
// rollback semantics.
package listener

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/helixdb/helix/settings"
)

// State is the lifecycle state of a listener registration.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Listener is the start/stop capability of one network listener. Both
// operations may block; Stop is idempotent.
type Listener interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory constructs a listener for a protocol configuration tuple. An
// unknown protocol is an error.
type Factory func(spec settings.Port) (Listener, error)

// Supported protocol names.
const (
	ProtocolBinary      = "helix"
	ProtocolEdgeQLHTTP  = "edgeql+http"
	ProtocolGraphQLHTTP = "graphql+http"
)

// NewFactory returns the default listener factory covering the supported
// protocols.
func NewFactory() Factory {
	return func(spec settings.Port) (Listener, error) {
		switch spec.Protocol {
		case ProtocolBinary:
			return newManagementListener(spec), nil
		case ProtocolEdgeQLHTTP, ProtocolGraphQLHTTP:
			return newHTTPListener(spec), nil
		}
		return nil, errors.Errorf("unknown protocol %q", spec.Protocol)
	}
}

type registration struct {
	spec  settings.Port
	lis   Listener
	state int32
}

func (r *registration) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}

func (r *registration) getState() State {
	return State(atomic.LoadInt32(&r.state))
}
