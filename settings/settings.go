// Package settings holds the runtime configuration surface of the server:
// the registry of known settings with their defaults, the immutable config
// store snapshots the server swaps atomically, and the typed deltas emitted
// when a configuration mutation commits.
package settings

import (
	"fmt"
)

// Op is the kind of a committed configuration change.
type Op int

const (
	OpSet Op = iota
	OpReset
	OpAdd
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpReset:
		return "reset"
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Delta is a committed configuration change, handed to the dispatcher by
// value once the underlying mutation is durable.
type Delta struct {
	Name  string
	Op    Op
	Value interface{}
}

// Port is the protocol configuration tuple a listener registration is
// keyed by. It is comparable and immutable.
type Port struct {
	Protocol    string `json:"protocol"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	User        string `json:"user"`
	Concurrency int    `json:"concurrency"`
}

func (p Port) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", p.Protocol, p.Address, p.Port, p.Database)
}

// Auth is one authentication rule. Rules are matched in priority order.
type Auth struct {
	Priority int      `json:"priority"`
	User     []string `json:"user"`
	Method   string   `json:"method"`
	Comment  string   `json:"comment,omitempty"`
}

// DefaultPort is the management listener port used when listen_port is
// not configured.
const DefaultPort = 10700

// DefaultListenAddress is used when listen_addresses is not configured.
const DefaultListenAddress = "localhost"

// Spec describes a known runtime setting.
type Spec struct {
	Name            string
	Default         interface{}
	System          bool
	RequiresRestart bool
	// Set-valued settings receive Add/Remove deltas instead of Set.
	SetValued bool
}

// registry of settings the server itself reacts to. Settings absent from
// the registry still flow through the store; they simply have no default.
var registry = map[string]Spec{
	"listen_addresses": {
		Name:    "listen_addresses",
		Default: DefaultListenAddress,
		System:  true,
	},
	"listen_port": {
		Name:    "listen_port",
		Default: int64(DefaultPort),
		System:  true,
	},
	"ports": {
		Name:      "ports",
		System:    true,
		SetValued: true,
	},
	"auth": {
		Name:      "auth",
		System:    true,
		SetValued: true,
	},
	"query_work_mem": {
		Name:    "query_work_mem",
		Default: int64(64 << 20),
	},
	"session_idle_timeout": {
		Name:    "session_idle_timeout",
		Default: int64(0),
	},
}

// LookupSpec returns the registered spec for a setting.
func LookupSpec(name string) (Spec, bool) {
	s, ok := registry[name]
	return s, ok
}
