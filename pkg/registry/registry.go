// Package registry defines the server directory collaborator of spec §3/§9:
// a flat view of which NIDs currently exist and where, consumed by C7 as the
// router.Resolver interface. Cluster membership
// consensus is explicitly out of scope (spec Non-goal); this is only a view.
package registry

import "context"

// Entry is one server directory entry (spec §3 "Server directory entry").
type Entry struct {
	NID       string
	Endpoint  string
	State     string // "up" or "down"
	LastSeenAt int64 // unix nanos
}

// EventType distinguishes directory changes delivered by Watch.
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

// Event is one directory change.
type Event struct {
	Type  EventType
	Entry Entry
}

// Registry resolves and watches the server directory. Implementations satisfy
// router.Resolver (Resolve); they do not implement dispatch.Locator, which
// maps stages and services to NIDs.
type Registry interface {
	// Register publishes this process's own entry, refreshing it until ctx
	// is canceled (lease renewal is implementation-defined).
	Register(ctx context.Context, self Entry) error
	// Resolve answers whether nid currently has a live directory entry and,
	// if so, its endpoint.
	Resolve(nid string) (endpoint string, ok bool)
	// Watch streams Put/Delete events for every directory change.
	Watch(ctx context.Context) <-chan Event
	// Close releases the registry's underlying connection/lease.
	Close() error
}
