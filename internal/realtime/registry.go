package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/jwalitptl/roadside-api/pkg/metrics"
)

// Conn is a live transport link that can receive pushes.
type Conn interface {
	ID() string
	// Send queues env for delivery, giving up when ctx is done or the link closes.
	Send(ctx context.Context, env Envelope) error
}

// Registry maps users to their live connections (their room).
// It is the only authority for whether a user is reachable.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]Conn
	owners  map[string]string
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]Conn),
		owners:  make(map[string]string),
		metrics: m,
	}
}

// Join registers conn under userID. Joining again with the same connection id
// is a no-op, or moves the connection if userID differs.
func (r *Registry) Join(userID string, conn Conn) {
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[id]; ok {
		if owner == userID {
			r.rooms[userID][id] = conn
			return
		}
		r.removeLocked(id)
	}

	room, ok := r.rooms[userID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[userID] = room
	}
	room[id] = conn
	r.owners[id] = userID
	r.observeLocked()
}

// Leave removes a connection. Unknown ids are ignored.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[connID]; !ok {
		return
	}
	r.removeLocked(connID)
	r.observeLocked()
}

func (r *Registry) removeLocked(connID string) {
	userID := r.owners[connID]
	delete(r.owners, connID)

	room := r.rooms[userID]
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, userID)
	}
}

func (r *Registry) observeLocked() {
	if r.metrics != nil {
		r.metrics.LiveConnections.Set(float64(len(r.owners)))
	}
}

// ConnectionsFor returns a snapshot of userID's room. An empty result means offline.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[userID]
	conns := make([]Conn, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	return conns
}

// IDsFor returns the sorted connection ids in userID's room.
func (r *Registry) IDsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[userID]))
	for id := range r.rooms[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UserOf reports which user a connection is joined as.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[connID]
	return userID, ok
}

// Count returns the number of live connections across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
