package realtime

import (
	"log/slog"
	"sync"
)

// Directory maps room keys to the set of currently registered connections.
//
// Register and Deregister are the only mutators; both are serialized by mu,
// so concurrent connect/disconnect on the same room never loses an entry.
// Empty rooms are pruned on Deregister.
type Directory struct {
	log     *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	rooms map[string]map[string]*Client
	conns int
}

// NewDirectory constructs an empty Directory. metrics may be nil.
func NewDirectory(log *slog.Logger, metrics *Metrics) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{
		log:     log,
		metrics: metrics,
		rooms:   make(map[string]map[string]*Client),
	}
}

// Register adds client to roomKey. It reports false when the client was
// already registered there (no double count).
func (d *Directory) Register(roomKey string, client *Client) bool {
	if d == nil || roomKey == "" || client == nil || client.ID == "" {
		return false
	}

	d.mu.Lock()
	members, ok := d.rooms[roomKey]
	if !ok {
		members = make(map[string]*Client, 2)
		d.rooms[roomKey] = members
	}
	if _, dup := members[client.ID]; dup {
		d.mu.Unlock()
		return false
	}
	members[client.ID] = client
	d.conns++
	rooms, conns, size := len(d.rooms), d.conns, len(members)
	d.mu.Unlock()

	d.metrics.setMembership(rooms, conns)
	d.log.Info("room.member.join", "room_key", roomKey, "conn_id", client.ID, "room_size", size)
	return true
}

// Deregister removes client from roomKey and prunes the room when it empties.
// It is a no-op (returns false) for a client that is not registered there.
func (d *Directory) Deregister(roomKey string, client *Client) bool {
	if d == nil || roomKey == "" || client == nil {
		return false
	}

	d.mu.Lock()
	members, ok := d.rooms[roomKey]
	if !ok {
		d.mu.Unlock()
		return false
	}
	if _, found := members[client.ID]; !found {
		d.mu.Unlock()
		return false
	}
	delete(members, client.ID)
	d.conns--
	if len(members) == 0 {
		delete(d.rooms, roomKey)
	}
	rooms, conns := len(d.rooms), d.conns
	d.mu.Unlock()

	d.metrics.setMembership(rooms, conns)
	d.log.Info("room.member.leave", "room_key", roomKey, "conn_id", client.ID)
	return true
}

// Members returns a snapshot of the clients registered under roomKey.
func (d *Directory) Members(roomKey string) []*Client {
	if d == nil {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[roomKey]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// RoomCount returns the number of non-empty rooms.
func (d *Directory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// ConnCount returns the number of registered connections across all rooms.
func (d *Directory) ConnCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conns
}
