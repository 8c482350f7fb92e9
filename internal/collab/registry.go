// Package collab implements the real-time session coordinator: the room
// membership registry, the authorization gate, and the event router that
// fans session events out to the right subset of connections.
package collab

import (
	"sync"

	"collab-app/internal/models"
)

// Registry is the in-memory room membership table. It lives for the life of
// the process; rooms are created lazily on first join and removed as soon as
// their member set becomes empty.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// room serializes all membership mutations for one room key, so the
// capacity check and the insert are a single atomic step even under
// concurrent joins.
type room struct {
	mu      sync.Mutex
	gone    bool
	members map[string]*models.Member
	order   []string
}

// RoomUpdate reports the post-removal member list of one room affected by
// LeaveAll, so callers can broadcast presence to each.
type RoomUpdate struct {
	RoomKey string
	Members []models.Member
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

func (r *Registry) getOrCreateRoom(roomKey string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomKey]
	if !ok {
		rm = &room{members: make(map[string]*models.Member)}
		r.rooms[roomKey] = rm
	}
	return rm
}

func (r *Registry) lookupRoom(roomKey string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomKey]
}

func (r *Registry) dropIfEmpty(roomKey string, rm *room) {
	r.mu.Lock()
	if r.rooms[roomKey] == rm {
		delete(r.rooms, roomKey)
	}
	r.mu.Unlock()
}

// Join adds a connection to a room. It is idempotent for a connection that
// is already a member: the display name is refreshed and the member is never
// counted twice. A new member is rejected when the room is at capacity, in
// which case ok is false.
func (r *Registry) Join(roomKey, connID string, userID int, displayName string, capacity int) (members []models.Member, ok bool) {
	for {
		rm := r.getOrCreateRoom(roomKey)

		rm.mu.Lock()
		if rm.gone {
			// Lost a race with the last member leaving; the entry was
			// removed from the map. Retry against a fresh one.
			rm.mu.Unlock()
			continue
		}

		if existing, present := rm.members[connID]; present {
			existing.DisplayName = displayName
			members = rm.snapshot()
			rm.mu.Unlock()
			return members, true
		}

		if len(rm.members) >= capacity {
			rm.mu.Unlock()
			return nil, false
		}

		rm.members[connID] = &models.Member{
			ConnectionID: connID,
			UserID:       userID,
			DisplayName:  displayName,
		}
		rm.order = append(rm.order, connID)
		members = rm.snapshot()
		rm.mu.Unlock()
		return members, true
	}
}

// Leave removes a connection from a room if present and returns the
// remaining ordered member list. Unknown rooms and non-members are no-ops.
func (r *Registry) Leave(roomKey, connID string) []models.Member {
	rm := r.lookupRoom(roomKey)
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	members, _ := rm.remove(connID)
	empty := len(rm.members) == 0
	if empty {
		rm.gone = true
	}
	rm.mu.Unlock()

	if empty {
		r.dropIfEmpty(roomKey, rm)
	}
	return members
}

// LeaveAll removes a connection from every room it belongs to. This is the
// single cleanup routine for both explicit disconnects and keepalive
// failures. Only rooms the connection was actually a member of are reported.
func (r *Registry) LeaveAll(connID string) []RoomUpdate {
	r.mu.Lock()
	keys := make([]string, 0, len(r.rooms))
	entries := make([]*room, 0, len(r.rooms))
	for key, rm := range r.rooms {
		keys = append(keys, key)
		entries = append(entries, rm)
	}
	r.mu.Unlock()

	var updates []RoomUpdate
	for i, rm := range entries {
		rm.mu.Lock()
		members, removed := rm.remove(connID)
		empty := removed && len(rm.members) == 0
		if empty {
			rm.gone = true
		}
		rm.mu.Unlock()

		if !removed {
			continue
		}
		if empty {
			r.dropIfEmpty(keys[i], rm)
		}
		updates = append(updates, RoomUpdate{RoomKey: keys[i], Members: members})
	}
	return updates
}

// Members returns the ordered member list of a room, empty for unknown rooms.
func (r *Registry) Members(roomKey string) []models.Member {
	rm := r.lookupRoom(roomKey)
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshot()
}

// RoomCount reports the number of live room entries.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// remove deletes a member under the room lock and returns the remaining
// ordered list plus whether the connection was actually a member.
func (rm *room) remove(connID string) ([]models.Member, bool) {
	if _, present := rm.members[connID]; !present {
		return nil, false
	}

	delete(rm.members, connID)
	for i, id := range rm.order {
		if id == connID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	return rm.snapshot(), true
}

// snapshot builds the member list in join order. Caller holds rm.mu.
func (rm *room) snapshot() []models.Member {
	members := make([]models.Member, 0, len(rm.order))
	for _, id := range rm.order {
		if m, ok := rm.members[id]; ok {
			members = append(members, *m)
		}
	}
	return members
}
