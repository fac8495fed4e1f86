package match

import "sync"

// Registry safely stores the non-owning connection->room back-reference used
// on every inbound event and on disconnect. Rooms own their players; the
// registry only answers "which room is this connection in right now".
type Registry struct {
	rooms sync.Map // map[connectionID]roomID
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Bind records that a connection now belongs to a room.
func (r *Registry) Bind(connectionID, roomID string) {
	r.rooms.Store(connectionID, roomID)
}

// Unbind removes a connection's mapping. Safe to call for unknown ids.
func (r *Registry) Unbind(connectionID string) {
	r.rooms.Delete(connectionID)
}

// RoomID returns the room a connection belongs to, if any.
func (r *Registry) RoomID(connectionID string) (string, bool) {
	roomID, ok := r.rooms.Load(connectionID)
	if !ok {
		return "", false
	}
	return roomID.(string), true
}
