package match

import (
	"encoding/json"
	"log/slog"
)

// RoomIndex is the room lookup the relay needs; the Matchmaker provides it.
type RoomIndex interface {
	Room(roomID string) (*Room, bool)
}

// Relay validates per-room event access and hands the event to the owning
// room. Because every connection has a single read loop calling Relay
// synchronously, events from one connection reach the opponent in the order
// they were received; no ordering is promised across the two connections.
type Relay struct {
	registry *Registry
	rooms    RoomIndex
}

func NewRelay(registry *Registry, rooms RoomIndex) *Relay {
	return &Relay{registry: registry, rooms: rooms}
}

// Relay dispatches one in-room event from a connection. claimedRoomID is the
// room id the client put on the wire, if any; it must agree with the room
// the connection actually belongs to. Events referencing a room that has
// already been torn down come back as ErrRoomNotFound, which the transport
// layer drops as stale.
func (rl *Relay) Relay(connectionID, claimedRoomID, kind string, data json.RawMessage) error {
	roomID, ok := rl.registry.RoomID(connectionID)
	if !ok {
		return ErrRoomNotFound
	}
	if claimedRoomID != "" && claimedRoomID != roomID {
		return ErrForbiddenRoomAccess
	}
	room, ok := rl.rooms.Room(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	switch kind {
	case KindPlayerReady:
		return room.MarkReady(connectionID)
	case KindPlayerMovement:
		var mv MovementPayload
		if err := json.Unmarshal(data, &mv); err != nil {
			slog.Warn("Dropping malformed movement payload", "connectionID", connectionID, "error", err)
			return nil
		}
		room.RecordMovement(connectionID, mv)
		return nil
	case KindPlayerContact:
		var contact ContactPayload
		if err := json.Unmarshal(data, &contact); err != nil {
			slog.Warn("Dropping malformed contact payload", "connectionID", connectionID, "error", err)
			return nil
		}
		room.RecordContact(connectionID, contact.InContact)
		return nil
	case KindPlayerAttack:
		var attack AttackPayload
		if err := json.Unmarshal(data, &attack); err != nil {
			slog.Warn("Dropping malformed attack payload", "connectionID", connectionID, "error", err)
			return nil
		}
		return room.Attack(connectionID, attack.AttackType)
	default:
		// Unknown kinds are dropped, not errors: clients may run ahead of
		// the server's message catalog.
		slog.Debug("Dropping event of unknown kind", "connectionID", connectionID, "kind", kind)
		return nil
	}
}
