package match

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config carries the knobs a Room is built with. Zero values fall back to
// the production defaults in NewMatchmaker.
type Config struct {
	// CountdownTick is the interval between countdown broadcasts. The
	// contract is 3 ticks, 1 second apart; tests shrink the interval.
	CountdownTick time.Duration
	Arbiter       *Arbiter
	Bus           Publisher
	Recorder      Recorder
}

// Matchmaker pairs incoming connections into rooms, FIFO first-fit: the
// oldest open lobby wins, otherwise a fresh room is allocated. It owns the
// room index and is the only component that creates or forgets rooms.
type Matchmaker struct {
	registry *Registry
	cfg      Config

	// instance prefixes every room id so ids stay unique across
	// coordinator processes by construction, not by chance.
	instance string
	seq      atomic.Uint64

	mu    sync.Mutex
	rooms map[string]*Room
	order []string // room ids in creation order, drives the FIFO scan
}

func NewMatchmaker(registry *Registry, cfg Config) *Matchmaker {
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = time.Second
	}
	if cfg.Arbiter == nil {
		cfg.Arbiter = NewArbiter()
	}
	return &Matchmaker{
		registry: registry,
		cfg:      cfg,
		instance: uuid.NewString()[:8],
		rooms:    make(map[string]*Room),
	}
}

// Join finds or creates a room for the connection and seats it. A connection
// may be in at most one room at a time.
func (m *Matchmaker) Join(conn Conn, displayName string) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Checked under the lock: the Bind below happens under the same lock,
	// so two racing joins from one connection cannot both pass this and
	// seat it twice.
	if _, ok := m.registry.RoomID(conn.ID()); ok {
		return "", 0, ErrAlreadyInRoom
	}

	// First-fit over rooms in creation order. Join itself re-checks the
	// roster under the room lock, so a room that filled up or started its
	// countdown in the meantime just tells us to keep scanning.
	for _, roomID := range m.order {
		room := m.rooms[roomID]
		slot, err := room.Join(conn, displayName)
		if err != nil {
			continue
		}
		m.registry.Bind(conn.ID(), roomID)
		return roomID, slot, nil
	}

	room := m.createRoomLocked()
	slot, err := room.Join(conn, displayName)
	if err != nil {
		// A freshly created empty lobby cannot refuse a join.
		return "", 0, err
	}
	m.registry.Bind(conn.ID(), room.ID())
	return room.ID(), slot, nil
}

func (m *Matchmaker) createRoomLocked() *Room {
	id := fmt.Sprintf("room-%s-%d", m.instance, m.seq.Add(1))
	room := newRoom(id, m.cfg, m.roomClosed)
	m.rooms[id] = room
	m.order = append(m.order, id)
	slog.Info("Room created", "roomID", id)
	return room
}

// Room looks up a live room by id.
func (m *Matchmaker) Room(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// RoomCount reports how many rooms are currently alive.
func (m *Matchmaker) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Disconnect is the cleanup path for a vanished connection: unmap it and let
// its room settle membership, forfeit, and teardown. Unknown connections are
// a no-op.
func (m *Matchmaker) Disconnect(connectionID string) {
	roomID, ok := m.registry.RoomID(connectionID)
	if !ok {
		return
	}
	m.registry.Unbind(connectionID)

	m.mu.Lock()
	room, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return
	}
	room.HandleDisconnect(connectionID)
}

// roomClosed is invoked by a room (off its lock) once it has fully ended or
// emptied. Remaining members are unmapped so they can queue for a new match.
func (m *Matchmaker) roomClosed(roomID string, memberIDs []string) {
	for _, id := range memberIDs {
		m.registry.Unbind(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return
	}
	delete(m.rooms, roomID)
	for i, id := range m.order {
		if id == roomID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	slog.Info("Room removed", "roomID", roomID)
}
