package match

import "time"

// Conn is the transport-facing view of one connected client. The websocket
// layer implements it with a bounded outbound queue, so Send never blocks on
// a slow peer; tests implement it with an in-memory recorder.
type Conn interface {
	ID() string
	Send(msg Message) error
}

// Transform is the authoritative last-known pose of a player, updated from
// relayed movement events. It is a snapshot, not a history.
type Transform struct {
	Position Vec3
	Rotation Vec3
}

type pendingAttack struct {
	kind      AttackType
	startedAt time.Time
}

// Player is one seat in a Room. It is owned by the Room and mutated only
// while holding the Room's lock, on events attributable to its connection.
type Player struct {
	conn        Conn
	displayName string
	ready       bool
	health      int

	transform    Transform
	hasTransform bool

	// Contact flag fed by debounced client proximity reports; consumed by
	// the Arbiter alongside its own transform distance check.
	inContact bool
	contactAt time.Time

	pending       *pendingAttack
	cooldownTimer *time.Timer
}

func newPlayer(conn Conn, displayName string) *Player {
	return &Player{
		conn:        conn,
		displayName: displayName,
		health:      initialHealth,
	}
}

func (p *Player) id() string {
	return p.conn.ID()
}

func (p *Player) info() PlayerInfo {
	return PlayerInfo{
		ConnectionID: p.id(),
		DisplayName:  p.displayName,
		Ready:        p.ready,
		Health:       p.health,
	}
}

// stopTimers cancels the player's pending cooldown timer. A timer that
// already fired is a no-op on the room side, never a fault.
func (p *Player) stopTimers() {
	if p.cooldownTimer != nil {
		p.cooldownTimer.Stop()
		p.cooldownTimer = nil
	}
}
