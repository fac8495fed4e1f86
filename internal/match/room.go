package match

import (
	"log/slog"
	"sync"
	"time"
)

// Phase is the Room lifecycle: lobby -> countingDown -> active -> ended.
// "Ready" is not a durable phase; readiness is re-evaluated after every
// ready-mark and the room moves straight into the countdown when both seats
// are ready.
type Phase string

const (
	PhaseLobby        Phase = "lobby"
	PhaseCountingDown Phase = "countingDown"
	PhaseActive       Phase = "active"
	PhaseEnded        Phase = "ended"
)

const (
	maxPlayers     = 2
	countdownTicks = 3

	// contactDebounce rate-limits client contact reports so a spoofing
	// client cannot flip the flag faster than real collisions occur.
	contactDebounce = 100 * time.Millisecond
)

// Publisher is the fan-out bus seam. When multiple coordinator processes
// share a deployment, room events are published keyed by roomID so a peer
// routed to another process still sees them. Implementations must not block.
type Publisher interface {
	Publish(roomID, from string, msg Message)
}

// Recorder receives match lifecycle events for downstream consumers.
// Implementations must not block; a nil Recorder disables recording.
type Recorder interface {
	MatchStarted(roomID string, playerIDs []string)
	MatchEnded(roomID, winnerID, loserID, reason string)
}

type matchResult struct {
	winnerID string
	loserID  string
	reason   string
}

// Room is the state machine for one two-player match. All mutation happens
// under mu, so events touching the same room are serialized while different
// rooms proceed fully in parallel.
type Room struct {
	id        string
	createdAt time.Time

	countdownTick time.Duration
	arbiter       *Arbiter
	bus           Publisher
	recorder      Recorder
	onClosed      func(roomID string, memberIDs []string)

	mu            sync.Mutex
	phase         Phase
	players       []*Player
	countdownStop chan struct{}
	closed        bool
}

func newRoom(id string, cfg Config, onClosed func(roomID string, memberIDs []string)) *Room {
	return &Room{
		id:            id,
		createdAt:     time.Now(),
		countdownTick: cfg.CountdownTick,
		arbiter:       cfg.Arbiter,
		bus:           cfg.Bus,
		recorder:      cfg.Recorder,
		onClosed:      onClosed,
		phase:         PhaseLobby,
		players:       make([]*Player, 0, maxPlayers),
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Join seats a new player. It fails with errRoomUnavailable whenever the
// roster cannot change (full, counting down, active, or ended), which is how
// a third join request always ends up in a different room.
func (r *Room) Join(conn Conn, displayName string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.phase != PhaseLobby || len(r.players) >= maxPlayers {
		return 0, errRoomUnavailable
	}

	player := newPlayer(conn, displayName)
	r.players = append(r.players, player)
	slot := len(r.players) - 1

	r.sendTo(player, Message{Type: KindRoomJoined, Data: RoomJoinedPayload{
		RoomID:  r.id,
		Players: r.rosterLocked(),
		Slot:    slot,
	}})
	r.broadcastLocked(Message{Type: KindPlayerJoined, Data: PresencePayload{
		ConnectionID: conn.ID(),
		DisplayName:  displayName,
	}})

	slog.Info("Player joined room", "roomID", r.id, "connectionID", conn.ID(), "slot", slot)
	return slot, nil
}

// MarkReady records a readiness mark. Marks are a set-add: a second mark from
// the same connection is a no-op, so retries cannot corrupt the handshake.
// The countdown starts the instant both seats are filled and ready.
func (r *Room) MarkReady(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomNotFound
	}
	player := r.playerLocked(connectionID)
	if player == nil {
		return ErrForbiddenRoomAccess
	}
	if r.phase != PhaseLobby || player.ready {
		return nil
	}

	player.ready = true
	r.broadcastLocked(Message{Type: KindPlayerReady, Data: PlayerReadyPayload{ConnectionID: connectionID}})

	if len(r.players) == maxPlayers && r.allReadyLocked() {
		r.startCountdownLocked()
	}
	return nil
}

func (r *Room) allReadyLocked() bool {
	for _, p := range r.players {
		if !p.ready {
			return false
		}
	}
	return true
}

func (r *Room) startCountdownLocked() {
	r.phase = PhaseCountingDown
	stop := make(chan struct{})
	r.countdownStop = stop
	slog.Info("Both players ready, starting countdown", "roomID", r.id)
	go r.runCountdown(stop)
}

// runCountdown broadcasts the discrete countdown ticks and flips the room to
// Active when the count reaches zero. A disconnect aborts it via the stop
// channel; a tick that fires after the phase changed is a no-op.
func (r *Room) runCountdown(stop chan struct{}) {
	for count := countdownTicks; count >= 1; count-- {
		if !r.tickCountdown(count) {
			return
		}
		select {
		case <-time.After(r.countdownTick):
		case <-stop:
			return
		}
	}
	r.activate()
}

func (r *Room) tickCountdown(count int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseCountingDown {
		return false
	}
	r.broadcastLocked(Message{Type: KindCountdown, Data: CountdownPayload{Count: count}})
	return true
}

func (r *Room) activate() {
	r.mu.Lock()
	if r.phase != PhaseCountingDown {
		r.mu.Unlock()
		return
	}
	r.phase = PhaseActive
	r.countdownStop = nil
	start := Message{Type: KindStartGame}
	r.broadcastLocked(start)
	r.publishLocked("", start)
	playerIDs := r.memberIDsLocked()
	recorder := r.recorder
	r.mu.Unlock()

	slog.Info("Match started", "roomID", r.id, "players", playerIDs)
	if recorder != nil {
		recorder.MatchStarted(r.id, playerIDs)
	}
}

func (r *Room) abortCountdownLocked() {
	if r.countdownStop != nil {
		close(r.countdownStop)
		r.countdownStop = nil
	}
	r.phase = PhaseLobby
}

// RecordMovement captures the sender's last-known transform and relays the
// movement to the other member only, sender id attached. Movement outside
// the Active phase is dropped silently: late delivery is expected traffic.
func (r *Room) RecordMovement(connectionID string, mv MovementPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseActive {
		return
	}
	sender := r.playerLocked(connectionID)
	if sender == nil {
		return
	}
	sender.transform = Transform{Position: mv.Position, Rotation: mv.Rotation}
	sender.hasTransform = true

	msg := Message{Type: KindPlayerMovement, Data: MovementBroadcast{
		ConnectionID: connectionID,
		Position:     mv.Position,
		Rotation:     mv.Rotation,
	}}
	if opponent := r.opponentLocked(connectionID); opponent != nil {
		r.sendTo(opponent, msg)
	}
	r.publishLocked(connectionID, msg)
}

// RecordContact updates the sender's contact flag from a client proximity
// report. Updates arriving faster than the debounce interval are ignored.
func (r *Room) RecordContact(connectionID string, inContact bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseActive {
		return
	}
	player := r.playerLocked(connectionID)
	if player == nil {
		return
	}
	now := time.Now()
	if now.Sub(player.contactAt) < contactDebounce {
		return
	}
	player.inContact = inContact
	player.contactAt = now
}

// Attack runs one attack attempt through the Arbiter. A confirmed hit is
// broadcast to both members as the authoritative result; a whiff produces no
// event, the clients play their own swing animation. Health reaching zero
// ends the room here, the only terminal path besides disconnect.
func (r *Room) Attack(connectionID string, kind AttackType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseActive {
		return nil
	}
	attacker := r.playerLocked(connectionID)
	if attacker == nil {
		return ErrForbiddenRoomAccess
	}
	defender := r.opponentLocked(connectionID)
	if defender == nil {
		return nil
	}

	result, err := r.arbiter.Resolve(attacker, defender, kind, time.Now())
	if err != nil {
		return err
	}
	if attacker.pending != nil {
		cooldown := r.arbiter.CooldownFor(attacker.pending.kind)
		attacker.cooldownTimer = time.AfterFunc(cooldown, func() {
			r.clearPendingAttack(connectionID)
		})
	}
	if !result.Hit {
		return nil
	}

	hit := Message{Type: KindPlayerHit, Data: PlayerHitPayload{
		AttackerID:     connectionID,
		Damage:         result.DamageApplied,
		AttackType:     kind,
		DefenderHealth: result.DefenderHealthAfter,
	}}
	r.broadcastLocked(hit)
	r.publishLocked("", hit)

	if result.DefenderHealthAfter <= 0 {
		r.endLocked(matchResult{winnerID: connectionID, loserID: defender.id(), reason: "knockout"})
	}
	return nil
}

func (r *Room) clearPendingAttack(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if player := r.playerLocked(connectionID); player != nil {
		player.pending = nil
		player.cooldownTimer = nil
	}
}

// HandleDisconnect removes the player and settles the room. An Active room
// ends with the remaining player winning by forfeit; a Lobby or CountingDown
// room reverts to Lobby with the remaining player's readiness reset. The
// registry lookup and this mutation form one atomic unit per room because
// everything runs under the room lock.
func (r *Room) HandleDisconnect(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	idx := -1
	for i, p := range r.players {
		if p.id() == connectionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	leaving := r.players[idx]
	leaving.stopTimers()
	r.players = append(r.players[:idx], r.players[idx+1:]...)
	slog.Info("Player left room", "roomID", r.id, "connectionID", connectionID, "phase", r.phase)

	if len(r.players) == 0 {
		r.closeLocked(nil)
		return
	}

	r.broadcastLocked(Message{Type: KindPlayerLeft, Data: PresencePayload{
		ConnectionID: connectionID,
		DisplayName:  leaving.displayName,
	}})

	switch r.phase {
	case PhaseActive:
		r.endLocked(matchResult{winnerID: r.players[0].id(), loserID: connectionID, reason: "forfeit"})
	case PhaseLobby, PhaseCountingDown:
		r.abortCountdownLocked()
		for _, p := range r.players {
			p.ready = false
		}
	}
}

// DeliverRemote hands a bus-delivered event from another process to every
// local member except the originating connection. It never republishes.
func (r *Room) DeliverRemote(from string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for _, p := range r.players {
		if p.id() != from {
			r.sendTo(p, msg)
		}
	}
}

func (r *Room) endLocked(result matchResult) {
	r.phase = PhaseEnded
	msg := Message{Type: KindPlayerDefeated, Data: PlayerDefeatedPayload{
		WinnerID: result.winnerID,
		LoserID:  result.loserID,
	}}
	r.broadcastLocked(msg)
	r.publishLocked("", msg)
	slog.Info("Match ended", "roomID", r.id, "winnerID", result.winnerID, "loserID", result.loserID, "reason", result.reason)
	r.closeLocked(&result)
}

// closeLocked tears the room down: cancels every timer it owns and reports
// the closure off-lock so the matchmaker can drop its references without a
// lock-order inversion.
func (r *Room) closeLocked(result *matchResult) {
	if r.closed {
		return
	}
	r.closed = true
	if r.countdownStop != nil {
		close(r.countdownStop)
		r.countdownStop = nil
	}
	for _, p := range r.players {
		p.stopTimers()
	}

	memberIDs := r.memberIDsLocked()
	recorder := r.recorder
	onClosed := r.onClosed
	go func() {
		if result != nil && recorder != nil {
			recorder.MatchEnded(r.id, result.winnerID, result.loserID, result.reason)
		}
		if onClosed != nil {
			onClosed(r.id, memberIDs)
		}
	}()
}

func (r *Room) playerLocked(connectionID string) *Player {
	for _, p := range r.players {
		if p.id() == connectionID {
			return p
		}
	}
	return nil
}

func (r *Room) opponentLocked(connectionID string) *Player {
	for _, p := range r.players {
		if p.id() != connectionID {
			return p
		}
	}
	return nil
}

func (r *Room) rosterLocked() []PlayerInfo {
	roster := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		roster = append(roster, p.info())
	}
	return roster
}

func (r *Room) memberIDsLocked() []string {
	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		ids = append(ids, p.id())
	}
	return ids
}

func (r *Room) broadcastLocked(msg Message) {
	for _, p := range r.players {
		r.sendTo(p, msg)
	}
}

// sendTo queues a message on the player's outbound channel. A send failure
// means the transport is already tearing itself down; the disconnect event
// that follows runs the normal cleanup, so it is only logged here.
func (r *Room) sendTo(p *Player, msg Message) {
	if err := p.conn.Send(msg); err != nil {
		slog.Warn("Failed to queue message for player", "roomID", r.id, "connectionID", p.id(), "type", msg.Type, "error", err)
	}
}

func (r *Room) publishLocked(from string, msg Message) {
	if r.bus != nil {
		r.bus.Publish(r.id, from, msg)
	}
}
