package match

import "encoding/json"

// Message kinds exchanged with clients. Client->server kinds are decoded from
// an Envelope; server->client kinds are sent as a Message.
const (
	KindJoinRoom       = "joinRoom"
	KindRoomJoined     = "roomJoined"
	KindPlayerJoined   = "playerJoined"
	KindPlayerLeft     = "playerLeft"
	KindPlayerReady    = "playerReady"
	KindCountdown      = "countdown"
	KindStartGame      = "startGame"
	KindPlayerMovement = "playerMovement"
	KindPlayerAttack   = "playerAttack"
	KindPlayerContact  = "playerContact"
	KindPlayerHit      = "playerHit"
	KindPlayerDefeated = "playerDefeated"
	KindError          = "error"
)

// Message is a single server->client frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Envelope is a single client->server frame. RoomID is optional; when the
// client supplies it, it is validated against the connection's actual room.
type Envelope struct {
	Type   string          `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Vec3 carries a position or an Euler rotation straight through to the
// opposing client; the coordinator never interprets individual axes beyond
// the Arbiter's distance check.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PlayerInfo is the roster snapshot entry included in membership messages.
type PlayerInfo struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Ready        bool   `json:"ready"`
	Health       int    `json:"health"`
}

type JoinRoomPayload struct {
	DisplayName string `json:"displayName"`
}

type RoomJoinedPayload struct {
	RoomID  string       `json:"roomId"`
	Players []PlayerInfo `json:"players"`
	Slot    int          `json:"slot"`
}

// PresencePayload is shared by playerJoined and playerLeft.
type PresencePayload struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type PlayerReadyPayload struct {
	ConnectionID string `json:"connectionId"`
}

type CountdownPayload struct {
	Count int `json:"count"`
}

type MovementPayload struct {
	Position Vec3 `json:"position"`
	Rotation Vec3 `json:"rotation"`
}

// MovementBroadcast is the relayed form of MovementPayload with the sender
// attached, so the receiver can tell self from opponent.
type MovementBroadcast struct {
	ConnectionID string `json:"connectionId"`
	Position     Vec3   `json:"position"`
	Rotation     Vec3   `json:"rotation"`
}

type AttackPayload struct {
	AttackType AttackType `json:"attackType"`
}

type ContactPayload struct {
	InContact bool `json:"inContact"`
}

type PlayerHitPayload struct {
	AttackerID     string     `json:"attackerId"`
	Damage         int        `json:"damage"`
	AttackType     AttackType `json:"attackType"`
	DefenderHealth int        `json:"defenderHealth"`
}

type PlayerDefeatedPayload struct {
	WinnerID string `json:"winnerId"`
	LoserID  string `json:"loserId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
