package match

import (
	"log/slog"
	"math"
	"time"
)

// AttackType identifies one of the fixed attack moves. Damage and cooldown
// are looked up server-side; clients never supply damage values.
type AttackType string

const (
	AttackPunch AttackType = "punch"
	AttackKick  AttackType = "kick"
)

const initialHealth = 100

// AttackResult is the authoritative outcome of one attack attempt.
type AttackResult struct {
	Hit                 bool
	DamageApplied       int
	DefenderHealthAfter int
}

// Arbiter decides combat outcomes from Room-held state alone. The attacking
// client asserts intent, never result: damage comes from the fixed table and
// a hit registers only when the arbiter's own contact determination agrees.
type Arbiter struct {
	// Damage and Cooldown are keyed by attack type. Cooldowns match the
	// client-side animation durations, which is what makes attack spam
	// visually impossible as well as rejected.
	Damage   map[AttackType]int
	Cooldown map[AttackType]time.Duration

	// MeleeRange is the maximum distance between the two last-known
	// transforms for which an attack can connect.
	MeleeRange float64

	// ContactWindow bounds how old a client-reported contact flag may be
	// and still count as corroboration.
	ContactWindow time.Duration
}

// NewArbiter returns an arbiter with the standard damage table.
func NewArbiter() *Arbiter {
	return &Arbiter{
		Damage: map[AttackType]int{
			AttackPunch: 10,
			AttackKick:  10,
		},
		Cooldown: map[AttackType]time.Duration{
			AttackPunch: 800 * time.Millisecond,
			AttackKick:  1000 * time.Millisecond,
		},
		MeleeRange:    2.5,
		ContactWindow: 1500 * time.Millisecond,
	}
}

// Resolve applies one attack attempt from attacker against defender. It is
// called with the owning Room's lock held, so the player mutations here are
// serialized with every other event touching the room.
//
// An unknown attack type is dropped (no damage, no cooldown): late or
// malformed input is expected traffic, not a protocol violation.
func (a *Arbiter) Resolve(attacker, defender *Player, kind AttackType, now time.Time) (AttackResult, error) {
	damage, known := a.Damage[kind]
	if !known {
		slog.Warn("Dropping attack with unknown type", "attackerID", attacker.id(), "attackType", kind)
		return AttackResult{DefenderHealthAfter: defender.health}, nil
	}

	if attacker.pending != nil {
		return AttackResult{}, ErrAttackInProgress
	}
	attacker.pending = &pendingAttack{kind: kind, startedAt: now}

	result := AttackResult{DefenderHealthAfter: defender.health}
	if a.contact(attacker, defender, now) {
		result.Hit = true
		result.DamageApplied = damage
		defender.health = max(0, defender.health-damage)
		result.DefenderHealthAfter = defender.health
	}
	return result, nil
}

// CooldownFor returns the lockout duration for an attack type.
func (a *Arbiter) CooldownFor(kind AttackType) time.Duration {
	return a.Cooldown[kind]
}

// contact is the arbiter's own hit determination: the two last-known
// transforms are within melee range, or the attacker's debounced contact
// flag is fresh enough to trust. Either signal suffices; with neither, the
// attack whiffs.
func (a *Arbiter) contact(attacker, defender *Player, now time.Time) bool {
	if attacker.hasTransform && defender.hasTransform {
		if distance(attacker.transform.Position, defender.transform.Position) <= a.MeleeRange {
			return true
		}
	}
	return attacker.inContact && now.Sub(attacker.contactAt) <= a.ContactWindow
}

func distance(p, q Vec3) float64 {
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
