// Package events emits match lifecycle events to Kafka for downstream
// consumers (analytics, live dashboards). The coordinator itself keeps no
// history; this is emission, not persistence.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MatchStartedEvent is published when a room's countdown completes.
type MatchStartedEvent struct {
	Event     string    `json:"event"`
	RoomID    string    `json:"roomId"`
	PlayerIDs []string  `json:"playerIds"`
	At        time.Time `json:"at"`
}

// MatchEndedEvent is published when a room reaches its terminal phase,
// whether by knockout or forfeit.
type MatchEndedEvent struct {
	Event    string    `json:"event"`
	RoomID   string    `json:"roomId"`
	WinnerID string    `json:"winnerId"`
	LoserID  string    `json:"loserId"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Producer implements the coordinator's Recorder seam on top of a Kafka
// writer. The writer is async, so recording never blocks a room.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(writer *kafka.Writer) *Producer {
	return &Producer{writer: writer}
}

func (p *Producer) MatchStarted(roomID string, playerIDs []string) {
	p.emit(roomID, MatchStartedEvent{
		Event:     "match_started",
		RoomID:    roomID,
		PlayerIDs: playerIDs,
		At:        time.Now().UTC(),
	})
}

func (p *Producer) MatchEnded(roomID, winnerID, loserID, reason string) {
	p.emit(roomID, MatchEndedEvent{
		Event:    "match_ended",
		RoomID:   roomID,
		WinnerID: winnerID,
		LoserID:  loserID,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
}

// emit keys every event by roomID so one match's events stay in partition
// order. Failures are logged, never surfaced to gameplay.
func (p *Producer) emit(roomID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal match event", "roomID", roomID, "error", err)
		return
	}
	if err := p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(roomID),
		Value: payload,
	}); err != nil {
		slog.Error("Failed to publish match event", "roomID", roomID, "error", err)
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
