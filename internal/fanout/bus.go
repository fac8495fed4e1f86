// Package fanout is the horizontal-scale layer: a Redis pub/sub channel that
// carries room events between coordinator processes. Room ownership stays
// pinned to the creating process; the bus only ferries relay and combat
// events to peers whose sockets landed elsewhere.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mkarslan/ring-clash-backend/internal/match"
)

// Handler delivers a remote event to the local process. from is the
// originating connection id so local delivery can exclude the sender.
type Handler func(roomID, from string, msg match.Message)

// envelope is the on-wire shape of one published event. Origin is the
// publishing process instance; the subscribe loop drops its own echoes.
type envelope struct {
	Origin string        `json:"origin"`
	RoomID string        `json:"roomId"`
	From   string        `json:"from,omitempty"`
	Msg    match.Message `json:"msg"`
}

// Bus publishes and subscribes room events on a single shared channel,
// keyed inside the envelope by roomID.
type Bus struct {
	rdb      *redis.Client
	channel  string
	instance string
}

func New(rdb *redis.Client, channel string) *Bus {
	return &Bus{
		rdb:      rdb,
		channel:  channel,
		instance: uuid.NewString(),
	}
}

// Publish sends one room event to every other coordinator process. It is
// fire-and-forget and returns immediately; rooms call it while holding their
// lock, so the Redis round trip happens off that critical section.
func (b *Bus) Publish(roomID, from string, msg match.Message) {
	payload, err := json.Marshal(envelope{
		Origin: b.instance,
		RoomID: roomID,
		From:   from,
		Msg:    msg,
	})
	if err != nil {
		slog.Error("Failed to marshal fan-out envelope", "roomID", roomID, "error", err)
		return
	}
	go func() {
		if err := b.rdb.Publish(context.Background(), b.channel, payload).Err(); err != nil {
			slog.Error("Failed to publish fan-out event", "roomID", roomID, "error", err)
		}
	}()
}

// Run is the subscribe loop. It blocks until the context is cancelled,
// handing every foreign event to the handler. It should be run in a
// goroutine.
func (b *Bus) Run(ctx context.Context, handler Handler) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	slog.Info("Fan-out subscriber started", "channel", b.channel, "instance", b.instance)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Fan-out subscriber stopping")
			return
		case m, ok := <-ch:
			if !ok {
				slog.Warn("Fan-out subscription channel closed")
				return
			}
			b.handleRaw([]byte(m.Payload), handler)
		}
	}
}

// handleRaw decodes one published payload and forwards it unless this
// process published it (self-echo suppression).
func (b *Bus) handleRaw(payload []byte, handler Handler) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Error("Failed to unmarshal fan-out envelope", "error", err)
		return
	}
	if env.Origin == b.instance {
		return
	}
	handler(env.RoomID, env.From, env.Msg)
}
