package match

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startCoordinator boots the full stack (registry, matchmaker, relay,
// websocket handler) behind an httptest server, with fast countdowns and
// cooldowns so a whole match fits in a test run.
func startCoordinator(t *testing.T) *httptest.Server {
	t.Helper()
	registry := NewRegistry()
	cfg := testConfig()
	cfg.Arbiter = fastArbiter()
	mm := NewMatchmaker(registry, cfg)
	relay := NewRelay(registry, mm)
	handler := NewHandler(mm, relay, []string{"*"})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialCoordinator(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) sendFrame(kind string, data any) {
	c.t.Helper()
	frame := map[string]any{"type": kind}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

// expect reads frames until one of the wanted kind arrives, skipping
// everything else (countdown ticks, presence noise). Frames of other kinds
// may legitimately interleave, so skipping is part of the contract.
func (c *testClient) expect(kind string) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		err := c.conn.ReadJSON(&frame)
		require.NoError(c.t, err, "waiting for %q frame", kind)
		if frame.Type == kind {
			return frame.Data
		}
	}
}

func decodeInto[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestFullMatchOverWebSocket(t *testing.T) {
	srv := startCoordinator(t)

	a := dialCoordinator(t, srv)
	b := dialCoordinator(t, srv)

	a.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "alice"})
	joinedA := decodeInto[RoomJoinedPayload](t, a.expect(KindRoomJoined))
	assert.Equal(t, 0, joinedA.Slot)

	b.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "bob"})
	joinedB := decodeInto[RoomJoinedPayload](t, b.expect(KindRoomJoined))
	assert.Equal(t, 1, joinedB.Slot)
	assert.Equal(t, joinedA.RoomID, joinedB.RoomID)

	a.sendFrame(KindPlayerReady, nil)
	b.sendFrame(KindPlayerReady, nil)
	a.expect(KindStartGame)
	b.expect(KindStartGame)

	// Exchange one movement each so the server holds both transforms, then
	// wait for the relayed frames so the attacks cannot race the movement.
	a.sendFrame(KindPlayerMovement, MovementPayload{Position: Vec3{X: 0}})
	b.sendFrame(KindPlayerMovement, MovementPayload{Position: Vec3{X: 1}})
	relayed := decodeInto[MovementBroadcast](t, a.expect(KindPlayerMovement))
	assert.Equal(t, 1.0, relayed.Position.X)
	b.expect(KindPlayerMovement)

	for hits := 1; hits <= 10; hits++ {
		a.sendFrame(KindPlayerAttack, AttackPayload{AttackType: AttackPunch})
		hit := decodeInto[PlayerHitPayload](t, b.expect(KindPlayerHit))
		assert.Equal(t, 10, hit.Damage)
		assert.Equal(t, 100-10*hits, hit.DefenderHealth)
		a.expect(KindPlayerHit)
		time.Sleep(10 * time.Millisecond) // let the test cooldown lapse
	}

	for _, client := range []*testClient{a, b} {
		defeated := decodeInto[PlayerDefeatedPayload](t, client.expect(KindPlayerDefeated))
		assert.Equal(t, defeated.LoserID, hitLoser(t, joinedB))
		assert.NotEqual(t, defeated.WinnerID, defeated.LoserID)
	}
}

// hitLoser resolves bob's connection id from his roster snapshot; the test
// client never learns its own id except through server-sent rosters.
func hitLoser(t *testing.T, joined RoomJoinedPayload) string {
	t.Helper()
	require.Len(t, joined.Players, 2)
	for _, p := range joined.Players {
		if p.DisplayName == "bob" {
			return p.ConnectionID
		}
	}
	t.Fatal("bob missing from roster")
	return ""
}

func TestThirdClientIsRoutedToFreshRoom(t *testing.T) {
	srv := startCoordinator(t)

	a := dialCoordinator(t, srv)
	b := dialCoordinator(t, srv)
	c := dialCoordinator(t, srv)

	a.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "alice"})
	joinedA := decodeInto[RoomJoinedPayload](t, a.expect(KindRoomJoined))
	b.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "bob"})
	b.expect(KindRoomJoined)

	c.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "carol"})
	joinedC := decodeInto[RoomJoinedPayload](t, c.expect(KindRoomJoined))

	assert.NotEqual(t, joinedA.RoomID, joinedC.RoomID)
	assert.Equal(t, 0, joinedC.Slot)
}

func TestDoubleJoinIsReportedToSenderOnly(t *testing.T) {
	srv := startCoordinator(t)

	a := dialCoordinator(t, srv)
	a.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "alice"})
	a.expect(KindRoomJoined)

	a.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "alice"})
	errPayload := decodeInto[ErrorPayload](t, a.expect(KindError))
	assert.Equal(t, "ALREADY_IN_ROOM", errPayload.Code)
}

func TestOutboundQueueOverflowDisconnectsSlowClient(t *testing.T) {
	// The handler hands the server-side wsClient to the test without
	// starting its writePump, so nothing ever drains the outbound queue —
	// the same situation as a peer that stopped reading.
	clients := make(chan *wsClient, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		clients <- newWSClient("conn-slow", conn)
	}))
	t.Cleanup(srv.Close)

	dialed := dialCoordinator(t, srv)
	var client *wsClient
	select {
	case client = <-clients:
	case <-time.After(eventuallyTimeout):
		t.Fatal("server never produced a client")
	}

	for i := 0; i < outboundQueueSize; i++ {
		require.NoError(t, client.Send(Message{Type: KindCountdown, Data: CountdownPayload{Count: i}}))
	}

	// The first send past capacity tears the connection down instead of
	// buffering without limit, and every later send fails the same way.
	assert.ErrorIs(t, client.Send(Message{Type: KindStartGame}), ErrTransportClosed)
	assert.ErrorIs(t, client.Send(Message{Type: KindStartGame}), ErrTransportClosed)

	require.NoError(t, dialed.conn.SetReadDeadline(time.Now().Add(eventuallyTimeout)))
	_, _, err := dialed.conn.ReadMessage()
	assert.Error(t, err, "the underlying connection should be closed")
}

func TestDisconnectMidMatchAwardsForfeit(t *testing.T) {
	srv := startCoordinator(t)

	a := dialCoordinator(t, srv)
	b := dialCoordinator(t, srv)
	a.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "alice"})
	a.expect(KindRoomJoined)
	b.sendFrame(KindJoinRoom, JoinRoomPayload{DisplayName: "bob"})
	joinedB := decodeInto[RoomJoinedPayload](t, b.expect(KindRoomJoined))

	a.sendFrame(KindPlayerReady, nil)
	b.sendFrame(KindPlayerReady, nil)
	a.expect(KindStartGame)
	b.expect(KindStartGame)

	require.NoError(t, b.conn.Close())

	defeated := decodeInto[PlayerDefeatedPayload](t, a.expect(KindPlayerDefeated))
	assert.Equal(t, hitLoser(t, joinedB), defeated.LoserID)
}
