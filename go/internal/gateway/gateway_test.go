package gateway

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/timer"
	"github.com/mcdev12/wordparty/go/internal/wordbank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t     *testing.T
	clock *clockwork.FakeClock
	reg   *room.Registry
	srv   *httptest.Server
}

func newHarness(t *testing.T, configure func(cfg *Config)) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	words := wordbank.New(map[string][]string{
		"animals": {"zebra", "giraffe", "pelican", "walrus"},
	}, wordbank.WithRand(rand.New(rand.NewPCG(3, 5))))

	cfg := DefaultConfig()
	if configure != nil {
		configure(&cfg)
	}
	manager := NewConnectionManager(cfg.Connection)
	reg := room.NewRegistry(words, timer.NewFactory(clock, time.Second), manager, room.DefaultRegistryConfig())
	gw := New(reg, manager, clock, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go gw.Start(ctx)

	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		reg.Shutdown()
		srv.Close()
	})
	return &harness{t: t, clock: clock, reg: reg, srv: srv}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	raw  string
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	id string
	// seen keeps every frame read, for leak checks.
	seen []frame
}

func (h *harness) dial(device, name string) *client {
	h.t.Helper()
	q := url.Values{"device": {device}, "name": {name}}
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?" + q.Encode()
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { ws.Close() })

	c := &client{t: h.t, ws: ws}
	var reg RegisteredPayload
	require.NoError(h.t, json.Unmarshal(c.expect(EventRegistered).Data, &reg))
	c.id = reg.PlayerID
	return c
}

func (c *client) send(intent IntentType, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(Envelope{Type: string(intent), Data: raw}))
}

func (c *client) next() (frame, error) {
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return frame{}, err
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, err
	}
	f.raw = string(raw)
	c.seen = append(c.seen, f)
	return f, nil
}

func (c *client) expect(typ room.EventType) frame {
	c.t.Helper()
	for {
		f, err := c.next()
		require.NoError(c.t, err, "waiting for %s", typ)
		if f.Type == string(typ) {
			return f
		}
	}
}

func (c *client) expectState(match func(s room.Snapshot) bool) room.Snapshot {
	c.t.Helper()
	for {
		var s room.Snapshot
		require.NoError(c.t, json.Unmarshal(c.expect(room.EventRoomState).Data, &s))
		if match(s) {
			return s
		}
	}
}

func inPhase(p room.Phase) func(room.Snapshot) bool {
	return func(s room.Snapshot) bool { return s.Phase == p }
}

func (c *client) expectWord() room.WordPayload {
	c.t.Helper()
	var w room.WordPayload
	require.NoError(c.t, json.Unmarshal(c.expect(room.EventPrivilegedWord).Data, &w))
	return w
}

// seatedGame has alice own a room with herself on team 0 and bob on team 1.
func seatedGame(h *harness) (alice, bob *client, roomID string) {
	h.t.Helper()
	alice = h.dial("alice-phone", "alice")
	alice.send(IntentCreateRoom, CreateRoomData{Name: "friday"})
	s := alice.expectState(inPhase(room.PhaseLobby))
	roomID = s.RoomID
	assert.Equal(h.t, alice.id, s.OwnerID)

	bob = h.dial("bob-phone", "bob")
	bob.send(IntentJoinRoom, JoinRoomData{RoomID: roomID})
	bob.expectState(inPhase(room.PhaseLobby))

	alice.send(IntentSetTeam, SetTeamData{Team: 0})
	bob.send(IntentSetTeam, SetTeamData{Team: 1})
	alice.expectState(func(s room.Snapshot) bool {
		return len(s.Teams[0].Players) == 1 && len(s.Teams[1].Players) == 1
	})
	return alice, bob, roomID
}

func TestGateway_FullTurn(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob, _ := seatedGame(h)

	alice.send(IntentStartCategory, nil)
	alice.send(IntentPickCategory, PickCategoryData{Category: "animals"})
	alice.send(IntentStartRound, nil)

	first := alice.expectWord()
	assert.Equal(t, "animals", first.Category)
	alice.send(IntentHitWord, nil)
	second := alice.expectWord()
	assert.NotEqual(t, first.Word, second.Word)

	s := bob.expectState(func(s room.Snapshot) bool { return s.Phase == room.PhasePlaying && s.Hits == 1 })
	assert.Equal(t, 1, s.Teams[0].Score)
	assert.Nil(t, s.RoundLog)
	require.NotNil(t, s.Timer)
	duringTurn := append([]frame(nil), bob.seen...)

	alice.send(IntentEndGame, nil)
	alice.expect(room.EventRoomClosed)
	bob.expect(room.EventRoomClosed)

	for _, f := range duringTurn {
		assert.NotEqual(t, string(room.EventPrivilegedWord), f.Type)
		assert.NotContains(t, f.raw, first.Word)
		assert.NotContains(t, f.raw, second.Word)
	}
}

func TestGateway_TimerTicksReachEveryone(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RoomDefaults.RoundDuration = 5 * time.Second
	})
	alice, bob, _ := seatedGame(h)

	alice.send(IntentStartCategory, nil)
	alice.send(IntentPickCategory, PickCategoryData{Category: "animals"})
	alice.send(IntentStartRound, nil)
	alice.expectWord()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Second)

	var tick room.TickPayload
	require.NoError(t, json.Unmarshal(bob.expect(room.EventTimerTick).Data, &tick))
	assert.Equal(t, 4, tick.RemainingSec)
}

func TestGateway_RejectsInvalidIntents(t *testing.T) {
	h := newHarness(t, nil)
	_, bob, _ := seatedGame(h)

	tests := []struct {
		name   string
		send   func()
		intent string
		reason string
	}{
		{
			name:   "non-owner ends game",
			send:   func() { bob.send(IntentEndGame, nil) },
			intent: "endGame",
			reason: room.ErrNotOwner.Error(),
		},
		{
			name:   "round before category",
			send:   func() { bob.send(IntentStartRound, nil) },
			intent: "startRound",
			reason: room.ErrWrongPhase.Error(),
		},
		{
			name:   "unknown intent",
			send:   func() { bob.send("dance", nil) },
			intent: "dance",
			reason: ErrUnknownIntent.Error(),
		},
		{
			name:   "malformed frame",
			send:   func() { require.NoError(t, bob.ws.WriteMessage(websocket.TextMessage, []byte("{nope"))) },
			intent: "",
			reason: ErrMalformed.Error(),
		},
		{
			name:   "join missing room",
			send:   func() { bob.send(IntentJoinRoom, JoinRoomData{RoomID: "missing"}) },
			intent: "joinRoom",
			reason: room.ErrRoomNotFound.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.send()
			var rej RejectedPayload
			require.NoError(t, json.Unmarshal(bob.expect(room.EventRejected).Data, &rej))
			assert.Equal(t, tt.intent, rej.Intent)
			assert.Contains(t, rej.Reason, tt.reason)
		})
	}

	rm, ok := h.reg.RoomOf(bob.id)
	require.True(t, ok)
	assert.Equal(t, room.PhaseLobby, rm.Summary().Phase)
}

func TestGateway_LateIntentIsNotRejected(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.IntentTimeout = 250 * time.Millisecond
	})
	alice := h.dial("alice-phone", "alice")
	alice.send(IntentCreateRoom, CreateRoomData{Name: "busy"})
	alice.expectState(inPhase(room.PhaseLobby))

	rm, ok := h.reg.RoomOf(alice.id)
	require.True(t, ok)
	busy := make(chan struct{})
	release := make(chan struct{})
	go rm.Do(context.Background(), func(*room.Machine) error {
		close(busy)
		<-release
		return nil
	})
	<-busy

	alice.send(IntentSetTeam, SetTeamData{Team: 0})
	time.Sleep(600 * time.Millisecond)
	close(release)

	alice.expectState(func(s room.Snapshot) bool { return len(s.Teams[0].Players) == 1 })
	for _, f := range alice.seen {
		assert.NotEqual(t, string(room.EventRejected), f.Type, f.raw)
	}
}

func TestGateway_ReconnectResumesMembership(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob, roomID := seatedGame(h)

	require.NoError(t, bob.ws.Close())
	alice.expectState(func(s room.Snapshot) bool {
		return len(s.Teams[1].Players) == 1 && !s.Teams[1].Players[0].Connected
	})

	again := h.dial("bob-phone", "bob")
	assert.Equal(t, bob.id, again.id)
	s := again.expectState(func(room.Snapshot) bool { return true })
	assert.Equal(t, roomID, s.RoomID)
	require.Len(t, s.Teams[1].Players, 1)
	assert.Equal(t, bob.id, s.Teams[1].Players[0].ID)
	assert.True(t, s.Teams[1].Players[0].Connected)
}

func TestGateway_ReconnectResendsWordToActivePlayer(t *testing.T) {
	h := newHarness(t, nil)
	alice, _, _ := seatedGame(h)

	alice.send(IntentStartCategory, nil)
	alice.send(IntentPickCategory, PickCategoryData{Category: "animals"})
	alice.send(IntentStartRound, nil)
	word := alice.expectWord()

	require.NoError(t, alice.ws.Close())
	again := h.dial("alice-phone", "alice")
	assert.Equal(t, word, again.expectWord())
}

func TestGateway_GraceExpiryRemovesPlayer(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.ReconnectGrace = 30 * time.Second })
	alice, bob, _ := seatedGame(h)

	require.NoError(t, bob.ws.Close())
	alice.expectState(func(s room.Snapshot) bool {
		return len(s.Teams[1].Players) == 1 && !s.Teams[1].Players[0].Connected
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(30 * time.Second)

	alice.expectState(func(s room.Snapshot) bool { return len(s.Teams[1].Players) == 0 })
	_, ok := h.reg.RoomOf(bob.id)
	assert.False(t, ok)
}

func TestGateway_NewerConnectionReplacesOlder(t *testing.T) {
	h := newHarness(t, nil)
	first := h.dial("same-device", "carol")
	second := h.dial("same-device", "carol")
	assert.Equal(t, first.id, second.id)

	for {
		if _, err := first.next(); err != nil {
			break
		}
	}
	second.send(IntentListRooms, nil)
	second.expect(room.EventRoomsList)
}

func TestGateway_RateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Connection.IntentRate = 0.001
		cfg.Connection.IntentBurst = 2
	})
	c := h.dial("spammer", "dave")
	c.expect(room.EventRoomsList)

	for i := 0; i < 5; i++ {
		c.send(IntentListRooms, nil)
	}
	c.expect(room.EventRoomsList)
	c.expect(room.EventRoomsList)

	c.ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := c.ws.ReadMessage()
	assert.Error(t, err, "intents beyond the burst must be dropped")
}

func TestGateway_HTTPRoutes(t *testing.T) {
	h := newHarness(t, nil)
	_, _, roomID := seatedGame(h)

	resp, err := http.Get(h.srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var list RoomsListPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, roomID, list.Rooms[0].ID)
	assert.Equal(t, 2, list.Rooms[0].PlayerCount)
	assert.False(t, list.Rooms[0].Locked)

	health, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	stats, err := http.Get(h.srv.URL + "/ws/stats")
	require.NoError(t, err)
	defer stats.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(stats.Body).Decode(&body))
	assert.EqualValues(t, 2, body["total_connections"])
	assert.EqualValues(t, 1, body["rooms"])
}

func TestIdentityFor(t *testing.T) {
	assert.Equal(t, IdentityFor("phone-1"), IdentityFor(" phone-1 "))
	assert.NotEqual(t, IdentityFor("phone-1"), IdentityFor("phone-2"))
	assert.NotEqual(t, IdentityFor(""), IdentityFor(""))
}

func TestRoomConfigData_Apply(t *testing.T) {
	dur, capacity := 90, 6
	base := room.DefaultConfig()

	got := (&RoomConfigData{
		RoundDurationSec: &dur,
		Capacity:         &capacity,
		Win:              &room.WinCondition{Mode: room.WinByRounds, Target: 3},
		TeamNames:        []string{"Owls"},
	}).apply(base)

	assert.Equal(t, 90*time.Second, got.RoundDuration)
	assert.Equal(t, base.SkipCooldown, got.SkipCooldown)
	assert.Equal(t, 6, got.Capacity)
	assert.Equal(t, room.WinByRounds, got.Win.Mode)
	assert.Equal(t, [2]string{"Owls", "Team B"}, got.TeamNames)

	var nilData *RoomConfigData
	assert.Equal(t, base, nilData.apply(base))
}
