package room

import "time"

// EventType names an outbound event.
type EventType string

// Client-facing events.
const (
	EventRoomsList      EventType = "roomsList"
	EventRoomState      EventType = "roomState"
	EventPrivilegedWord EventType = "privilegedWord"
	EventTimerTick      EventType = "timerTick"
	EventRoundLog       EventType = "roundLog"
	EventRejected       EventType = "rejected"
	EventRoomClosed     EventType = "roomClosed"
)

// Server-side lifecycle events. They never reach a client connection.
const (
	EventRoomCreated   EventType = "room.created"
	EventRoundStarted  EventType = "round.started"
	EventRoundEnded    EventType = "round.ended"
	EventGameFinished  EventType = "game.finished"
	EventRoomDestroyed EventType = "room.destroyed"
)

// AudienceKind says who may receive a message.
type AudienceKind int

const (
	// AudienceRoom is every connection bound to a member of the room.
	AudienceRoom AudienceKind = iota
	// AudiencePlayer is the single connection bound to Audience.Player.
	AudiencePlayer
	// AudienceServer stays inside the process (event mirroring, logs).
	AudienceServer
)

type Audience struct {
	Kind   AudienceKind
	Room   string
	Player string
}

// Message is one outbound event and the audience allowed to see it. Payloads
// are immutable values built at the moment of mutation.
type Message struct {
	Audience Audience
	Type     EventType
	Payload  any
}

// Sink receives messages produced by rooms. Deliver must not block on a
// remote client.
type Sink interface {
	Deliver(msg Message)
}

// MultiSink delivers every message to each sink in order.
type MultiSink []Sink

func (ms MultiSink) Deliver(msg Message) {
	for _, s := range ms {
		s.Deliver(msg)
	}
}

// Role is a member's visibility class.
type Role string

const (
	RoleOwner     Role = "owner"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// PlayerView is a member as seen by every other member.
type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Team      int    `json:"team"`
	Role      Role   `json:"role"`
	Owner     bool   `json:"owner"`
	Connected bool   `json:"connected"`
}

type TeamView struct {
	Index   int          `json:"index"`
	Name    string       `json:"name"`
	Score   int          `json:"score"`
	Turns   int          `json:"turns"`
	Players []PlayerView `json:"players"`
}

type CategoryView struct {
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
}

type TimerView struct {
	Deadline     time.Time `json:"deadline"`
	RemainingSec int       `json:"remaining_sec"`
}

type ConfigView struct {
	RoundDurationSec int          `json:"round_duration_sec"`
	SkipCooldownSec  int          `json:"skip_cooldown_sec"`
	Win              WinCondition `json:"win"`
	Capacity         int          `json:"capacity"`
}

// Snapshot is the room-wide state. It never carries the word currently held
// by the active player. While a turn is running only hit and skip counts are
// shown; the words of a turn become public at review.
type Snapshot struct {
	RoomID         string         `json:"room_id"`
	Name           string         `json:"name"`
	Version        uint64         `json:"version"`
	Phase          Phase          `json:"phase"`
	OwnerID        string         `json:"owner_id"`
	Teams          [2]TeamView    `json:"teams"`
	Spectators     []PlayerView   `json:"spectators"`
	Categories     []CategoryView `json:"categories"`
	TurnTeam       int            `json:"turn_team"`
	Chooser        string         `json:"chooser,omitempty"`
	ActiveCategory string         `json:"active_category,omitempty"`
	ActivePlayer   string         `json:"active_player,omitempty"`
	Hits           int            `json:"hits"`
	Skips          int            `json:"skips"`
	RoundLog       []LogEntry     `json:"round_log,omitempty"`
	Timer          *TimerView     `json:"timer,omitempty"`
	Winner         *int           `json:"winner,omitempty"`
	Config         ConfigView     `json:"config"`
	CreatedAt      time.Time      `json:"created_at"`
}

// WordPayload is the privileged word, sent to the active player only.
type WordPayload struct {
	Word     string `json:"word"`
	Category string `json:"category"`
}

type TickPayload struct {
	RemainingSec int `json:"remaining_sec"`
}

// RoundLogPayload is published when a turn ends.
type RoundLogPayload struct {
	Team       int        `json:"team"`
	Player     string     `json:"player"`
	Category   string     `json:"category"`
	Entries    []LogEntry `json:"entries"`
	Hits       int        `json:"hits"`
	Skips      int        `json:"skips"`
	Exhausted  bool       `json:"exhausted"`
	TeamScores [2]int     `json:"team_scores"`
}

type ClosedPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// LifecyclePayload accompanies server-side lifecycle events.
type LifecyclePayload struct {
	RoomID   string    `json:"room_id"`
	Name     string    `json:"name,omitempty"`
	Phase    Phase     `json:"phase"`
	Scores   [2]int    `json:"scores"`
	Player   string    `json:"player,omitempty"`
	Category string    `json:"category,omitempty"`
	At       time.Time `json:"at"`
}

func toRoom(roomID string) Audience {
	return Audience{Kind: AudienceRoom, Room: roomID}
}

func toPlayer(roomID, playerID string) Audience {
	return Audience{Kind: AudiencePlayer, Room: roomID, Player: playerID}
}

func toServer(roomID string) Audience {
	return Audience{Kind: AudienceServer, Room: roomID}
}
