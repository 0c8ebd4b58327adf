package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/wordparty/go/internal/room"
)

// IntentType names an inbound client intent.
type IntentType string

const (
	IntentRegister      IntentType = "register"
	IntentListRooms     IntentType = "listRooms"
	IntentCreateRoom    IntentType = "createRoom"
	IntentJoinRoom      IntentType = "joinRoom"
	IntentLeaveRoom     IntentType = "leaveRoom"
	IntentSetTeam       IntentType = "setTeam"
	IntentPickCategory  IntentType = "pickCategory"
	IntentSelectPlayer  IntentType = "selectPlayer"
	IntentStartCategory IntentType = "startCategoryPhase"
	IntentStartRound    IntentType = "startRound"
	IntentHitWord       IntentType = "hitWord"
	IntentSkipWord      IntentType = "skipWord"
	IntentAdvanceReview IntentType = "advanceReview"
	IntentEndGame       IntentType = "endGame"
)

// EventRegistered tells a connection which identity it is bound to.
const EventRegistered room.EventType = "registered"

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Type      room.EventType `json:"type"`
	Data      any            `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type RegisterData struct {
	Name string `json:"name"`
}

type CreateRoomData struct {
	Name   string          `json:"name"`
	Config *RoomConfigData `json:"config,omitempty"`
}

// RoomConfigData carries the room settings chosen at creation. Omitted
// fields take the server defaults.
type RoomConfigData struct {
	RoundDurationSec *int               `json:"roundDurationSec,omitempty"`
	SkipCooldownSec  *int               `json:"skipCooldownSec,omitempty"`
	Win              *room.WinCondition `json:"win,omitempty"`
	Capacity         *int               `json:"capacity,omitempty"`
	Categories       []string           `json:"categories,omitempty"`
	TeamNames        []string           `json:"teamNames,omitempty"`
}

// apply overlays d on base.
func (d *RoomConfigData) apply(base room.Config) room.Config {
	if d == nil {
		return base
	}
	if d.RoundDurationSec != nil {
		base.RoundDuration = time.Duration(*d.RoundDurationSec) * time.Second
	}
	if d.SkipCooldownSec != nil {
		base.SkipCooldown = time.Duration(*d.SkipCooldownSec) * time.Second
	}
	if d.Win != nil {
		base.Win = *d.Win
	}
	if d.Capacity != nil {
		base.Capacity = *d.Capacity
	}
	if len(d.Categories) > 0 {
		base.Categories = append([]string(nil), d.Categories...)
	}
	for i := 0; i < len(d.TeamNames) && i < len(base.TeamNames); i++ {
		base.TeamNames[i] = d.TeamNames[i]
	}
	return base
}

type JoinRoomData struct {
	RoomID string `json:"roomId"`
}

type SetTeamData struct {
	Team int `json:"team"`
}

type PickCategoryData struct {
	Category string `json:"category"`
}

type SelectPlayerData struct {
	PlayerID string `json:"playerId"`
}

type RegisteredPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	RoomID   string `json:"room_id,omitempty"`
}

type RejectedPayload struct {
	Intent string `json:"intent"`
	Reason string `json:"reason"`
}

type RoomsListPayload struct {
	Rooms []room.Summary `json:"rooms"`
}

// decodeData unmarshals an intent's data into v. Intents without data leave
// v at its zero value.
func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
