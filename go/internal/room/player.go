package room

import "time"

// NoTeam marks a member who is not on either team.
const NoTeam = -1

// Player is a room member.
type Player struct {
	ID        string
	Name      string
	Team      int
	Owner     bool
	Connected bool
	JoinedAt  time.Time
}

func (p *Player) role() Role {
	switch {
	case p.Owner:
		return RoleOwner
	case p.Team == NoTeam:
		return RoleSpectator
	default:
		return RolePlayer
	}
}

func (p *Player) view() PlayerView {
	return PlayerView{
		ID:        p.ID,
		Name:      p.Name,
		Team:      p.Team,
		Role:      p.role(),
		Owner:     p.Owner,
		Connected: p.Connected,
	}
}

// Team is one side of the game. Roster order is turn order.
type Team struct {
	Index  int
	Name   string
	Roster []string
	Score  int
	turns  int
	next   int
}

func (t *Team) has(id string) bool {
	for _, m := range t.Roster {
		if m == id {
			return true
		}
	}
	return false
}

func (t *Team) remove(id string) {
	for i, m := range t.Roster {
		if m != id {
			continue
		}
		t.Roster = append(t.Roster[:i], t.Roster[i+1:]...)
		if i < t.next {
			t.next--
		}
		return
	}
}

// upNext is the member whose turn it is, or "" for an empty team.
func (t *Team) upNext() string {
	if len(t.Roster) == 0 {
		return ""
	}
	return t.Roster[t.next%len(t.Roster)]
}

// Outcome of a resolved word.
type Outcome string

const (
	OutcomeHit  Outcome = "hit"
	OutcomeSkip Outcome = "skip"
)

type LogEntry struct {
	Word    string  `json:"word"`
	Outcome Outcome `json:"outcome"`
}
