package room

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/wordparty/go/internal/timer"
)

// Words is the word supply a room draws from.
type Words interface {
	Draw(category string, excluding map[string]struct{}) (string, bool)
	Has(category string) bool
	Categories() []string
	Remaining(category string, excluding map[string]struct{}) int
}

// Machine is a room's round state machine. It is not safe for concurrent use;
// the owning Room calls it from a single goroutine. Every method either
// applies a transition and queues the resulting messages or returns a
// rejection error and leaves the state untouched.
type Machine struct {
	roomID    string
	name      string
	createdAt time.Time
	cfg       Config

	words     Words
	timers    *timer.Factory
	clock     clockwork.Clock
	timerSink func(timer.Event)

	ownerID    string
	players    map[string]*Player
	order      []string
	teams      [2]*Team
	categories []string
	used       map[string]struct{}

	phase          Phase
	turnTeam       int
	activeCategory string
	activePlayer   string
	wordQueue      []string
	roundLog       []LogEntry
	countdown      *timer.Countdown
	lastSkip       time.Time
	exhausted      bool
	closeRequested bool

	version uint64
	pending []Message
}

// NewMachine builds the state machine for a new room in the lobby phase.
// timerSink receives countdown events; the caller must route them back into
// HandleTimer on the machine's goroutine.
func NewMachine(roomID, name string, cfg Config, words Words, timers *timer.Factory, timerSink func(timer.Event)) *Machine {
	cfg = cfg.withDefaults()
	categories := cfg.Categories
	if len(categories) == 0 {
		categories = words.Categories()
	}

	m := &Machine{
		roomID:     roomID,
		name:       name,
		cfg:        cfg,
		words:      words,
		timers:     timers,
		clock:      timers.Clock(),
		timerSink:  timerSink,
		players:    make(map[string]*Player),
		categories: append([]string(nil), categories...),
		used:       make(map[string]struct{}),
		phase:      PhaseLobby,
	}
	m.createdAt = m.clock.Now()
	for i := range m.teams {
		m.teams[i] = &Team{Index: i, Name: cfg.TeamNames[i]}
	}
	return m
}

// Drain returns and clears the messages queued since the last call.
func (m *Machine) Drain() []Message {
	out := m.pending
	m.pending = nil
	return out
}

// Phase is the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

func (m *Machine) OwnerID() string {
	return m.ownerID
}

func (m *Machine) ActivePlayer() string {
	return m.activePlayer
}

func (m *Machine) PlayerCount() int {
	return len(m.order)
}

// Empty reports whether the room has no members left, connected or not.
func (m *Machine) Empty() bool {
	return len(m.order) == 0
}

// CloseRequested is set once the owner asked to end the game.
func (m *Machine) CloseRequested() bool {
	return m.closeRequested
}

func (m *Machine) Score(team int) int {
	return m.teams[team].Score
}

func (m *Machine) RoundLog() []LogEntry {
	return append([]LogEntry(nil), m.roundLog...)
}

// Countdown is the running turn timer, nil outside the playing phase.
func (m *Machine) Countdown() *timer.Countdown {
	return m.countdown
}

// IsMember reports whether id belongs to the room, connected or not.
func (m *Machine) IsMember(id string) bool {
	_, ok := m.players[id]
	return ok
}

// WordUsed reports whether word was drawn in this room.
func (m *Machine) WordUsed(word string) bool {
	_, ok := m.used[word]
	return ok
}

// --- membership ---

// AddPlayer admits a member, or marks an existing member connected again. The
// first member becomes the owner. Rejoining members keep team and score.
func (m *Machine) AddPlayer(id, name string) (rejoined bool, err error) {
	if p, ok := m.players[id]; ok {
		p.Connected = true
		if name != "" {
			p.Name = name
		}
		m.emitSnapshot()
		m.resendWord(id)
		return true, nil
	}
	if m.phase.Locked() {
		return false, ErrRoomLocked
	}
	if len(m.order) >= m.cfg.Capacity {
		return false, ErrRoomFull
	}

	p := &Player{
		ID:        id,
		Name:      name,
		Team:      NoTeam,
		Connected: true,
		JoinedAt:  m.clock.Now(),
	}
	if m.ownerID == "" {
		m.ownerID = id
		p.Owner = true
	}
	m.players[id] = p
	m.order = append(m.order, id)
	m.emitSnapshot()
	return false, nil
}

// SetConnected records presence. A disconnected member keeps team and score.
func (m *Machine) SetConnected(id string, connected bool) error {
	p, ok := m.players[id]
	if !ok {
		return ErrNotMember
	}
	if p.Connected == connected {
		return nil
	}
	p.Connected = connected
	m.emitSnapshot()
	if connected {
		m.resendWord(id)
	}
	return nil
}

// RemovePlayer drops a member for good. If the owner leaves, ownership passes
// to the earliest joined remaining member. Losing the active player ends a
// running turn.
func (m *Machine) RemovePlayer(id string) error {
	p, ok := m.players[id]
	if !ok {
		return ErrNotMember
	}
	if p.Team != NoTeam {
		m.teams[p.Team].remove(id)
	}
	delete(m.players, id)
	for i, pid := range m.order {
		if pid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	if m.ownerID == id {
		m.ownerID = ""
		if len(m.order) > 0 {
			m.ownerID = m.order[0]
			m.players[m.ownerID].Owner = true
		}
	}

	if m.activePlayer == id {
		switch m.phase {
		case PhasePlaying:
			m.activePlayer = ""
			m.endTurn(id)
			return nil
		case PhasePrepare, PhaseReview:
			m.activePlayer = ""
		}
	}
	m.emitSnapshot()
	return nil
}

// Resync sends the current snapshot, and the word if id holds it, to id
// alone. Used once a connection has been bound to the room.
func (m *Machine) Resync(id string) error {
	if _, ok := m.players[id]; !ok {
		return ErrNotMember
	}
	m.emit(toPlayer(m.roomID, id), EventRoomState, m.Snapshot())
	m.resendWord(id)
	return nil
}

// Rename changes a member's display name.
func (m *Machine) Rename(id, name string) error {
	p, ok := m.players[id]
	if !ok {
		return ErrNotMember
	}
	if name == "" || name == p.Name {
		return nil
	}
	p.Name = name
	m.emitSnapshot()
	return nil
}

// SetTeam moves caller onto team (0 or 1) or off both teams (NoTeam). New
// members join the end of the roster.
func (m *Machine) SetTeam(caller string, team int) error {
	p, ok := m.players[caller]
	if !ok {
		return ErrNotMember
	}
	if team != NoTeam && team != 0 && team != 1 {
		return ErrInvalidTeam
	}
	switch m.phase {
	case PhaseLobby, PhaseCategorySelect, PhasePrepare:
	default:
		return ErrWrongPhase
	}
	if caller == m.activePlayer {
		return ErrActivePlayerLocked
	}
	if p.Team == team {
		return nil
	}

	if p.Team != NoTeam {
		m.teams[p.Team].remove(caller)
	}
	p.Team = team
	if team != NoTeam {
		m.teams[team].Roster = append(m.teams[team].Roster, caller)
	}
	m.emitSnapshot()
	return nil
}

// --- round life cycle ---

// StartCategoryPhase moves the lobby to category selection.
func (m *Machine) StartCategoryPhase(caller string) error {
	if m.phase != PhaseLobby {
		return ErrWrongPhase
	}
	if caller != m.ownerID {
		return ErrNotOwner
	}
	if len(m.teams[0].Roster) == 0 || len(m.teams[1].Roster) == 0 {
		return ErrTeamsIncomplete
	}
	m.turnTeam = 0
	m.enterCategorySelect()
	return nil
}

// PickCategory chooses the category for the coming turn.
func (m *Machine) PickCategory(caller, category string) error {
	if m.phase != PhaseCategorySelect {
		return ErrWrongPhase
	}
	if caller != m.ownerID && caller != m.chooser() {
		return ErrNotAuthorized
	}
	if !m.offers(category) {
		return ErrUnknownCategory
	}
	m.activeCategory = category
	m.activePlayer = m.chooser()
	m.phase = PhasePrepare
	m.emitSnapshot()
	return nil
}

// SelectPlayer names the player who will hold the words this turn.
func (m *Machine) SelectPlayer(caller, target string) error {
	if m.phase != PhasePrepare {
		return ErrWrongPhase
	}
	if caller != m.ownerID && caller != m.chooser() {
		return ErrNotAuthorized
	}
	p, ok := m.players[target]
	if !ok {
		return ErrUnknownPlayer
	}
	if p.Team == NoTeam {
		return ErrNotOnTeam
	}
	if m.activePlayer == target {
		return nil
	}
	m.activePlayer = target
	m.emitSnapshot()
	return nil
}

// StartRound starts the countdown and deals the first word.
func (m *Machine) StartRound(caller string) error {
	if m.phase != PhasePrepare {
		return ErrWrongPhase
	}
	if m.activePlayer == "" {
		return ErrNoActivePlayer
	}
	if caller != m.ownerID && caller != m.activePlayer {
		return ErrNotAuthorized
	}

	m.phase = PhasePlaying
	m.roundLog = nil
	m.wordQueue = nil
	m.lastSkip = time.Time{}
	m.exhausted = false
	m.countdown = m.timers.Start(m.cfg.RoundDuration, m.timerSink)

	m.emit(toServer(m.roomID), EventRoundStarted, m.lifecycle(m.activePlayer))
	if !m.deal() {
		m.endTurn(m.activePlayer)
		return nil
	}
	m.emitSnapshot()
	m.resendWord(m.activePlayer)
	return nil
}

// Hit resolves the current word as guessed.
func (m *Machine) Hit(caller string) error {
	if err := m.checkTurn(caller); err != nil {
		return err
	}
	word := m.wordQueue[0]
	m.wordQueue = m.wordQueue[1:]
	m.roundLog = append(m.roundLog, LogEntry{Word: word, Outcome: OutcomeHit})
	if team := m.players[m.activePlayer].Team; team != NoTeam {
		m.teams[team].Score++
	}
	m.next()
	return nil
}

// Skip resolves the current word as skipped. A second skip is refused until
// the configured cooldown has passed.
func (m *Machine) Skip(caller string) error {
	if err := m.checkTurn(caller); err != nil {
		return err
	}
	now := m.clock.Now()
	if !m.lastSkip.IsZero() && now.Sub(m.lastSkip) < m.cfg.SkipCooldown {
		return ErrSkipCooldown
	}
	m.lastSkip = now

	word := m.wordQueue[0]
	m.wordQueue = m.wordQueue[1:]
	m.roundLog = append(m.roundLog, LogEntry{Word: word, Outcome: OutcomeSkip})
	m.next()
	return nil
}

// HandleTimer applies a countdown event. Events from a countdown that is no
// longer the room's current one are ignored.
func (m *Machine) HandleTimer(e timer.Event) bool {
	if m.phase != PhasePlaying || m.countdown == nil || e.Handle != m.countdown.ID() {
		return false
	}
	if e.Expired {
		m.endTurn(m.activePlayer)
		return true
	}
	m.emit(toRoom(m.roomID), EventTimerTick, TickPayload{RemainingSec: e.Remaining})
	return true
}

// Advance leaves review for the next turn or ends the game.
func (m *Machine) Advance(caller string) error {
	if m.phase != PhaseReview {
		return ErrWrongPhase
	}
	if caller != m.ownerID {
		return ErrNotOwner
	}
	if m.winConditionMet() {
		m.finish()
		return nil
	}

	m.turnTeam = 1 - m.turnTeam
	if len(m.teams[m.turnTeam].Roster) == 0 {
		m.turnTeam = 1 - m.turnTeam
	}
	m.enterCategorySelect()
	return nil
}

// End finishes the game at once. Sent in the finished phase it only asks for
// the room to be closed.
func (m *Machine) End(caller string) error {
	if caller != m.ownerID {
		return ErrNotOwner
	}
	m.closeRequested = true
	if m.phase == PhaseFinished {
		return nil
	}
	m.stopCountdown()
	m.finish()
	return nil
}

// Stop cancels any running countdown. Used when the room shuts down.
func (m *Machine) Stop() {
	m.stopCountdown()
}

// Snapshot builds the room-wide view.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		RoomID:         m.roomID,
		Name:           m.name,
		Version:        m.version,
		Phase:          m.phase,
		OwnerID:        m.ownerID,
		TurnTeam:       m.turnTeam,
		ActiveCategory: m.activeCategory,
		ActivePlayer:   m.activePlayer,
		Spectators:     []PlayerView{},
		Config: ConfigView{
			RoundDurationSec: int(m.cfg.RoundDuration / time.Second),
			SkipCooldownSec:  int(m.cfg.SkipCooldown / time.Second),
			Win:              m.cfg.Win,
			Capacity:         m.cfg.Capacity,
		},
		CreatedAt: m.createdAt,
	}
	if m.phase == PhaseCategorySelect || m.phase == PhasePrepare {
		s.Chooser = m.chooser()
	}

	for i, t := range m.teams {
		tv := TeamView{Index: t.Index, Name: t.Name, Score: t.Score, Turns: t.turns, Players: make([]PlayerView, 0, len(t.Roster))}
		for _, id := range t.Roster {
			tv.Players = append(tv.Players, m.players[id].view())
		}
		s.Teams[i] = tv
	}
	for _, id := range m.order {
		if p := m.players[id]; p.Team == NoTeam {
			s.Spectators = append(s.Spectators, p.view())
		}
	}

	s.Categories = make([]CategoryView, 0, len(m.categories))
	for _, c := range m.categories {
		s.Categories = append(s.Categories, CategoryView{Name: c, Remaining: m.words.Remaining(c, m.used)})
	}

	s.Hits, s.Skips = m.counts()
	if m.phase != PhasePlaying && len(m.roundLog) > 0 {
		s.RoundLog = m.RoundLog()
	}
	if m.phase == PhasePlaying && m.countdown != nil {
		s.Timer = &TimerView{Deadline: m.countdown.Deadline(), RemainingSec: m.countdown.Remaining()}
	}
	if m.phase == PhaseFinished {
		w := m.winner()
		s.Winner = &w
	}
	return s
}

// --- internals ---

func (m *Machine) enterCategorySelect() {
	m.phase = PhaseCategorySelect
	m.activeCategory = ""
	m.activePlayer = ""
	m.wordQueue = nil
	m.emitSnapshot()
}

func (m *Machine) checkTurn(caller string) error {
	if m.phase != PhasePlaying {
		return ErrWrongPhase
	}
	if caller != m.activePlayer {
		return ErrNotActivePlayer
	}
	if len(m.wordQueue) == 0 {
		return ErrWrongPhase
	}
	return nil
}

// next deals the following word or ends the turn when the category ran dry.
func (m *Machine) next() {
	if !m.deal() {
		m.endTurn(m.activePlayer)
		return
	}
	m.emitSnapshot()
	m.resendWord(m.activePlayer)
}

// deal draws an unused word into the queue and records it as used.
func (m *Machine) deal() bool {
	word, ok := m.words.Draw(m.activeCategory, m.used)
	if !ok {
		m.exhausted = true
		return false
	}
	m.used[word] = struct{}{}
	m.wordQueue = append(m.wordQueue, word)
	return true
}

// endTurn moves a running turn to review. player is the one who held the
// turn; it may already have left the room.
func (m *Machine) endTurn(player string) {
	m.stopCountdown()
	m.phase = PhaseReview

	turn := m.teams[m.turnTeam]
	turn.turns++
	if len(turn.Roster) > 0 {
		turn.next = (turn.next + 1) % len(turn.Roster)
	}

	hits, skips := m.counts()
	team := m.turnTeam
	if p, ok := m.players[player]; ok && p.Team != NoTeam {
		team = p.Team
	}
	payload := RoundLogPayload{
		Team:       team,
		Player:     player,
		Category:   m.activeCategory,
		Entries:    m.RoundLog(),
		Hits:       hits,
		Skips:      skips,
		Exhausted:  m.exhausted,
		TeamScores: [2]int{m.teams[0].Score, m.teams[1].Score},
	}

	m.emitSnapshot()
	m.emit(toRoom(m.roomID), EventRoundLog, payload)
	m.emit(toServer(m.roomID), EventRoundEnded, payload)
}

func (m *Machine) finish() {
	m.phase = PhaseFinished
	m.wordQueue = nil
	m.emitSnapshot()
	m.emit(toServer(m.roomID), EventGameFinished, m.lifecycle(""))
}

func (m *Machine) stopCountdown() {
	if m.countdown == nil {
		return
	}
	m.countdown.Cancel()
	m.countdown = nil
}

func (m *Machine) winConditionMet() bool {
	switch m.cfg.Win.Mode {
	case WinByRounds:
		return m.teams[0].turns >= m.cfg.Win.Target && m.teams[1].turns >= m.cfg.Win.Target
	default:
		return m.teams[0].Score >= m.cfg.Win.Target || m.teams[1].Score >= m.cfg.Win.Target
	}
}

// winner is the leading team index, or NoTeam on a tie.
func (m *Machine) winner() int {
	switch {
	case m.teams[0].Score > m.teams[1].Score:
		return 0
	case m.teams[1].Score > m.teams[0].Score:
		return 1
	default:
		return NoTeam
	}
}

// chooser is the member whose turn it is to pick a category.
func (m *Machine) chooser() string {
	return m.teams[m.turnTeam].upNext()
}

func (m *Machine) offers(category string) bool {
	for _, c := range m.categories {
		if c == category {
			return true
		}
	}
	return false
}

func (m *Machine) counts() (hits, skips int) {
	for _, e := range m.roundLog {
		if e.Outcome == OutcomeHit {
			hits++
		} else {
			skips++
		}
	}
	return hits, skips
}

func (m *Machine) lifecycle(player string) LifecyclePayload {
	return LifecyclePayload{
		RoomID:   m.roomID,
		Name:     m.name,
		Phase:    m.phase,
		Scores:   [2]int{m.teams[0].Score, m.teams[1].Score},
		Player:   player,
		Category: m.activeCategory,
		At:       m.clock.Now(),
	}
}

// resendWord hands the current word to id if id holds it.
func (m *Machine) resendWord(id string) {
	if m.phase != PhasePlaying || id != m.activePlayer || len(m.wordQueue) == 0 {
		return
	}
	m.emit(toPlayer(m.roomID, id), EventPrivilegedWord, WordPayload{Word: m.wordQueue[0], Category: m.activeCategory})
}

func (m *Machine) emitSnapshot() {
	m.version++
	m.emit(toRoom(m.roomID), EventRoomState, m.Snapshot())
}

func (m *Machine) emit(to Audience, typ EventType, payload any) {
	m.pending = append(m.pending, Message{Audience: to, Type: typ, Payload: payload})
}

func (m *Machine) String() string {
	return fmt.Sprintf("room %s (%s) phase=%s players=%d", m.roomID, m.name, m.phase, len(m.order))
}
