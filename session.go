package main

import (
	"errors"
	"slices"
	"strings"
)

// GameState is the phase a room is currently in. Rounds cycle through
// CATEGORIES -> GAME -> VALIDATION -> RESULTS until the host ends the game
// or the letters run out.
type GameState string

const (
	StateLobby      GameState = "LOBBY"
	StateCategories GameState = "CATEGORIES"
	StateGame       GameState = "GAME"
	StateValidation GameState = "VALIDATION"
	StateResults    GameState = "RESULTS"
)

type Player struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TotalScore int    `json:"total_score"`
	Online     bool   `json:"online"`
}

var (
	ErrWrongState       = errors.New("that action is not allowed in the current game state")
	ErrNotAuthorized    = errors.New("only the host may do that")
	ErrUnknownPlayer    = errors.New("player is not part of this game")
	ErrRoomFull         = errors.New("this room is full")
	ErrEmptyName        = errors.New("a name is required")
	ErrNameTaken        = errors.New("that name is already taken")
	ErrTooFewCategories = errors.New("pick at least two categories")
	ErrUnknownCategory  = errors.New("that category is not part of this game")
	ErrCategoryExists   = errors.New("that category already exists")
	ErrAlreadySubmitted = errors.New("answers for this round were already submitted")
	ErrOwnAnswer        = errors.New("you cannot vote on your own answer")
	ErrNoAnswer         = errors.New("there is no answer to vote on")
)

// Session holds all state for one room. It does no locking and no I/O of its
// own; the owning Hub serializes access and pushes updates to clients.
type Session struct {
	id     string
	hostID string
	state  GameState

	players   map[string]*Player
	joinOrder []string

	catalog    []Category
	categories []string

	usedLetters []string
	letter      string

	answers     Answers
	votes       Votes
	roundWinner string
	roundScores RoundScores

	maxPlayers int
}

func newSession(id string, maxPlayers int) *Session {
	return &Session{
		id:         id,
		state:      StateLobby,
		players:    make(map[string]*Player),
		catalog:    slices.Clone(defaultCatalog),
		answers:    make(Answers),
		votes:      make(Votes),
		maxPlayers: maxPlayers,
	}
}

func (s *Session) player(id string) *Player {
	return s.players[id]
}

func (s *Session) onlineCount() int {
	count := 0
	for _, p := range s.players {
		if p.Online {
			count++
		}
	}
	return count
}

// isAuthorized is the single authority predicate for gated transitions: the
// designated host, or the sole connected participant.
func (s *Session) isAuthorized(playerID string) bool {
	p := s.players[playerID]
	if p == nil {
		return false
	}
	if playerID == s.hostID {
		return true
	}
	return p.Online && s.onlineCount() == 1
}

// Join adds a player to the lobby. The first player to join becomes host.
// A known player ID reconnecting is marked online again regardless of state.
func (s *Session) Join(playerID, name string) (*Player, error) {
	if p, ok := s.players[playerID]; ok {
		p.Online = true
		return p, nil
	}

	if s.state != StateLobby {
		return nil, ErrWrongState
	}
	if len(s.players) >= s.maxPlayers {
		return nil, ErrRoomFull
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	for _, p := range s.players {
		if p.Name == name {
			return nil, ErrNameTaken
		}
	}

	p := &Player{
		ID:     playerID,
		Name:   name,
		Online: true,
	}
	s.players[playerID] = p
	s.joinOrder = append(s.joinOrder, playerID)

	if s.hostID == "" {
		s.hostID = playerID
	}

	return p, nil
}

// setOnline flips a player's presence flag, reporting whether it changed.
func (s *Session) setOnline(playerID string, online bool) bool {
	p := s.players[playerID]
	if p == nil || p.Online == online {
		return false
	}
	p.Online = online
	return true
}

// Leave removes a player from the registry. Their recorded answers for the
// current round stay, so they are still scored; their cumulative total is
// simply never written anywhere. Returns true when the room is now empty.
func (s *Session) Leave(playerID string) bool {
	if _, ok := s.players[playerID]; !ok {
		return len(s.players) == 0
	}

	delete(s.players, playerID)
	s.joinOrder = slices.DeleteFunc(s.joinOrder, func(id string) bool {
		return id == playerID
	})

	// Hand the room to the earliest remaining player so it never ends up
	// without anyone able to advance the game.
	if playerID == s.hostID {
		s.hostID = ""
		if len(s.joinOrder) > 0 {
			s.hostID = s.joinOrder[0]
		}
	}

	return len(s.players) == 0
}

// StartGame moves the lobby to category selection. Host only; everyone else
// receives an explicit denial rather than a silent no-op.
func (s *Session) StartGame(byID string) error {
	if s.state != StateLobby {
		return ErrWrongState
	}
	if !s.isAuthorized(byID) {
		return ErrNotAuthorized
	}
	s.state = StateCategories
	return nil
}

// AddCategory appends an ad hoc category to the room's catalog. The catalog
// is only mutable between rounds, never once a round has started.
func (s *Session) AddCategory(byID, name string) (Category, error) {
	if s.state != StateCategories {
		return Category{}, ErrWrongState
	}
	if !s.isAuthorized(byID) {
		return Category{}, ErrNotAuthorized
	}

	name = strings.TrimSpace(name)
	id := categoryID(name)
	if id == "" {
		return Category{}, ErrEmptyName
	}
	for _, c := range s.catalog {
		if c.ID == id {
			return Category{}, ErrCategoryExists
		}
	}

	c := Category{ID: id, Name: name}
	s.catalog = append(s.catalog, c)
	return c, nil
}

func (s *Session) inCatalog(categoryID string) bool {
	for _, c := range s.catalog {
		if c.ID == categoryID {
			return true
		}
	}
	return false
}

// StartRound locks in the selected categories, draws a fresh letter and
// opens answer entry. Letters are never reused within a session; when none
// remain the session has reached its natural end.
func (s *Session) StartRound(byID string, selected []string) error {
	if s.state != StateCategories {
		return ErrWrongState
	}
	if !s.isAuthorized(byID) {
		return ErrNotAuthorized
	}

	seen := make(map[string]bool, len(selected))
	deduped := make([]string, 0, len(selected))
	for _, id := range selected {
		if seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
		if !s.inCatalog(id) {
			return ErrUnknownCategory
		}
	}
	if len(deduped) < minCategories {
		return ErrTooFewCategories
	}

	letter, err := drawLetter(s.usedLetters)
	if err != nil {
		return err
	}

	s.categories = deduped
	s.letter = letter
	s.usedLetters = append(s.usedLetters, letter)
	s.answers = make(Answers)
	s.votes = make(Votes)
	s.roundWinner = ""
	s.roundScores = nil
	s.state = StateGame

	return nil
}

// SubmitAnswers records a player's answer sheet for the current round. The
// first submitter is the round winner (they "pressed STOP"). A sheet, once
// recorded, is read-only. Returns whether this submission was the stop call.
func (s *Session) SubmitAnswers(playerID string, sheet map[string]string) (bool, error) {
	if s.state != StateGame {
		return false, ErrWrongState
	}
	if s.players[playerID] == nil {
		return false, ErrUnknownPlayer
	}
	if _, ok := s.answers[playerID]; ok {
		return false, ErrAlreadySubmitted
	}

	recorded := make(map[string]string, len(s.categories))
	for _, categoryID := range s.categories {
		recorded[categoryID] = sheet[categoryID]
	}
	s.answers[playerID] = recorded

	first := s.roundWinner == ""
	if first {
		s.roundWinner = playerID
	}

	return first, nil
}

// allAnswered reports whether every connected player has a recorded sheet.
func (s *Session) allAnswered() bool {
	connected := 0
	for _, p := range s.players {
		if !p.Online {
			continue
		}
		connected++
		if _, ok := s.answers[p.ID]; !ok {
			return false
		}
	}
	return connected > 0
}

// ToggleVote casts or retracts a nullification vote against one answer.
// Vote entries may only exist for answers that were actually submitted, and
// never against the voter's own sheet.
func (s *Session) ToggleVote(voterID, targetID, categoryID string) (bool, error) {
	if s.state != StateValidation {
		return false, ErrWrongState
	}
	if s.players[voterID] == nil {
		return false, ErrUnknownPlayer
	}
	if voterID == targetID {
		return false, ErrOwnAnswer
	}
	if !slices.Contains(s.categories, categoryID) {
		return false, ErrUnknownCategory
	}
	if strings.TrimSpace(s.answers[targetID][categoryID]) == "" {
		return false, ErrNoAnswer
	}

	voters := s.votes[targetID][categoryID]
	if i := slices.Index(voters, voterID); i >= 0 {
		voters = slices.Delete(voters, i, i+1)
		s.votes[targetID][categoryID] = voters
		return false, nil
	}

	if s.votes[targetID] == nil {
		s.votes[targetID] = make(map[string][]string)
	}
	s.votes[targetID][categoryID] = append(voters, voterID)
	return true, nil
}

// FinishValidation closes voting and scores the round.
func (s *Session) FinishValidation(byID string) (RoundScores, error) {
	if s.state != StateValidation {
		return nil, ErrWrongState
	}
	if !s.isAuthorized(byID) {
		return nil, ErrNotAuthorized
	}
	return s.finishValidation(), nil
}

// finishValidation scores the current round from an explicit snapshot and
// folds the round totals into cumulative scores. It runs exactly once per
// round: the state switch to RESULTS happens in the same critical section,
// so a second trigger is rejected upstream by the state check.
func (s *Session) finishValidation() RoundScores {
	snap := RoundSnapshot{
		Online:     make(map[string]bool, len(s.players)),
		Categories: slices.Clone(s.categories),
		Letter:     s.letter,
		Answers:    s.answers,
		Votes:      s.votes,
	}

	for _, id := range s.joinOrder {
		p := s.players[id]
		if _, answered := s.answers[id]; p.Online || answered {
			snap.Players = append(snap.Players, id)
		}
		snap.Online[id] = p.Online
	}

	// A player who left mid-round may still appear in the answer set; they
	// are scored for display but no longer have a registry entry to update.
	for id := range s.answers {
		if s.players[id] == nil {
			snap.Players = append(snap.Players, id)
		}
	}

	scores := ScoreRound(snap)

	for id, score := range scores {
		if p := s.players[id]; p != nil {
			p.TotalScore += score.Total
		}
	}

	s.roundScores = scores
	s.state = StateResults
	return scores
}

// NextRound returns to category selection for another letter.
func (s *Session) NextRound(byID string) error {
	if s.state != StateResults {
		return ErrWrongState
	}
	if !s.isAuthorized(byID) {
		return ErrNotAuthorized
	}

	s.state = StateCategories
	s.letter = ""
	s.answers = make(Answers)
	s.votes = make(Votes)
	s.roundWinner = ""
	s.roundScores = nil

	return nil
}

// EndGame tears the room down.
func (s *Session) EndGame(byID string) error {
	if !s.isAuthorized(byID) {
		return ErrNotAuthorized
	}
	return nil
}

// maybeAdvance applies the automatic transitions that do not wait for an
// explicit host action: answer entry ends once every connected player has a
// recorded sheet, and validation ends immediately when only one participant
// is left to vote. Returns true when the state changed.
func (s *Session) maybeAdvance() bool {
	advanced := false

	if s.state == StateGame && s.allAnswered() {
		s.state = StateValidation
		advanced = true
	}

	if s.state == StateValidation && s.onlineCount() == 1 {
		s.finishValidation()
		advanced = true
	}

	return advanced
}
