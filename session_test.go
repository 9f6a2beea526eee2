package main

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSession builds a lobby with one joined player per name. Player IDs
// are p1, p2, ... in join order, so p1 is the host.
func newTestSession(t *testing.T, names ...string) *Session {
	t.Helper()

	s := newSession("TESTGAME", 10)
	for i, name := range names {
		_, err := s.Join(fmt.Sprintf("p%d", i+1), name)
		require.NoError(t, err)
	}
	return s
}

// toValidation walks a session from category selection into the voting phase
// with every player handing in the given sheet.
func toValidation(t *testing.T, s *Session, sheets map[string]map[string]string) {
	t.Helper()

	require.NoError(t, s.StartRound("p1", []string{"nome", "cor"}))
	for id, sheet := range sheets {
		_, err := s.SubmitAnswers(id, sheet)
		require.NoError(t, err)
	}
	require.True(t, s.maybeAdvance())
	require.Equal(t, StateValidation, s.state)
}

func TestJoinFirstPlayerBecomesHost(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")

	assert.Equal(t, "p1", s.hostID)
	assert.True(t, s.isAuthorized("p1"))
	assert.False(t, s.isAuthorized("p2"))
	assert.Equal(t, []string{"p1", "p2"}, s.joinOrder)
}

func TestJoinRejectsDuplicateName(t *testing.T) {
	s := newTestSession(t, "Ana")

	_, err := s.Join("p2", "Ana")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestJoinRejectsBlankName(t *testing.T) {
	s := newTestSession(t, "Ana")

	_, err := s.Join("p2", "   ")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestJoinRejectsWhenFull(t *testing.T) {
	s := newSession("TESTGAME", 2)
	_, err := s.Join("p1", "Ana")
	require.NoError(t, err)
	_, err = s.Join("p2", "Beto")
	require.NoError(t, err)

	_, err = s.Join("p3", "Caio")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinRejectsNewPlayersAfterLobby(t *testing.T) {
	s := newTestSession(t, "Ana")
	require.NoError(t, s.StartGame("p1"))

	_, err := s.Join("p2", "Beto")
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestJoinReconnectsKnownPlayerInAnyState(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	s.setOnline("p2", false)

	p, err := s.Join("p2", "ignored")
	require.NoError(t, err)

	assert.Equal(t, "Beto", p.Name)
	assert.True(t, p.Online)
}

func TestStartGameDeniedForNonHost(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")

	assert.ErrorIs(t, s.StartGame("p2"), ErrNotAuthorized)
	assert.Equal(t, StateLobby, s.state)

	assert.NoError(t, s.StartGame("p1"))
	assert.Equal(t, StateCategories, s.state)
}

func TestSoleOnlinePlayerGainsControl(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	s.setOnline("p1", false)

	assert.True(t, s.isAuthorized("p2"))
	assert.NoError(t, s.StartGame("p2"))
}

func TestOfflineHostStaysAuthorized(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	s.setOnline("p1", false)

	assert.True(t, s.isAuthorized("p1"))
}

func TestAddCategory(t *testing.T) {
	s := newTestSession(t, "Ana")
	require.NoError(t, s.StartGame("p1"))

	c, err := s.AddCategory("p1", "  Meio Ambiente ")
	require.NoError(t, err)
	assert.Equal(t, "meio-ambiente", c.ID)
	assert.Equal(t, "Meio Ambiente", c.Name)
	assert.True(t, s.inCatalog("meio-ambiente"))

	_, err = s.AddCategory("p1", "meio ambiente")
	assert.ErrorIs(t, err, ErrCategoryExists)

	_, err = s.AddCategory("p1", "   ")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestAddCategoryDeniedForNonHost(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))

	_, err := s.AddCategory("p2", "Filme")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestStartRoundValidation(t *testing.T) {
	s := newTestSession(t, "Ana")

	assert.ErrorIs(t, s.StartRound("p1", []string{"nome", "cor"}), ErrWrongState)

	require.NoError(t, s.StartGame("p1"))

	assert.ErrorIs(t, s.StartRound("p1", []string{"nome"}), ErrTooFewCategories)
	assert.ErrorIs(t, s.StartRound("p1", []string{"nome", "nome"}), ErrTooFewCategories)
	assert.ErrorIs(t, s.StartRound("p1", []string{"nome", "filme"}), ErrUnknownCategory)
	assert.Equal(t, StateCategories, s.state)
}

func TestStartRoundDrawsLetterAndResets(t *testing.T) {
	s := newTestSession(t, "Ana")
	require.NoError(t, s.StartGame("p1"))
	require.NoError(t, s.StartRound("p1", []string{"nome", "cor", "nome"}))

	assert.Equal(t, StateGame, s.state)
	assert.Equal(t, []string{"nome", "cor"}, s.categories)
	assert.Len(t, s.letter, 1)
	assert.Contains(t, roundAlphabet, s.letter)
	assert.Equal(t, []string{s.letter}, s.usedLetters)
	assert.Empty(t, s.answers)
	assert.Empty(t, s.votes)
	assert.Empty(t, s.roundWinner)
}

func TestLettersNeverRepeatAndEventuallyRunOut(t *testing.T) {
	s := newTestSession(t, "Ana")
	require.NoError(t, s.StartGame("p1"))

	drawn := make(map[string]bool)
	for i := 0; i < len(roundAlphabet); i++ {
		require.NoError(t, s.StartRound("p1", []string{"nome", "cor"}))
		assert.False(t, drawn[s.letter], "letter %q drawn twice", s.letter)
		drawn[s.letter] = true

		_, err := s.SubmitAnswers("p1", map[string]string{"nome": "x", "cor": "y"})
		require.NoError(t, err)
		require.True(t, s.maybeAdvance())
		require.Equal(t, StateResults, s.state)
		require.NoError(t, s.NextRound("p1"))
	}

	assert.Len(t, drawn, len(roundAlphabet))
	assert.ErrorIs(t, s.StartRound("p1", []string{"nome", "cor"}), ErrLettersExhausted)
}

func TestSubmitAnswers(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	require.NoError(t, s.StartRound("p1", []string{"nome", "cor"}))

	first, err := s.SubmitAnswers("p2", map[string]string{
		"nome":  "Bruno",
		"cor":   "Branco",
		"fruta": "Banana", // not selected this round
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, "p2", s.roundWinner)

	// Only selected categories are recorded.
	assert.Equal(t, map[string]string{"nome": "Bruno", "cor": "Branco"}, s.answers["p2"])

	first, err = s.SubmitAnswers("p1", map[string]string{"nome": "Ana"})
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, "p2", s.roundWinner)

	_, err = s.SubmitAnswers("p2", map[string]string{"nome": "Bia"})
	assert.ErrorIs(t, err, ErrAlreadySubmitted)

	_, err = s.SubmitAnswers("zz", map[string]string{"nome": "Zeca"})
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestSubmitAnswersRejectedOutsideRound(t *testing.T) {
	s := newTestSession(t, "Ana")

	_, err := s.SubmitAnswers("p1", map[string]string{"nome": "Ana"})
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestRoundAdvancesWhenEveryoneAnswered(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	require.NoError(t, s.StartRound("p1", []string{"nome", "cor"}))

	_, err := s.SubmitAnswers("p1", map[string]string{"nome": "Ana"})
	require.NoError(t, err)
	assert.False(t, s.maybeAdvance())
	assert.Equal(t, StateGame, s.state)

	_, err = s.SubmitAnswers("p2", map[string]string{"nome": "Bia"})
	require.NoError(t, err)
	assert.True(t, s.maybeAdvance())
	assert.Equal(t, StateValidation, s.state)
}

func TestRoundAdvancesWhenLastHoldoutDisconnects(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto", "Caio")
	require.NoError(t, s.StartGame("p1"))
	require.NoError(t, s.StartRound("p1", []string{"nome", "cor"}))

	_, err := s.SubmitAnswers("p1", map[string]string{"nome": "Ana"})
	require.NoError(t, err)
	_, err = s.SubmitAnswers("p2", map[string]string{"nome": "Bia"})
	require.NoError(t, err)
	assert.False(t, s.maybeAdvance())

	s.setOnline("p3", false)
	assert.True(t, s.maybeAdvance())
	assert.Equal(t, StateValidation, s.state)
}

func TestToggleVote(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	toValidation(t, s, map[string]map[string]string{
		"p1": {"nome": "Ana", "cor": ""},
		"p2": {"nome": "Bia", "cor": "Branco"},
	})

	added, err := s.ToggleVote("p1", "p2", "nome")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"p1"}, s.votes["p2"]["nome"])

	added, err = s.ToggleVote("p1", "p2", "nome")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, s.votes["p2"]["nome"])
}

func TestToggleVoteConstraints(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	toValidation(t, s, map[string]map[string]string{
		"p1": {"nome": "Ana", "cor": ""},
		"p2": {"nome": "Bia", "cor": "Branco"},
	})

	_, err := s.ToggleVote("p1", "p1", "nome")
	assert.ErrorIs(t, err, ErrOwnAnswer)

	_, err = s.ToggleVote("p2", "p1", "cor")
	assert.ErrorIs(t, err, ErrNoAnswer)

	_, err = s.ToggleVote("p1", "p2", "fruta")
	assert.ErrorIs(t, err, ErrUnknownCategory)

	_, err = s.ToggleVote("zz", "p2", "nome")
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestToggleVoteRejectedOutsideValidation(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")

	_, err := s.ToggleVote("p1", "p2", "nome")
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestFinishValidationAppliesCumulativeScores(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	s.players["p1"].TotalScore = 20

	toValidation(t, s, map[string]map[string]string{
		"p1": {"nome": "Bruno", "cor": "Bruno"},
		"p2": {"nome": "bruno", "cor": "Branco"},
	})
	s.letter = "B"

	scores, err := s.FinishValidation("p1")
	require.NoError(t, err)
	require.Equal(t, StateResults, s.state)

	// 5 for the shared name, 10 for the unique color.
	assert.Equal(t, 15, scores["p1"].Total)
	assert.Equal(t, 35, s.players["p1"].TotalScore)
	assert.Equal(t, 15, s.players["p2"].TotalScore)

	_, err = s.FinishValidation("p1")
	assert.ErrorIs(t, err, ErrWrongState)
	assert.Equal(t, 35, s.players["p1"].TotalScore)
}

func TestFinishValidationDeniedForNonHost(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	toValidation(t, s, map[string]map[string]string{
		"p1": {"nome": "Ana", "cor": "Azul"},
		"p2": {"nome": "Bia", "cor": "Branco"},
	})

	_, err := s.FinishValidation("p2")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, StateValidation, s.state)
}

func TestDepartedPlayerScoredButNotPersisted(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto", "Caio")
	require.NoError(t, s.StartGame("p1"))
	require.NoError(t, s.StartRound("p1", []string{"nome", "cor"}))
	s.letter = "B"

	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := s.SubmitAnswers(id, map[string]string{"nome": "B" + id, "cor": "B" + id})
		require.NoError(t, err)
	}
	require.True(t, s.maybeAdvance())

	assert.False(t, s.Leave("p3"))
	require.Equal(t, StateValidation, s.state)

	scores, err := s.FinishValidation("p1")
	require.NoError(t, err)

	require.Contains(t, scores, "p3")
	assert.Equal(t, 20, scores["p3"].Total)
	assert.Nil(t, s.player("p3"))
}

func TestOfflinePlayerWithAnswersStillScored(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	toValidation(t, s, map[string]map[string]string{
		"p1": {"nome": "Bruno", "cor": "Bege"},
		"p2": {"nome": "Bia", "cor": "Branco"},
	})
	s.letter = "B"
	s.setOnline("p2", false)

	scores, err := s.FinishValidation("p1")
	require.NoError(t, err)

	require.Contains(t, scores, "p2")
	assert.Equal(t, 20, s.players["p2"].TotalScore)
}

func TestValidationAutoFinishesForSoleParticipant(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	toValidation(t, s, map[string]map[string]string{
		"p1": {"nome": "Ana", "cor": "Azul"},
		"p2": {"nome": "Bia", "cor": "Branco"},
	})
	s.letter = "A"

	s.setOnline("p2", false)
	assert.True(t, s.maybeAdvance())
	assert.Equal(t, StateResults, s.state)
	assert.NotNil(t, s.roundScores)
}

func TestNextRoundResets(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")
	require.NoError(t, s.StartGame("p1"))
	toValidation(t, s, map[string]map[string]string{
		"p1": {"nome": "Ana", "cor": "Azul"},
		"p2": {"nome": "Bia", "cor": "Branco"},
	})
	used := slices.Clone(s.usedLetters)

	_, err := s.FinishValidation("p1")
	require.NoError(t, err)

	assert.ErrorIs(t, s.NextRound("p2"), ErrNotAuthorized)
	require.NoError(t, s.NextRound("p1"))

	assert.Equal(t, StateCategories, s.state)
	assert.Empty(t, s.letter)
	assert.Empty(t, s.answers)
	assert.Empty(t, s.votes)
	assert.Empty(t, s.roundWinner)
	assert.Nil(t, s.roundScores)
	assert.Equal(t, used, s.usedLetters)
}

func TestHostLeavePromotesEarliestPlayer(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto", "Caio")

	assert.False(t, s.Leave("p1"))
	assert.Equal(t, "p2", s.hostID)
	assert.True(t, s.isAuthorized("p2"))

	assert.False(t, s.Leave("p2"))
	assert.Equal(t, "p3", s.hostID)

	assert.True(t, s.Leave("p3"))
}

func TestEndGameAuthority(t *testing.T) {
	s := newTestSession(t, "Ana", "Beto")

	assert.ErrorIs(t, s.EndGame("p2"), ErrNotAuthorized)
	assert.NoError(t, s.EndGame("p1"))
}
