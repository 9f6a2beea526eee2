package main

import (
	"strings"
)

// Category scores are always one of these three values.
const (
	ScoreZero      = 0
	ScoreDuplicate = 5
	ScoreUnique    = 10
)

// Answers maps player ID -> category ID -> the free text that player entered.
type Answers map[string]map[string]string

// Votes maps player ID -> category ID -> the IDs of players who voted to
// nullify that answer. Keys may only exist for answers that were submitted.
type Votes map[string]map[string][]string

// PlayerScore is one player's breakdown for a single round.
type PlayerScore struct {
	Total      int            `json:"total"`
	Categories map[string]int `json:"categories"`
}

// RoundScores maps player ID to that player's round breakdown.
type RoundScores map[string]*PlayerScore

// RoundSnapshot is everything the scorer needs, captured at the moment the
// round moves to results. The scorer never reads ambient state.
type RoundSnapshot struct {
	// Players lists everyone eligible for scoring: currently online, or
	// offline but with a recorded answer set.
	Players []string

	// Online marks which registered players are currently connected. It is
	// the denominator source for nullification votes.
	Online map[string]bool

	Categories []string
	Letter     string
	Answers    Answers
	Votes      Votes
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// nullified reports whether a strict majority of eligible voters rejected the
// answer. Eligible voters are online players other than the answer's author;
// if there are none, the answer is never nullified.
func nullified(snap RoundSnapshot, playerID, categoryID string) bool {
	votes := len(snap.Votes[playerID][categoryID])
	if votes == 0 {
		return false
	}

	voters := 0
	for id, online := range snap.Online {
		if online && id != playerID {
			voters++
		}
	}
	if voters == 0 {
		return false
	}

	return float64(votes)/float64(voters) > 0.5
}

// ScoreRound computes the per-player, per-category breakdown for one round.
//
// Each category is scored independently:
//   - answers nullified by majority vote score 0 and never count as duplicates
//   - blank answers, and answers not starting with the round letter, score 0
//   - answers sharing their normalized text with another player score 5
//   - answers unique among the valid submissions score 10
//
// Comparison trims surrounding whitespace and lowercases; internal whitespace
// and diacritics are significant. Every player in snap.Players receives an
// explicit entry for every category, even with no answer recorded.
func ScoreRound(snap RoundSnapshot) RoundScores {
	scores := make(RoundScores)

	if len(snap.Answers) == 0 || len(snap.Categories) == 0 {
		return scores
	}

	for _, id := range snap.Players {
		scores[id] = &PlayerScore{
			Categories: make(map[string]int, len(snap.Categories)),
		}
	}

	letter := strings.ToLower(snap.Letter)

	for _, categoryID := range snap.Categories {
		type submission struct {
			playerID string
			answer   string
		}

		var valid []submission

		for _, id := range snap.Players {
			if nullified(snap, id, categoryID) {
				scores[id].Categories[categoryID] = ScoreZero
				continue
			}

			answer := normalizeAnswer(snap.Answers[id][categoryID])
			if answer == "" || !strings.HasPrefix(answer, letter) {
				scores[id].Categories[categoryID] = ScoreZero
				continue
			}

			valid = append(valid, submission{
				playerID: id,
				answer:   answer,
			})
		}

		counts := make(map[string]int, len(valid))
		for _, s := range valid {
			counts[s.answer]++
		}

		for _, s := range valid {
			if counts[s.answer] > 1 {
				scores[s.playerID].Categories[categoryID] = ScoreDuplicate
			} else {
				scores[s.playerID].Categories[categoryID] = ScoreUnique
			}
		}
	}

	for _, s := range scores {
		total := 0
		for _, v := range s.Categories {
			total += v
		}
		s.Total = total
	}

	return scores
}
