package main

import (
	"crypto/rand"
	"errors"
	"slices"
)

// roundAlphabet omits K, W and Y, which have no common Portuguese words for
// most categories.
const roundAlphabet = "ABCDEFGHIJKLMNOPQRSTUVXZ"

var ErrLettersExhausted = errors.New("every letter has already been used")

func availableLetters(used []string) []string {
	remaining := make([]string, 0, len(roundAlphabet))

	for _, r := range roundAlphabet {
		letter := string(r)
		if !slices.Contains(used, letter) {
			remaining = append(remaining, letter)
		}
	}

	return remaining
}

// drawLetter picks a random letter not yet used this session.
func drawLetter(used []string) (string, error) {
	remaining := availableLetters(used)
	if len(remaining) == 0 {
		return "", ErrLettersExhausted
	}

	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}

	return remaining[int(b[0])%len(remaining)], nil
}
