// Package idempotency derives stable keys from enrichment requests so that
// the same logical subject always maps to the same cache entry regardless of
// input casing, punctuation, or field ordering.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"lead-enricher/internal/common/errors"
)

const fieldSeparator = "|"

// Subject holds the normalized fields that identify one enrichment target.
type Subject struct {
	Street         string `json:"street"`
	City           string `json:"city"`
	State          string `json:"state"`
	Zip            string `json:"zip"`
	OwnerFirstName string `json:"ownerFirstName"`
	OwnerLastName  string `json:"ownerLastName"`
	Provider       string `json:"provider"`
}

// KeyComputer produces deterministic idempotency keys for subjects.
type KeyComputer struct{}

// NewKeyComputer creates a KeyComputer.
func NewKeyComputer() *KeyComputer {
	return &KeyComputer{}
}

// ComputeKey canonicalizes the subject fields and hashes them in a fixed
// order, so two subjects that differ only in casing, whitespace, or
// punctuation produce the same key. Returns an invalid input error when
// every address field is empty after canonicalization.
func (k *KeyComputer) ComputeKey(subject Subject) (string, error) {
	street := Canonicalize(subject.Street)
	city := Canonicalize(subject.City)
	state := Canonicalize(subject.State)
	zip := Canonicalize(subject.Zip)

	if street == "" && city == "" && state == "" && zip == "" {
		return "", errors.InvalidInputError("at least one address field is required")
	}

	parts := []string{
		street,
		city,
		state,
		zip,
		Canonicalize(subject.OwnerFirstName),
		Canonicalize(subject.OwnerLastName),
		Canonicalize(subject.Provider),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, fieldSeparator)))
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize lowercases, strips punctuation, and collapses runs of
// whitespace into single spaces.
func Canonicalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}
