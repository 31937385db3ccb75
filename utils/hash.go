package utils

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %v", err)
	}

	return string(hashedPassword), nil
}

func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// ContentHash returns the full SHA-1 hex digest of a document body. Used for
// per-tenant duplicate detection.
func ContentHash(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// DocumentID derives a stable document id from content. Sixteen hex characters
// keeps ids short while staying collision-safe at personal knowledge base scale.
func DocumentID(content string) string {
	return ContentHash(content)[:16]
}

// QueryID returns a short id for one question answering request, e.g. "q_1f2a...".
func QueryID() string {
	bytes := make([]byte, 6)
	rand.Read(bytes)
	return "q_" + hex.EncodeToString(bytes)
}

// RatingID returns a fresh id for one rating event. Clients that retry a
// submission should resend the id they were issued so the replay is dropped.
func RatingID() string {
	bytes := make([]byte, 6)
	rand.Read(bytes)
	return "r_" + hex.EncodeToString(bytes)
}