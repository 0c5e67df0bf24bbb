// Package auth guards the HTTP API with a shared API key. The key is only
// ever held as a bcrypt hash.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hashing cost bounds.
const (
	// DefaultCost takes roughly 250ms per hash on current hardware.
	DefaultCost = 12

	// MinCost is the lowest cost accepted for a configured hash.
	MinCost = 10
)

var (
	// ErrEmptyKey is returned when hashing or verifying an empty key.
	ErrEmptyKey = errors.New("api key cannot be empty")

	// ErrKeyMismatch is returned when verification fails. It does not say
	// whether the hash itself was malformed.
	ErrKeyMismatch = errors.New("api key does not match")

	// ErrInvalidHash is returned when a hash is not in bcrypt format.
	ErrInvalidHash = errors.New("invalid api key hash format")

	// ErrCostTooLow is returned for hashes below MinCost.
	ErrCostTooLow = errors.New("api key hash cost is below minimum")
)

// HashKey returns the bcrypt hash of key at DefaultCost.
func HashKey(key string) (string, error) {
	return HashKeyWithCost(key, DefaultCost)
}

// HashKeyWithCost returns the bcrypt hash of key at cost.
func HashKeyWithCost(key string, cost int) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyKey compares key with hash in constant time.
func VerifyKey(key, hash string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if hash == "" {
		return ErrInvalidHash
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrKeyMismatch
	}
	return nil
}

// ValidateHash checks that hash is a bcrypt hash of at least MinCost.
func ValidateHash(hash string) error {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return ErrInvalidHash
	}
	if cost < MinCost {
		return ErrCostTooLow
	}
	return nil
}
