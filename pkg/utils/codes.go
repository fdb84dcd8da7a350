package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

const (
	NumericCodeLength = 6
	BackupCodeCount   = 8
)

var numericCodeSpace = big.NewInt(1_000_000)

// GenerateNumericCode draws uniformly from 000000-999999.
func GenerateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, numericCodeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", NumericCodeLength, n.Int64()), nil
}

// GenerateBackupCodes returns count fresh codes along with their hashes, in
// the same order. Only the hashes are meant to be persisted.
func GenerateBackupCodes(count int) (plaintextCodes []string, hashedCodes []string, err error) {
	seen := make(map[string]struct{}, count)
	for len(plaintextCodes) < count {
		code, err := GenerateNumericCode()
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		hashed, err := hashBackupCode(code)
		if err != nil {
			return nil, nil, err
		}
		plaintextCodes = append(plaintextCodes, code)
		hashedCodes = append(hashedCodes, hashed)
	}
	return plaintextCodes, hashedCodes, nil
}

// MatchBackupCode returns the index of the hash matching code, or -1. Every
// stored hash is checked so the running time does not depend on position.
func MatchBackupCode(code string, hashedCodes []string) int {
	match := -1
	for i, hashed := range hashedCodes {
		if CheckPassword(code, hashed) && match == -1 {
			match = i
		}
	}
	return match
}

// CodesEqual compares two one-time codes in constant time.
func CodesEqual(provided, stored string) bool {
	if provided == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) == 1
}
