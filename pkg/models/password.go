package models

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Password hashing costs. Share passwords get a higher cost because the
// tokens they protect are redeemable without authentication.
const (
	UserPasswordCost  = 12
	SharePasswordCost = 12

	// MinPasswordLength is the minimum account password length.
	MinPasswordLength = 8
	// MinSharePasswordLength / MaxSharePasswordLength bound public share
	// passwords. 72 is the bcrypt input limit.
	MinSharePasswordLength = 6
	MaxSharePasswordLength = 72
)

// HashPassword hashes a plaintext password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
// bcrypt's comparison is constant time in the hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
