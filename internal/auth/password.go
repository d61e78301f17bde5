package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for bcrypt password hashing.
const BcryptCost = 12

const minPasswordLength = 8

// bcrypt truncates input past 72 bytes, so longer passwords are rejected
// up front instead of being silently weakened.
const maxPasswordLength = 72

var ErrWrongPassword = errors.New("wrong password")

var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", minPasswordLength)

var ErrPasswordTooLong = fmt.Errorf("password must be at most %d bytes", maxPasswordLength)

func HashPassword(password string) (string, error) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	if len(password) > maxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}
