package model

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

const MaxNameLength = 32

var ErrNameEmpty = errors.New("name must not be empty")
var ErrNameTooLong = fmt.Errorf("name must not exceed %d characters", MaxNameLength)
var ErrNameInvalidChars = errors.New("name must not contain control characters")

// ModProfile is a moderator login. The password is stored as an Argon2id hash.
type ModProfile struct {
	Name         string
	PasswordHash []byte
	Salt         []byte
}

// ValidateName checks an OOC or character name: 1-32 characters, no control
// characters.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrNameInvalidChars
		}
	}
	return nil
}
