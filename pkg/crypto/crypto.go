// Package crypto provides moderator password hashing and client identity
// derivation.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/spaolacci/murmur3"
	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of a generated password salt.
const SaltSize = 16

var ErrInvalidAddress = errors.New("crypto: invalid remote address")

// GenerateSalt returns a random password salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// VerifyPassword reports whether password hashes to hash under salt.
func VerifyPassword(password string, salt, hash []byte) bool {
	if len(salt) == 0 || len(hash) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(HashPassword(password, salt), hash) == 1
}

// EncodeHex renders a salt or hash for configuration files.
func EncodeHex(b []byte) string { return hex.EncodeToString(b) }

// DecodeHex reverses EncodeHex, ignoring surrounding whitespace.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode hex: %w", err)
	}
	return b, nil
}

// IPID derives the stable numeric identity of a client from its remote
// address. The port is ignored, so reconnects from the same host keep the
// same IPID.
func IPID(remoteAddr string) (int64, error) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, remoteAddr)
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return int64(murmur3.Sum32(ip)), nil
}
