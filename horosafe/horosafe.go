// Package horosafe holds the small input-safety primitives used at the
// bridge's edges: bearer secret strength, bounded body reads and identifier
// checks for path parameters.
package horosafe

import (
	"errors"
	"fmt"
	"io"
)

// MinSecretLen is the minimum length for a bearer secret. 32 bytes = 256
// bits when the secret is random.
const MinSecretLen = 32

// MaxIdentifierLen bounds identifiers taken from URL paths.
const MaxIdentifierLen = 128

var (
	ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)
	ErrTooLarge       = errors.New("horosafe: payload too large")
	ErrBadIdentifier  = errors.New("horosafe: invalid identifier")
)

// ValidateSecret checks that a shared secret is long enough.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// ValidateIdentifier accepts non-empty identifiers made of ASCII letters,
// digits, '_', '-', '.' and ':'. Executor node ids ("12:34") and UUIDs both
// pass.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrBadIdentifier)
	}
	if len(s) > MaxIdentifierLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrBadIdentifier, MaxIdentifierLen)
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("%w: character %q", ErrBadIdentifier, r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r. It returns an error
// wrapping ErrTooLarge when r holds more.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' || r == ':'
}
