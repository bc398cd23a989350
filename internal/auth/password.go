package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
)

// argon2id parameters. Memory-hard enough for an interactive login while
// staying well under a second on commodity hardware.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// passwordSymbols is the punctuation set the complexity policy accepts.
const passwordSymbols = `!@#$%^&*(),.?":{}|<>`

const minPasswordLength = 8

// ValidatePassword enforces the complexity policy: at least 8 characters
// with an uppercase letter, a lowercase letter, a digit and one symbol from
// the accepted set. The returned error names the first rule that failed.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return core.NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}

	switch {
	case !hasUpper:
		return core.NewValidationError("password", "must contain an uppercase letter")
	case !hasLower:
		return core.NewValidationError("password", "must contain a lowercase letter")
	case !hasDigit:
		return core.NewValidationError("password", "must contain a digit")
	case !hasSymbol:
		return core.NewValidationError("password", `must contain a symbol from !@#$%^&*(),.?":{}|<>`)
	}
	return nil
}

// HashPassword derives an argon2id hash with a fresh random salt and returns
// it PHC-encoded, self-describing so parameters can be raised later without
// invalidating stored hashes.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches the PHC-encoded hash. The
// comparison is constant-time; a malformed hash is an error, not a mismatch.
func VerifyPassword(encoded, password string) (bool, error) {
	salt, key, memory, time, threads, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

func decodeHash(encoded string) (salt, key []byte, memory, time uint32, threads uint8, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, fmt.Errorf("malformed password hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("malformed password hash version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, 0, 0, 0, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("malformed password hash parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("malformed password hash salt: %w", err)
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("malformed password hash key: %w", err)
	}
	return salt, key, memory, time, threads, nil
}
