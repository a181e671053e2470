// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
	argon2Prefix  = "$argon2id$"

	// Upper bounds on argon2id cost, for configured and stored parameters alike.
	maxArgon2Time   = 64
	maxArgon2Memory = 4 * 1024 * 1024 // KiB
	maxBcryptCost   = 16
)

// HasherParams are the argon2id cost parameters.
type HasherParams struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultHasherParams returns the OWASP-recommended argon2id parameters.
func DefaultHasherParams() HasherParams {
	return HasherParams{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
	}
}

// Validate rejects parameters argon2 cannot run with.
func (p HasherParams) Validate() error {
	if p.Time == 0 {
		return oops.Code("HASHER_INVALID_PARAMS").Errorf("time must be at least 1")
	}
	if p.Time > maxArgon2Time {
		return oops.Code("HASHER_INVALID_PARAMS").With("time", p.Time).Errorf("time must be at most %d", maxArgon2Time)
	}
	if p.Threads == 0 {
		return oops.Code("HASHER_INVALID_PARAMS").Errorf("threads must be at least 1")
	}
	if p.Memory > maxArgon2Memory {
		return oops.Code("HASHER_INVALID_PARAMS").
			With("memory", p.Memory).
			Errorf("memory must be at most %d KiB", maxArgon2Memory)
	}
	if p.Memory < 8*uint32(p.Threads) {
		return oops.Code("HASHER_INVALID_PARAMS").
			With("memory", p.Memory).
			With("threads", p.Threads).
			Errorf("memory must be at least 8 KiB per thread")
	}
	return nil
}

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	// Hash produces a self-describing hash of the password.
	Hash(password string) (string, error)

	// Verify reports whether password matches hash. Malformed or unknown
	// hashes report false after doing comparable work.
	Verify(password, hash string) bool

	// NeedsUpgrade reports whether hash should be recomputed with the
	// current algorithm and parameters.
	NeedsUpgrade(hash string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id. Legacy bcrypt
// hashes are verified but always reported as needing an upgrade.
type Argon2idHasher struct {
	params HasherParams
	onBurn func()
}

// NewArgon2idHasher creates a hasher with the given parameters.
func NewArgon2idHasher(params HasherParams) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Hash produces an argon2id hash in PHC string format.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against an argon2id or bcrypt hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) bool {
	if isBcrypt(encodedHash) {
		if cost, err := bcrypt.Cost([]byte(encodedHash)); err != nil || cost > maxBcryptCost {
			h.burn(password)
			return false
		}
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if err == nil {
			return true
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			h.burn(password)
		}
		return false
	}

	decoded, err := decodeArgon2id(encodedHash)
	if err != nil {
		h.burn(password)
		return false
	}

	computed := argon2.IDKey([]byte(password), decoded.salt,
		decoded.params.Time, decoded.params.Memory, decoded.params.Threads, uint32(len(decoded.key)))
	return subtle.ConstantTimeCompare(computed, decoded.key) == 1
}

// NeedsUpgrade returns true for non-argon2id hashes and for argon2id hashes
// computed with different parameters.
func (h *Argon2idHasher) NeedsUpgrade(encodedHash string) bool {
	decoded, err := decodeArgon2id(encodedHash)
	if err != nil {
		return true
	}
	return decoded.params != h.params || len(decoded.key) != argon2KeyLen
}

// burn spends the cost of one derivation so that a malformed stored hash
// takes as long to reject as a wrong password.
func (h *Argon2idHasher) burn(password string) {
	if h.onBurn != nil {
		h.onBurn()
	}
	var salt [argon2SaltLen]byte
	_ = argon2.IDKey([]byte(password), salt[:], h.params.Time, h.params.Memory, h.params.Threads, argon2KeyLen)
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

type argon2idHash struct {
	params HasherParams
	salt   []byte
	key    []byte
}

func decodeArgon2id(encodedHash string) (*argon2idHash, error) {
	if !strings.HasPrefix(encodedHash, argon2Prefix) {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm")
	}
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return nil, oops.Code("AUTH_INVALID_HASH").With("version", version).Errorf("unsupported argon2 version")
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	if iterations == 0 || iterations > maxArgon2Time {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("iterations value %d out of range", iterations)
	}
	if memory < 8*threads || memory > maxArgon2Memory {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("memory value %d out of range", memory)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<10 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	return &argon2idHash{
		params: HasherParams{Time: iterations, Memory: memory, Threads: uint8(threads)},
		salt:   salt,
		key:    key,
	}, nil
}
