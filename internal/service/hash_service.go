package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2Params describes one Argon2id configuration. The operator hash is read
// from configuration, so decoded parameters are bounded before any key
// derivation runs.
type argon2Params struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
	keyLen  uint32
}

var operatorHashParams = argon2Params{memory: 64 * 1024, time: 1, threads: 4, keyLen: 32}

const (
	argon2SaltLen   = 16
	argon2MinSalt   = 8
	argon2MinKeyLen = 16
	argon2MaxMemory = 1024 * 1024
	argon2MaxTime   = 16
)

var errHashFormat = errors.New("invalid argon2id hash")

// Argon2HashService implements ports.HashService using Argon2id.
type Argon2HashService struct {
	params argon2Params
}

// NewArgon2HashService creates a new Argon2id hash service.
func NewArgon2HashService() *Argon2HashService {
	return &Argon2HashService{params: operatorHashParams}
}

// Hash returns $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>.
func (s *Argon2HashService) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	p := s.params
	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks a password against an encoded hash in constant time.
func (s *Argon2HashService) Verify(password string, encodedHash string) (bool, error) {
	salt, want, p, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// Check reports whether encodedHash is usable without deriving a key. escrowd
// calls it at startup on operator.password_hash.
func (s *Argon2HashService) Check(encodedHash string) error {
	_, _, _, err := decodeArgon2Hash(encodedHash)
	return err
}

func decodeArgon2Hash(encodedHash string) (salt, key []byte, p argon2Params, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, nil, p, fmt.Errorf("%w: expected 6 parts, got %d", errHashFormat, len(parts))
	}
	if parts[1] != "argon2id" {
		return nil, nil, p, fmt.Errorf("%w: unsupported algorithm %q", errHashFormat, parts[1])
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, p, fmt.Errorf("%w: parsing version: %v", errHashFormat, err)
	}
	if version != argon2.Version {
		return nil, nil, p, fmt.Errorf("%w: version %d, want %d", errHashFormat, version, argon2.Version)
	}

	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, nil, p, fmt.Errorf("%w: parsing params: %v", errHashFormat, err)
	}
	switch {
	case p.memory == 0 || p.memory > argon2MaxMemory:
		return nil, nil, p, fmt.Errorf("%w: memory %d KiB out of range", errHashFormat, p.memory)
	case p.time == 0 || p.time > argon2MaxTime:
		return nil, nil, p, fmt.Errorf("%w: time %d out of range", errHashFormat, p.time)
	case p.threads == 0:
		return nil, nil, p, fmt.Errorf("%w: zero parallelism", errHashFormat)
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, p, fmt.Errorf("%w: decoding salt: %v", errHashFormat, err)
	}
	if len(salt) < argon2MinSalt {
		return nil, nil, p, fmt.Errorf("%w: salt too short", errHashFormat)
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, p, fmt.Errorf("%w: decoding key: %v", errHashFormat, err)
	}
	if len(key) < argon2MinKeyLen {
		return nil, nil, p, fmt.Errorf("%w: key too short", errHashFormat)
	}
	p.keyLen = uint32(len(key))

	return salt, key, p, nil
}
