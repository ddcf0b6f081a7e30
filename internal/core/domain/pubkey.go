package domain

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// PubkeyLen is the width of every identity and address handled by the service.
const PubkeyLen = 32

var (
	ErrInvalidPubkey = errors.New("invalid pubkey")
	ErrInvalidHash   = errors.New("invalid hash")
)

// Pubkey is a 32-byte principal identity or derived address.
// Its text form is base58.
type Pubkey [PubkeyLen]byte

// ParsePubkey decodes a base58 string into a Pubkey.
func ParsePubkey(s string) (Pubkey, error) {
	var p Pubkey
	raw := base58.Decode(s)
	if len(raw) != PubkeyLen {
		return p, fmt.Errorf("%w: %q", ErrInvalidPubkey, s)
	}
	copy(p[:], raw)
	return p, nil
}

// PubkeyFromBytes copies a 32-byte slice into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeyLen {
		return p, fmt.Errorf("%w: length %d", ErrInvalidPubkey, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// MustPubkey parses s and panics on error. Intended for constants and tests.
func MustPubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns a copy of the key as a slice.
func (p Pubkey) Bytes() []byte {
	b := make([]byte, PubkeyLen)
	copy(b, p[:])
	return b
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Hash is a 32-byte payment hash or preimage. Its text form is lowercase hex,
// matching how lightning invoices print payment hashes.
type Hash [32]byte

// ParseHash decodes a 64-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(h) {
		return h, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
