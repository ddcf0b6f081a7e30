// Package derive computes deterministic program addresses and the canonical
// token holding account of an (owner, mint) pair.
package derive

import (
	"crypto/sha256"
	"errors"

	"htlc-escrow/internal/core/domain"

	"filippo.io/edwards25519"
)

const (
	MaxSeeds      = 16
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	// Seed domain tags.
	SeedEscrow      = []byte("escrow")
	SeedConfig      = []byte("config")
	SeedTradeConfig = []byte("trade_config")

	ErrMaxSeedLength = errors.New("seed exceeds 32 bytes or too many seeds")
	ErrOnCurve       = errors.New("derived address lies on the ed25519 curve")
	ErrNoViableBump  = errors.New("no viable bump seed")
)

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
// Derived addresses must not, so no private key can sign for them.
// SetBytes reduces a non-canonical y (p through 2^255-1) modulo p, so those
// encodings count as on the curve too.
func IsOnCurve(b domain.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}

// CreateProgramAddress hashes seeds, program and the marker into an address.
// The bump, if any, is expected as the final seed.
func CreateProgramAddress(seeds [][]byte, program domain.Pubkey) (domain.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return domain.Pubkey{}, ErrMaxSeedLength
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > MaxSeedLength {
			return domain.Pubkey{}, ErrMaxSeedLength
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var addr domain.Pubkey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr) {
		return domain.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, program domain.Pubkey) (domain.Pubkey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}
	withBump[len(seeds)] = bump

	for b := 255; b >= 0; b-- {
		bump[0] = uint8(b)
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(b), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return domain.Pubkey{}, 0, err
		}
	}
	return domain.Pubkey{}, 0, ErrNoViableBump
}

// Deriver binds the program identities used for every derivation.
type Deriver struct {
	ProgramID                domain.Pubkey
	TokenProgramID           domain.Pubkey
	AssociatedTokenProgramID domain.Pubkey
}

// NewDeriver creates a Deriver for the given program identities.
func NewDeriver(program, tokenProgram, associatedTokenProgram domain.Pubkey) *Deriver {
	return &Deriver{
		ProgramID:                program,
		TokenProgramID:           tokenProgram,
		AssociatedTokenProgramID: associatedTokenProgram,
	}
}

// Escrow returns the address and bump of the escrow keyed by paymentHash.
func (d *Deriver) Escrow(paymentHash domain.Hash) (domain.Pubkey, uint8) {
	return d.mustFind([][]byte{SeedEscrow, paymentHash[:]}, d.ProgramID)
}

// PlatformPolicy returns the address and bump of the platform policy singleton.
func (d *Deriver) PlatformPolicy() (domain.Pubkey, uint8) {
	return d.mustFind([][]byte{SeedConfig}, d.ProgramID)
}

// TradePolicy returns the address and bump of the trade policy keyed by collector.
func (d *Deriver) TradePolicy(collector domain.Pubkey) (domain.Pubkey, uint8) {
	return d.mustFind([][]byte{SeedTradeConfig, collector[:]}, d.ProgramID)
}

// Policy dispatches to PlatformPolicy or TradePolicy. key is ignored for
// the platform singleton.
func (d *Deriver) Policy(kind domain.PolicyKind, key domain.Pubkey) (domain.Pubkey, uint8) {
	if kind == domain.PolicyKindTrade {
		return d.TradePolicy(key)
	}
	return d.PlatformPolicy()
}

// TokenAccount returns the canonical token holding account of owner for mint.
func (d *Deriver) TokenAccount(owner, mint domain.Pubkey) domain.Pubkey {
	addr, _ := d.mustFind([][]byte{owner[:], d.TokenProgramID[:], mint[:]}, d.AssociatedTokenProgramID)
	return addr
}

// mustFind panics only if seeds are oversized, which fixed-width callers
// never produce. Exhausting all 256 bumps has negligible probability.
func (d *Deriver) mustFind(seeds [][]byte, program domain.Pubkey) (domain.Pubkey, uint8) {
	addr, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		panic("derive: " + err.Error())
	}
	return addr, bump
}
