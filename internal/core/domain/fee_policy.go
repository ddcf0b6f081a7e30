package domain

import "fmt"

// PolicyKind distinguishes the two fee policy instances.
type PolicyKind string

const (
	PolicyKindPlatform PolicyKind = "PLATFORM"
	PolicyKindTrade    PolicyKind = "TRADE"
)

const (
	// FeePolicyVersion tags the only supported policy layout.
	FeePolicyVersion uint8 = 1
	// FeePolicyRecordSize is the packed size of a fee policy record.
	FeePolicyRecordSize = 1 + 32 + 32 + 2 + 1
	// MaxFeeBps caps every policy rate and the sum of rates applied to one escrow.
	MaxFeeBps uint16 = 2500
	// BpsDenominator converts basis points to a ratio.
	BpsDenominator = 10_000
)

// FeePolicy is an authority-owned fee rate and its collector.
type FeePolicy struct {
	Version      uint8  `json:"version"`
	Authority    Pubkey `json:"authority"`
	FeeCollector Pubkey `json:"fee_collector"`
	FeeBps       uint16 `json:"fee_bps"`
	Bump         uint8  `json:"bump"`
}

// MarshalBinary packs the policy into its fixed little-endian layout.
func (p *FeePolicy) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FeePolicyRecordSize)
	w := layoutWriter{buf: buf}
	w.u8(p.Version)
	w.bytes(p.Authority[:])
	w.bytes(p.FeeCollector[:])
	w.u16(p.FeeBps)
	w.u8(p.Bump)
	return buf, nil
}

// UnmarshalBinary decodes a packed policy. Version is checked by the caller
// since a stale version maps to a kind-specific state error.
func (p *FeePolicy) UnmarshalBinary(data []byte) error {
	if len(data) < FeePolicyRecordSize {
		return fmt.Errorf("%w: policy needs %d bytes, got %d", ErrInvalidRecord, FeePolicyRecordSize, len(data))
	}
	r := layoutReader{buf: data}
	p.Version = r.u8()
	copy(p.Authority[:], r.bytes(32))
	copy(p.FeeCollector[:], r.bytes(32))
	p.FeeBps = r.u16()
	p.Bump = r.u8()
	return nil
}
