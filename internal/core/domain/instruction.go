package domain

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// InstructionTag is the leading byte of an encoded request.
type InstructionTag uint8

const (
	TagCreateEscrow         InstructionTag = 0
	TagClaim                InstructionTag = 1
	TagRefund               InstructionTag = 2
	TagCreatePlatformPolicy InstructionTag = 3
	TagUpdatePlatformPolicy InstructionTag = 4
	TagWithdrawPlatformFees InstructionTag = 5
	TagCreateTradePolicy    InstructionTag = 6
	TagUpdateTradePolicy    InstructionTag = 7
	TagWithdrawTradeFees    InstructionTag = 8
)

var tagNames = map[InstructionTag]string{
	TagCreateEscrow:         "create_escrow",
	TagClaim:                "claim",
	TagRefund:               "refund",
	TagCreatePlatformPolicy: "create_platform_policy",
	TagUpdatePlatformPolicy: "update_platform_policy",
	TagWithdrawPlatformFees: "withdraw_platform_fees",
	TagCreateTradePolicy:    "create_trade_policy",
	TagUpdateTradePolicy:    "update_trade_policy",
	TagWithdrawTradeFees:    "withdraw_trade_fees",
}

func (t InstructionTag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ErrMalformedInstruction covers truncated buffers and unknown tags.
var ErrMalformedInstruction = errors.New("malformed instruction")

// Instruction is one decoded request.
type Instruction interface {
	Tag() InstructionTag
	MarshalBinary() ([]byte, error)
}

// CreateEscrow locks amount plus fees from the depositor into a new escrow.
type CreateEscrow struct {
	PaymentHash            Hash   `json:"payment_hash"`
	Recipient              Pubkey `json:"recipient"`
	RefundParty            Pubkey `json:"refund_party"`
	RefundAfter            int64  `json:"refund_after"`
	Amount                 uint64 `json:"amount"`
	ExpectedPlatformFeeBps uint16 `json:"expected_platform_fee_bps"`
	ExpectedTradeFeeBps    uint16 `json:"expected_trade_fee_bps"`
	TradeFeeCollector      Pubkey `json:"trade_fee_collector"`
}

// Claim releases an escrow to its recipient on presentation of the preimage.
type Claim struct {
	Preimage Hash `json:"preimage"`
}

// Refund returns an expired escrow to its refund party.
type Refund struct{}

// CreatePolicy registers a fee policy of the given kind.
type CreatePolicy struct {
	Kind         PolicyKind `json:"kind"`
	FeeCollector Pubkey     `json:"fee_collector"`
	FeeBps       uint16     `json:"fee_bps"`
}

// UpdatePolicy changes the collector and rate of an existing policy.
type UpdatePolicy struct {
	Kind         PolicyKind `json:"kind"`
	FeeCollector Pubkey     `json:"fee_collector"`
	FeeBps       uint16     `json:"fee_bps"`
}

// WithdrawFees drains a policy fee vault. Amount zero means the full balance.
type WithdrawFees struct {
	Kind   PolicyKind `json:"kind"`
	Amount uint64     `json:"amount"`
}

func (CreateEscrow) Tag() InstructionTag { return TagCreateEscrow }
func (Claim) Tag() InstructionTag        { return TagClaim }
func (Refund) Tag() InstructionTag       { return TagRefund }

func (ix CreatePolicy) Tag() InstructionTag {
	if ix.Kind == PolicyKindTrade {
		return TagCreateTradePolicy
	}
	return TagCreatePlatformPolicy
}

func (ix UpdatePolicy) Tag() InstructionTag {
	if ix.Kind == PolicyKindTrade {
		return TagUpdateTradePolicy
	}
	return TagUpdatePlatformPolicy
}

func (ix WithdrawFees) Tag() InstructionTag {
	if ix.Kind == PolicyKindTrade {
		return TagWithdrawTradeFees
	}
	return TagWithdrawPlatformFees
}

// DecodeInstruction parses a tag byte followed by fixed little-endian fields.
// Bytes after the last field are ignored.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrMalformedInstruction)
	}
	tag := InstructionTag(data[0])
	d := decoder{buf: data[1:]}

	var ix Instruction
	switch tag {
	case TagCreateEscrow:
		var c CreateEscrow
		d.read(c.PaymentHash[:])
		d.read(c.Recipient[:])
		d.read(c.RefundParty[:])
		c.RefundAfter = int64(d.u64())
		c.Amount = d.u64()
		c.ExpectedPlatformFeeBps = d.u16()
		c.ExpectedTradeFeeBps = d.u16()
		d.read(c.TradeFeeCollector[:])
		ix = c
	case TagClaim:
		var c Claim
		d.read(c.Preimage[:])
		ix = c
	case TagRefund:
		ix = Refund{}
	case TagCreatePlatformPolicy, TagCreateTradePolicy:
		c := CreatePolicy{Kind: policyKindForTag(tag)}
		d.read(c.FeeCollector[:])
		c.FeeBps = d.u16()
		ix = c
	case TagUpdatePlatformPolicy, TagUpdateTradePolicy:
		u := UpdatePolicy{Kind: policyKindForTag(tag)}
		d.read(u.FeeCollector[:])
		u.FeeBps = d.u16()
		ix = u
	case TagWithdrawPlatformFees, TagWithdrawTradeFees:
		w := WithdrawFees{Kind: policyKindForTag(tag)}
		w.Amount = d.u64()
		ix = w
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformedInstruction, uint8(tag))
	}

	if d.short {
		return nil, fmt.Errorf("%w: %s truncated", ErrMalformedInstruction, tag)
	}
	return ix, nil
}

func policyKindForTag(tag InstructionTag) PolicyKind {
	switch tag {
	case TagCreateTradePolicy, TagUpdateTradePolicy, TagWithdrawTradeFees:
		return PolicyKindTrade
	default:
		return PolicyKindPlatform
	}
}

// decoder reads sequential fields and remembers whether the buffer ran out.
type decoder struct {
	buf   []byte
	short bool
}

func (d *decoder) take(n int) []byte {
	if d.short || len(d.buf) < n {
		d.short = true
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) read(dst []byte) {
	if b := d.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (ix CreateEscrow) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 1+32*4+8+8+2+2)
	buf = append(buf, byte(TagCreateEscrow))
	buf = append(buf, ix.PaymentHash[:]...)
	buf = append(buf, ix.Recipient[:]...)
	buf = append(buf, ix.RefundParty[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ix.RefundAfter))
	buf = binary.LittleEndian.AppendUint64(buf, ix.Amount)
	buf = binary.LittleEndian.AppendUint16(buf, ix.ExpectedPlatformFeeBps)
	buf = binary.LittleEndian.AppendUint16(buf, ix.ExpectedTradeFeeBps)
	buf = append(buf, ix.TradeFeeCollector[:]...)
	return buf, nil
}

func (ix Claim) MarshalBinary() ([]byte, error) {
	return append([]byte{byte(TagClaim)}, ix.Preimage[:]...), nil
}

func (Refund) MarshalBinary() ([]byte, error) {
	return []byte{byte(TagRefund)}, nil
}

func (ix CreatePolicy) MarshalBinary() ([]byte, error) {
	return encodePolicyFields(ix.Tag(), ix.FeeCollector, ix.FeeBps), nil
}

func (ix UpdatePolicy) MarshalBinary() ([]byte, error) {
	return encodePolicyFields(ix.Tag(), ix.FeeCollector, ix.FeeBps), nil
}

func (ix WithdrawFees) MarshalBinary() ([]byte, error) {
	buf := []byte{byte(ix.Tag())}
	return binary.LittleEndian.AppendUint64(buf, ix.Amount), nil
}

func encodePolicyFields(tag InstructionTag, collector Pubkey, bps uint16) []byte {
	buf := make([]byte, 0, 1+32+2)
	buf = append(buf, byte(tag))
	buf = append(buf, collector[:]...)
	return binary.LittleEndian.AppendUint16(buf, bps)
}
