package domain

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// EscrowStatus is the lifecycle state of an escrow record.
type EscrowStatus uint8

const (
	EscrowStatusActive   EscrowStatus = 0
	EscrowStatusClaimed  EscrowStatus = 1
	EscrowStatusRefunded EscrowStatus = 2
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowStatusActive:
		return "ACTIVE"
	case EscrowStatusClaimed:
		return "CLAIMED"
	case EscrowStatusRefunded:
		return "REFUNDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

const (
	// EscrowVersion tags the only supported escrow layout.
	EscrowVersion uint8 = 3
	// EscrowRecordSize is the packed size of an escrow record.
	EscrowRecordSize = 1 + 1 + 32 + 32 + 32 + 8 + 32 + 8 + 8 + 2 + 32 + 8 + 2 + 32 + 32 + 1
)

// ErrInvalidRecord is returned when stored bytes do not decode to a record.
var ErrInvalidRecord = errors.New("invalid record data")

// EscrowRecord is the persisted state of one payment-hash keyed escrow.
type EscrowRecord struct {
	Version              uint8        `json:"version"`
	Status               EscrowStatus `json:"status"`
	PaymentHash          Hash         `json:"payment_hash"`
	Recipient            Pubkey       `json:"recipient"`
	RefundParty          Pubkey       `json:"refund_party"`
	RefundAfter          int64        `json:"refund_after"`
	Mint                 Pubkey       `json:"mint"`
	NetAmount            uint64       `json:"net_amount"`
	PlatformFeeAmount    uint64       `json:"platform_fee_amount"`
	PlatformFeeBps       uint16       `json:"platform_fee_bps"`
	PlatformFeeCollector Pubkey       `json:"platform_fee_collector"`
	TradeFeeAmount       uint64       `json:"trade_fee_amount"`
	TradeFeeBps          uint16       `json:"trade_fee_bps"`
	TradeFeeCollector    Pubkey       `json:"trade_fee_collector"`
	Vault                Pubkey       `json:"vault"`
	Bump                 uint8        `json:"bump"`
}

// IsActive reports whether the escrow can still be claimed or refunded.
func (e *EscrowRecord) IsActive() bool {
	return e.Status == EscrowStatusActive
}

// Locked returns the total amount held by the vault for this escrow.
func (e *EscrowRecord) Locked() uint64 {
	return e.NetAmount + e.PlatformFeeAmount + e.TradeFeeAmount
}

// Close moves the escrow into a terminal state and zeroes every amount.
func (e *EscrowRecord) Close(status EscrowStatus) {
	e.Status = status
	e.NetAmount = 0
	e.PlatformFeeAmount = 0
	e.TradeFeeAmount = 0
}

// MarshalBinary packs the record into its fixed little-endian layout.
func (e *EscrowRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EscrowRecordSize)
	w := layoutWriter{buf: buf}
	w.u8(e.Version)
	w.u8(uint8(e.Status))
	w.bytes(e.PaymentHash[:])
	w.bytes(e.Recipient[:])
	w.bytes(e.RefundParty[:])
	w.u64(uint64(e.RefundAfter))
	w.bytes(e.Mint[:])
	w.u64(e.NetAmount)
	w.u64(e.PlatformFeeAmount)
	w.u16(e.PlatformFeeBps)
	w.bytes(e.PlatformFeeCollector[:])
	w.u64(e.TradeFeeAmount)
	w.u16(e.TradeFeeBps)
	w.bytes(e.TradeFeeCollector[:])
	w.bytes(e.Vault[:])
	w.u8(e.Bump)
	return buf, nil
}

// UnmarshalBinary decodes a packed escrow record. Only the current version is accepted.
func (e *EscrowRecord) UnmarshalBinary(data []byte) error {
	if len(data) < EscrowRecordSize {
		return fmt.Errorf("%w: escrow needs %d bytes, got %d", ErrInvalidRecord, EscrowRecordSize, len(data))
	}
	r := layoutReader{buf: data}
	e.Version = r.u8()
	if e.Version != EscrowVersion {
		return fmt.Errorf("%w: escrow version %d", ErrInvalidRecord, e.Version)
	}
	e.Status = EscrowStatus(r.u8())
	copy(e.PaymentHash[:], r.bytes(32))
	copy(e.Recipient[:], r.bytes(32))
	copy(e.RefundParty[:], r.bytes(32))
	e.RefundAfter = int64(r.u64())
	copy(e.Mint[:], r.bytes(32))
	e.NetAmount = r.u64()
	e.PlatformFeeAmount = r.u64()
	e.PlatformFeeBps = r.u16()
	copy(e.PlatformFeeCollector[:], r.bytes(32))
	e.TradeFeeAmount = r.u64()
	e.TradeFeeBps = r.u16()
	copy(e.TradeFeeCollector[:], r.bytes(32))
	copy(e.Vault[:], r.bytes(32))
	e.Bump = r.u8()
	return nil
}

// layoutWriter and layoutReader walk a pre-sized buffer. Callers check
// lengths up front so neither needs to report errors.
type layoutWriter struct {
	buf []byte
	off int
}

func (w *layoutWriter) u8(v uint8) {
	w.buf[w.off] = v
	w.off++
}

func (w *layoutWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

func (w *layoutWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *layoutWriter) bytes(b []byte) {
	w.off += copy(w.buf[w.off:], b)
}

type layoutReader struct {
	buf []byte
	off int
}

func (r *layoutReader) u8() uint8 {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *layoutReader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *layoutReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *layoutReader) bytes(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}
