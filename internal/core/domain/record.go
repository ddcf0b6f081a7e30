package domain

import (
	"errors"
	"time"
)

// RecordKind identifies which fixed layout a stored record holds.
type RecordKind string

const (
	RecordKindEscrow         RecordKind = "ESCROW"
	RecordKindPlatformPolicy RecordKind = "PLATFORM_POLICY"
	RecordKindTradePolicy    RecordKind = "TRADE_POLICY"
)

// RecordKindForPolicy maps a policy kind to the record kind that stores it.
func RecordKindForPolicy(kind PolicyKind) RecordKind {
	if kind == PolicyKindTrade {
		return RecordKindTradePolicy
	}
	return RecordKindPlatformPolicy
}

// Storage conditions shared by every driver.
var (
	// ErrRecordExists reports an insert at an occupied address, including one
	// that lost a race with a concurrent create.
	ErrRecordExists = errors.New("record already exists")
	// ErrLockTimeout reports a row lock that could not be taken in time.
	ErrLockTimeout = errors.New("lock not available")
)

// Record is a fixed-layout state blob stored at a derived address.
type Record struct {
	Address     Pubkey     `json:"address"`
	Kind        RecordKind `json:"kind"`
	Data        []byte     `json:"data"`
	RentReserve uint64     `json:"rent_reserve"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Rent parameters used to size the reserve recorded with each new record.
const (
	recordOverhead         = 128
	rentExemptionYears     = 2
	DefaultLamportsPerByte = 3480
)

// RentReserve returns the backing funds required for a record of size bytes.
func RentReserve(size int, lamportsPerByteYear uint64) uint64 {
	return uint64(recordOverhead+size) * lamportsPerByteYear * rentExemptionYears
}
