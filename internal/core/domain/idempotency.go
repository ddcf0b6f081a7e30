package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog is a stored instruction result used to answer repeated
// submissions. RequestHash pins the key to the instruction first sent with it.
type IdempotencyLog struct {
	Key          string    `json:"key"` // "signer:client_key"
	Instruction  string    `json:"instruction"`
	RequestHash  string    `json:"request_hash"`
	ResultID     uuid.UUID `json:"result_id"`
	ResponseJSON []byte    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrIdempotencyKeyTaken reports that a concurrent instruction committed a
// result under the same key first.
var ErrIdempotencyKeyTaken = errors.New("idempotency key already committed")

// BuildIdempotencyKey scopes a client-chosen key to the signer that sent it.
func BuildIdempotencyKey(signer Pubkey, clientKey string) string {
	return signer.String() + ":" + clientKey
}

// RequestFingerprint hashes instruction data and the ordered account list.
// The data length is prefixed so no data/account split collides.
func RequestFingerprint(data []byte, accounts []Pubkey) string {
	h := sha256.New()
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(data)))
	h.Write(n[:])
	h.Write(data)
	for _, a := range accounts {
		h.Write(a[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SameRequest reports whether fingerprint matches the logged submission.
func (l *IdempotencyLog) SameRequest(fingerprint string) bool {
	return l.RequestHash == fingerprint
}
