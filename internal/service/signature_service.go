package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// EventSignatureTolerance bounds the age of a notification signature accepted
// by VerifyEvent.
const EventSignatureTolerance = 5 * time.Minute

var (
	errSignatureHeader  = errors.New("malformed event signature header")
	errSignatureExpired = errors.New("event signature outside tolerance")
	errSignatureInvalid = errors.New("event signature mismatch")
)

// HMACSignatureService implements ports.SignatureService. Event notifications
// carry "t=<unix>,v1=<hex hmac-sha256 of '<unix>.<body>'>".
type HMACSignatureService struct{}

func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the signature header value for body sent at timestamp.
func (s *HMACSignatureService) Sign(secretKey string, timestamp int64, body []byte) string {
	ts := strconv.FormatInt(timestamp, 10)
	return "t=" + ts + ",v1=" + eventMAC(secretKey, ts, body)
}

// Verify checks a header produced by Sign. Receivers use the same routine.
func (s *HMACSignatureService) Verify(secretKey string, header string, body []byte, now time.Time) error {
	var ts, mac string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return errSignatureHeader
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			mac = v
		}
	}
	if ts == "" || mac == "" {
		return errSignatureHeader
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errSignatureHeader
	}
	if age := now.Sub(time.Unix(unix, 0)); age > EventSignatureTolerance || age < -EventSignatureTolerance {
		return errSignatureExpired
	}
	if !hmac.Equal([]byte(eventMAC(secretKey, ts, body)), []byte(mac)) {
		return errSignatureInvalid
	}
	return nil
}

func eventMAC(secretKey, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
