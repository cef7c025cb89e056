// Package qr implements the QR capability-token codec. A payload is a
// short-lived bearer reference a patient presents to a pharmacy; it binds an
// asset ID to a patient within a time window. The payload is tamper-evident
// (HMAC over canonical JSON) but is never a trust anchor: callers must
// re-verify the asset ID against the ledger before any dispense action.
package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/medledger/rx-ledger/internal/adapter"
	"github.com/medledger/rx-ledger/internal/domain"
)

// DefaultTTL is the capability window applied when none is configured
const DefaultTTL = 5 * time.Minute

var (
	// ErrMalformedPayload is returned when a transport string cannot be decoded
	ErrMalformedPayload = errors.New("malformed QR payload")

	// ErrBadSignature is returned when the payload signature does not verify
	ErrBadSignature = errors.New("QR payload signature mismatch")
)

// Payload is the capability token content. Timestamps are unix seconds so
// the transport string stays compact and round-trips exactly.
type Payload struct {
	AssetID     domain.AssetID `json:"asset_id"`
	PatientID   string         `json:"patient_id"`
	GeneratedAt int64          `json:"generated_at"`
	ExpiresAt   int64          `json:"expires_at"`
}

// envelope is the signed wire form of a payload
type envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"sig"`
}

// Codec builds, signs, serializes and expires QR payloads
type Codec struct {
	secret []byte
	ttl    time.Duration
	clock  adapter.Clock
}

// NewCodec creates a codec. A zero ttl falls back to DefaultTTL.
func NewCodec(secret string, ttl time.Duration, clock adapter.Clock) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: []byte(secret), ttl: ttl, clock: clock}
}

// TTL returns the configured capability window
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Generate stamps a fresh payload for the given prescription and patient
func (c *Codec) Generate(assetID domain.AssetID, patientID string) Payload {
	now := c.clock.Now()
	return Payload{
		AssetID:     assetID,
		PatientID:   patientID,
		GeneratedAt: now.Unix(),
		ExpiresAt:   now.Add(c.ttl).Unix(),
	}
}

// Encode serializes a payload to a compact transportable string. The payload
// JSON is canonicalized (RFC 8785) before signing so the signature is stable
// across re-serialization.
func (c *Codec) Encode(payload Payload) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	canonical, err := jcs.Transform(payloadJSON)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	env := envelope{
		Payload:   canonical,
		Signature: c.sign(canonical),
	}

	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(envJSON), nil
}

// Decode parses a transport string back into a payload. Malformed input and
// signature mismatches are rejected with explicit sentinel errors rather than
// propagating parse failures.
func (c *Codec) Decode(token string) (*Payload, error) {
	envJSON, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformedPayload
	}

	var env envelope
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return nil, ErrMalformedPayload
	}

	canonical, err := jcs.Transform(env.Payload)
	if err != nil {
		return nil, ErrMalformedPayload
	}

	if !hmac.Equal([]byte(c.sign(canonical)), []byte(env.Signature)) {
		return nil, ErrBadSignature
	}

	var payload Payload
	if err := json.Unmarshal(canonical, &payload); err != nil {
		return nil, ErrMalformedPayload
	}

	if payload.AssetID == "" || payload.PatientID == "" || payload.ExpiresAt == 0 {
		return nil, ErrMalformedPayload
	}

	return &payload, nil
}

// Expired reports whether the payload's capability window has lapsed
func (c *Codec) Expired(payload Payload) bool {
	return c.clock.Now().Unix() > payload.ExpiresAt
}

// sign computes the HMAC-SHA256 signature over the canonical payload bytes
func (c *Codec) sign(canonical []byte) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write(canonical)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
