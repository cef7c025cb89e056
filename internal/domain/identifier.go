package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/oklog/ulid/v2"
)

// NewAssetID generates a fresh human-presentable token identifier.
// The body is the trailing entropy of a ULID, so the alphabet is Crockford
// base32 and values are collision-resistant within a process lifetime.
// Global uniqueness is enforced by the ledger store's unique index.
func NewAssetID() AssetID {
	id := ulid.Make().String()
	return AssetID("ASA-" + id[len(id)-8:])
}

// NewTxHash generates a fresh pseudo transaction hash.
// The ledger is simulated, so the hash carries provenance only; it is the
// SHA-256 of fresh random bytes, hex-encoded with an 0x prefix.
func NewTxHash() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	sum := sha256.Sum256(b[:])
	return "0x" + hex.EncodeToString(sum[:])
}
