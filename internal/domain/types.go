package domain

import (
	"regexp"
	"time"
)

// PrescriptionStatus represents the lifecycle state of a prescription token
type PrescriptionStatus string

const (
	// StatusMinted is the initial state of every prescription token
	StatusMinted PrescriptionStatus = "minted"
	// StatusDispensed is the terminal success state, reached by exactly one burn
	StatusDispensed PrescriptionStatus = "dispensed"
	// StatusExpired is the terminal state reached when the validity window lapses
	StatusExpired PrescriptionStatus = "expired"
	// StatusCancelled is the terminal state reached by administrative cancellation
	StatusCancelled PrescriptionStatus = "cancelled"
)

// Terminal reports whether no further transitions leave the status
func (s PrescriptionStatus) Terminal() bool {
	return s == StatusDispensed || s == StatusExpired || s == StatusCancelled
}

// TransactionType represents the type of ledger transaction
type TransactionType string

const (
	// TransactionTypeMint records token creation
	TransactionTypeMint TransactionType = "mint"
	// TransactionTypeBurn records token dispensing
	TransactionTypeBurn TransactionType = "burn"
	// TransactionTypeTransfer is reserved and never produced
	TransactionTypeTransfer TransactionType = "transfer"
)

// InitiatorType identifies the role of the actor behind a ledger transaction
type InitiatorType string

const (
	InitiatorTypeDoctor     InitiatorType = "doctor"
	InitiatorTypePharmacist InitiatorType = "pharmacist"
)

// VerificationStatus is the outcome label of a token verification
type VerificationStatus string

const (
	// VerificationVerified means the token exists and is still dispensable
	VerificationVerified VerificationStatus = "VERIFIED"
	// VerificationFraudAlert means the token was already dispensed and is being re-presented
	VerificationFraudAlert VerificationStatus = "FRAUD_ALERT"
	// VerificationExpired means the token lapsed before it was dispensed
	VerificationExpired VerificationStatus = "EXPIRED"
	// VerificationCancelled means the token was administratively withdrawn
	VerificationCancelled VerificationStatus = "CANCELLED"
	// VerificationNotFound means no token with the given asset ID was ever minted
	VerificationNotFound VerificationStatus = "NOT_FOUND"
)

// AssetID is the externally visible prescription token identifier (e.g. "ASA-9WQJ2K7F")
type AssetID string

var assetIDPattern = regexp.MustCompile(`^ASA-[0-9A-HJKMNP-TV-Z]{8}$`)

// String returns the string representation of the AssetID
func (a AssetID) String() string {
	return string(a)
}

// Valid checks whether the AssetID matches the canonical format
func (a AssetID) Valid() bool {
	return assetIDPattern.MatchString(string(a))
}

// DrugItem is a single line item of a prescription.
// The whole prescription dispenses atomically, so line items are immutable after mint.
type DrugItem struct {
	DrugID    string `json:"drug_id"`
	DrugName  string `json:"drug_name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

// Valid checks the minimum shape of a line item
func (d DrugItem) Valid() bool {
	return d.DrugID != "" && d.DrugName != "" && d.Quantity > 0
}

// LedgerEventType represents the type of event published to the event stream
type LedgerEventType string

const (
	LedgerEventMint   LedgerEventType = "mint"
	LedgerEventBurn   LedgerEventType = "burn"
	LedgerEventCancel LedgerEventType = "cancel"
	LedgerEventExpire LedgerEventType = "expire"
)

// LedgerEvent is a normalized lifecycle event.
// This is the standard format published to NATS after a ledger write commits.
type LedgerEvent struct {
	EventID        string          `json:"event_id"`
	Type           LedgerEventType `json:"type"`
	AssetID        AssetID         `json:"asset_id"`
	PrescriptionID uint64          `json:"prescription_id"`
	InitiatorID    string          `json:"initiator_id,omitempty"`
	InitiatorType  InitiatorType   `json:"initiator_type,omitempty"`
	TxHash         string          `json:"tx_hash,omitempty"`
	BlockNumber    uint64          `json:"block_number,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}
