package dto

import (
	"time"

	"github.com/medledger/rx-ledger/internal/domain"
)

// MintResponse is returned after a successful mint
type MintResponse struct {
	AssetID     string `json:"asset_id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// PrescriptionResponse represents a prescription token in API responses
type PrescriptionResponse struct {
	AssetID               string                    `json:"asset_id"`
	DoctorID              string                    `json:"doctor_id"`
	PatientID             string                    `json:"patient_id"`
	Drugs                 []domain.DrugItem         `json:"drugs"`
	Status                domain.PrescriptionStatus `json:"status"`
	TxHash                string                    `json:"tx_hash"`
	ExpiresAt             time.Time                 `json:"expires_at"`
	DispensedAt           *time.Time                `json:"dispensed_at,omitempty"`
	DispensedBy           *string                   `json:"dispensed_by,omitempty"`
	DispensedAtPharmacyID *string                   `json:"dispensed_at_pharmacy_id,omitempty"`
	QRGeneratedAt         *time.Time                `json:"qr_generated_at,omitempty"`
	QRExpiresAt           *time.Time                `json:"qr_expires_at,omitempty"`
	CreatedAt             time.Time                 `json:"created_at"`
}

// PrescriptionListResponse wraps a list of prescriptions
type PrescriptionListResponse struct {
	Prescriptions []PrescriptionResponse `json:"prescriptions"`
	Total         int                    `json:"total"`
}

// VerificationResponse represents the outcome of a token verification
type VerificationResponse struct {
	Valid        bool                      `json:"valid"`
	Status       domain.VerificationStatus `json:"status"`
	Message      string                    `json:"message"`
	Prescription *PrescriptionResponse     `json:"prescription,omitempty"`
	DispensedAt  *time.Time                `json:"dispensed_at,omitempty"`
	DispensedBy  *string                   `json:"dispensed_by,omitempty"`
}

// DispenseResponse is returned after a successful dispense
type DispenseResponse struct {
	AssetID     string `json:"asset_id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// CancelResponse is returned after a successful cancellation
type CancelResponse struct {
	AssetID string                    `json:"asset_id"`
	Status  domain.PrescriptionStatus `json:"status"`
}

// TransactionResponse represents a ledger transaction in the audit log
type TransactionResponse struct {
	Type          domain.TransactionType `json:"type"`
	AssetID       string                 `json:"asset_id"`
	InitiatorID   string                 `json:"initiator_id"`
	InitiatorType domain.InitiatorType   `json:"initiator_type"`
	TxHash        string                 `json:"tx_hash"`
	BlockNumber   uint64                 `json:"block_number"`
	Timestamp     time.Time              `json:"timestamp"`
}

// AuditLogResponse wraps the full ledger transaction history
type AuditLogResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
}

// IssueQRResponse is returned after issuing a QR capability token
type IssueQRResponse struct {
	AssetID     string    `json:"asset_id"`
	Token       string    `json:"token"`
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// VerifyQRResponse is returned after verifying a QR capability token.
// Verification is the combination of payload integrity, payload freshness,
// and the live ledger state of the referenced token.
type VerifyQRResponse struct {
	Valid        bool                  `json:"valid"`
	Reason       string                `json:"reason,omitempty"`
	Verification *VerificationResponse `json:"verification,omitempty"`
}
