package store

import (
	"context"
	"time"

	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/store/schema"
)

// CreateMintInput carries everything needed to put a freshly minted
// prescription and its mint transaction on the ledger atomically.
type CreateMintInput struct {
	AssetID   string
	DoctorID  string
	PatientID string
	Drugs     []domain.DrugItem
	TxHash    string
	ExpiresAt time.Time
	Timestamp time.Time
}

// MintRecord is the committed result of a mint
type MintRecord struct {
	Prescription schema.Prescription
	Transaction  schema.Transaction
}

// DispenseInput carries the parameters of a burn attempt
type DispenseInput struct {
	AssetID      string
	PharmacistID string
	PharmacyID   string
	TxHash       string
	Timestamp    time.Time
}

// DispenseRecord is the committed result of a successful burn
type DispenseRecord struct {
	Prescription schema.Prescription
	Transaction  schema.Transaction
}

// CancelInput carries the parameters of an administrative cancellation
type CancelInput struct {
	AssetID   string
	DoctorID  string
	Timestamp time.Time
}

// Store defines the interface for ledger database operations.
// Lookups that find nothing return (nil, nil); lifecycle conflicts surface
// as the sentinel errors in the domain package.
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	// CreateMint appends a new prescription with status minted plus its mint
	// transaction, allocating the next block number. A duplicate asset ID is
	// rejected with domain.ErrDuplicateAssetID and nothing is written.
	CreateMint(ctx context.Context, input CreateMintInput) (*MintRecord, error)

	// Dispense atomically transitions a minted prescription to dispensed and
	// appends the burn transaction. The status check and the write are a single
	// atomic unit: of any number of concurrent attempts on the same asset ID,
	// exactly one succeeds and the rest fail with domain.ErrTokenAlreadyDispensed.
	Dispense(ctx context.Context, input DispenseInput) (*DispenseRecord, error)

	// Cancel transitions a minted prescription to cancelled. No ledger
	// transaction is appended; only mint and burn advance the block counter.
	Cancel(ctx context.Context, input CancelInput) (*schema.Prescription, error)

	// ExpireDue transitions up to limit minted prescriptions whose validity
	// window lapsed before now to expired, returning the affected rows.
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]schema.Prescription, error)

	// MarkQRIssued stamps the QR issuance window on a prescription
	MarkQRIssued(ctx context.Context, assetID string, generatedAt, expiresAt time.Time) error

	// GetPrescriptionByAssetID retrieves a prescription by its asset ID
	GetPrescriptionByAssetID(ctx context.Context, assetID string) (*schema.Prescription, error)
	// ListPrescriptions retrieves all prescriptions, newest first
	ListPrescriptions(ctx context.Context) ([]schema.Prescription, error)
	// ListPrescriptionsByPatient retrieves a patient's prescriptions, newest first
	ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]schema.Prescription, error)
	// ListPrescriptionsByDoctor retrieves a doctor's prescriptions, newest first
	ListPrescriptionsByDoctor(ctx context.Context, doctorID string) ([]schema.Prescription, error)

	// ListTransactions retrieves the audit log sorted by timestamp descending
	ListTransactions(ctx context.Context) ([]schema.Transaction, error)
}
