// Package engine implements the prescription token lifecycle state machine:
// mint, verify, burn (dispense), cancel, and the audit-log projection.
// Prescriptions and transactions are created and owned exclusively by this
// engine; no other component mutates them.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medledger/rx-ledger/internal/adapter"
	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/logger"
	"github.com/medledger/rx-ledger/internal/messaging"
	"github.com/medledger/rx-ledger/internal/qr"
	"github.com/medledger/rx-ledger/internal/store"
	"github.com/medledger/rx-ledger/internal/store/schema"
)

// DefaultValidityPeriod is how long a minted prescription stays dispensable
// when no validity window is configured
const DefaultValidityPeriod = 30 * 24 * time.Hour

// mintRetries bounds the asset ID reallocation attempts on the (unlikely)
// event of a random collision with an existing ledger entry
const mintRetries = 3

var (
	// ErrMissingParty is returned when mint lacks a doctor or patient identifier
	ErrMissingParty = errors.New("doctor and patient identifiers are required")

	// ErrNoDrugs is returned when mint is called with an empty drug list
	ErrNoDrugs = errors.New("prescription requires at least one drug line item")

	// ErrInvalidDrug is returned when a drug line item is missing required fields
	ErrInvalidDrug = errors.New("invalid drug line item")

	// ErrPatientMismatch is returned when a QR capability token is requested
	// for a patient the prescription is not bound to
	ErrPatientMismatch = errors.New("prescription is not bound to this patient")
)

// MintRequest carries the parameters of a mint operation
type MintRequest struct {
	DoctorID  string
	PatientID string
	Drugs     []domain.DrugItem
}

// MintResult is returned on successful mint
type MintResult struct {
	AssetID     domain.AssetID
	TxHash      string
	BlockNumber uint64
}

// BurnRequest carries the parameters of a dispense operation
type BurnRequest struct {
	AssetID      domain.AssetID
	PharmacistID string
	PharmacyID   string
}

// BurnResult is returned on successful dispense
type BurnResult struct {
	TxHash      string
	BlockNumber uint64
}

// CancelResult is returned on successful cancellation
type CancelResult struct {
	AssetID domain.AssetID
	Status  domain.PrescriptionStatus
}

// VerificationResult is the structured outcome of a token verification.
// Verification never mutates the ledger; repeated calls are idempotent.
type VerificationResult struct {
	Valid        bool
	Status       domain.VerificationStatus
	Message      string
	Prescription *schema.Prescription
	DispensedAt  *time.Time
	DispensedBy  *string
}

// QRIssue is the result of issuing a QR capability token
type QRIssue struct {
	Token   string
	Payload qr.Payload
}

// Engine exposes the token lifecycle operations over the ledger store
//
//go:generate mockgen -source=engine.go -destination=../mocks/engine.go -package=mocks -mock_names=Engine=MockEngine
type Engine interface {
	// Mint creates a new prescription token with status minted and appends the
	// mint transaction. The returned asset ID is never reused.
	Mint(ctx context.Context, req MintRequest) (*MintResult, error)

	// Verify looks up a token and classifies it without mutating the ledger.
	// Outcome priority: NOT_FOUND, FRAUD_ALERT (already dispensed), EXPIRED,
	// CANCELLED, VERIFIED.
	Verify(ctx context.Context, assetID domain.AssetID) (*VerificationResult, error)

	// Burn irreversibly dispenses a token. At most one burn per asset ID ever
	// succeeds; later attempts fail with domain.ErrTokenAlreadyDispensed.
	Burn(ctx context.Context, req BurnRequest) (*BurnResult, error)

	// Cancel administratively withdraws a minted token
	Cancel(ctx context.Context, assetID domain.AssetID, doctorID string) (*CancelResult, error)

	// IssueQR generates, signs, and encodes a time-limited capability token
	// for a minted prescription, stamping the issuance window on the ledger row
	IssueQR(ctx context.Context, assetID domain.AssetID, patientID string) (*QRIssue, error)

	// AuditLog returns all ledger transactions, newest first
	AuditLog(ctx context.Context) ([]schema.Transaction, error)

	// Read projections
	GetPrescriptionByAssetID(ctx context.Context, assetID domain.AssetID) (*schema.Prescription, error)
	GetAllPrescriptions(ctx context.Context) ([]schema.Prescription, error)
	GetPatientPrescriptions(ctx context.Context, patientID string) ([]schema.Prescription, error)
	GetDoctorPrescriptions(ctx context.Context, doctorID string) ([]schema.Prescription, error)
}

type engine struct {
	store     store.Store
	codec     *qr.Codec
	publisher messaging.Publisher // nil disables event publishing
	clock     adapter.Clock
	validity  time.Duration
}

// New creates a lifecycle engine over the given ledger store. The publisher
// may be nil, in which case lifecycle events are not emitted. A zero validity
// falls back to DefaultValidityPeriod.
func New(st store.Store, codec *qr.Codec, pub messaging.Publisher, clock adapter.Clock, validity time.Duration) Engine {
	if validity <= 0 {
		validity = DefaultValidityPeriod
	}
	return &engine{
		store:     st,
		codec:     codec,
		publisher: pub,
		clock:     clock,
		validity:  validity,
	}
}

func (e *engine) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	if req.DoctorID == "" || req.PatientID == "" {
		return nil, ErrMissingParty
	}
	if len(req.Drugs) == 0 {
		return nil, ErrNoDrugs
	}
	for _, drug := range req.Drugs {
		if !drug.Valid() {
			return nil, ErrInvalidDrug
		}
	}

	now := e.clock.Now().UTC()

	var record *store.MintRecord
	var err error
	for attempt := 0; attempt < mintRetries; attempt++ {
		input := store.CreateMintInput{
			AssetID:   domain.NewAssetID().String(),
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Drugs:     req.Drugs,
			TxHash:    domain.NewTxHash(),
			ExpiresAt: now.Add(e.validity),
			Timestamp: now,
		}

		record, err = e.store.CreateMint(ctx, input)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateAssetID) {
			return nil, err
		}
		logger.WarnCtx(ctx, "Asset ID collision, reallocating",
			zap.String("asset_id", input.AssetID),
			zap.Int("attempt", attempt+1),
		)
	}
	if err != nil {
		return nil, err
	}

	e.publish(ctx, &domain.LedgerEvent{
		Type:           domain.LedgerEventMint,
		AssetID:        domain.AssetID(record.Prescription.AssetID),
		PrescriptionID: record.Prescription.ID,
		InitiatorID:    req.DoctorID,
		InitiatorType:  domain.InitiatorTypeDoctor,
		TxHash:         record.Transaction.TxHash,
		BlockNumber:    record.Transaction.BlockNumber,
		Timestamp:      now,
	})

	logger.InfoCtx(ctx, "Minted prescription token",
		zap.String("asset_id", record.Prescription.AssetID),
		zap.Uint64("block_number", record.Transaction.BlockNumber),
	)

	return &MintResult{
		AssetID:     domain.AssetID(record.Prescription.AssetID),
		TxHash:      record.Transaction.TxHash,
		BlockNumber: record.Transaction.BlockNumber,
	}, nil
}

func (e *engine) Verify(ctx context.Context, assetID domain.AssetID) (*VerificationResult, error) {
	prescription, err := e.store.GetPrescriptionByAssetID(ctx, assetID.String())
	if err != nil {
		return nil, err
	}

	if prescription == nil {
		return &VerificationResult{
			Valid:   false,
			Status:  domain.VerificationNotFound,
			Message: "Prescription token not found on ledger",
		}, nil
	}

	switch prescription.Status {
	case domain.StatusDispensed:
		return &VerificationResult{
			Valid:        false,
			Status:       domain.VerificationFraudAlert,
			Message:      "Token already dispensed",
			DispensedAt:  prescription.DispensedAt,
			DispensedBy:  prescription.DispensedBy,
			Prescription: prescription,
		}, nil
	case domain.StatusExpired:
		return &VerificationResult{
			Valid:   false,
			Status:  domain.VerificationExpired,
			Message: "Prescription token has expired",
		}, nil
	case domain.StatusCancelled:
		return &VerificationResult{
			Valid:   false,
			Status:  domain.VerificationCancelled,
			Message: "Prescription token was cancelled",
		}, nil
	}

	// Still minted but past its validity window: the sweeper has not flipped
	// the row yet. Report expired; Burn applies the same check, so the two
	// surfaces never disagree on dispensability.
	if e.clock.Now().After(prescription.ExpiresAt) {
		return &VerificationResult{
			Valid:   false,
			Status:  domain.VerificationExpired,
			Message: "Prescription token has expired",
		}, nil
	}

	return &VerificationResult{
		Valid:        true,
		Status:       domain.VerificationVerified,
		Message:      "Prescription token is valid",
		Prescription: prescription,
	}, nil
}

func (e *engine) Burn(ctx context.Context, req BurnRequest) (*BurnResult, error) {
	now := e.clock.Now().UTC()

	prescription, err := e.store.GetPrescriptionByAssetID(ctx, req.AssetID.String())
	if err != nil {
		return nil, err
	}
	if prescription == nil {
		return nil, domain.ErrTokenNotFound
	}
	if prescription.Status == domain.StatusMinted && now.After(prescription.ExpiresAt) {
		return nil, domain.ErrTokenExpired
	}

	// The store serializes the status check and the write; concurrent attempts
	// on the same asset ID yield exactly one success.
	record, err := e.store.Dispense(ctx, store.DispenseInput{
		AssetID:      req.AssetID.String(),
		PharmacistID: req.PharmacistID,
		PharmacyID:   req.PharmacyID,
		TxHash:       domain.NewTxHash(),
		Timestamp:    now,
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, &domain.LedgerEvent{
		Type:           domain.LedgerEventBurn,
		AssetID:        req.AssetID,
		PrescriptionID: record.Prescription.ID,
		InitiatorID:    req.PharmacistID,
		InitiatorType:  domain.InitiatorTypePharmacist,
		TxHash:         record.Transaction.TxHash,
		BlockNumber:    record.Transaction.BlockNumber,
		Timestamp:      now,
	})

	logger.InfoCtx(ctx, "Dispensed prescription token",
		zap.String("asset_id", req.AssetID.String()),
		zap.String("pharmacist_id", req.PharmacistID),
		zap.Uint64("block_number", record.Transaction.BlockNumber),
	)

	return &BurnResult{
		TxHash:      record.Transaction.TxHash,
		BlockNumber: record.Transaction.BlockNumber,
	}, nil
}

func (e *engine) Cancel(ctx context.Context, assetID domain.AssetID, doctorID string) (*CancelResult, error) {
	prescription, err := e.store.Cancel(ctx, store.CancelInput{
		AssetID:   assetID.String(),
		DoctorID:  doctorID,
		Timestamp: e.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, &domain.LedgerEvent{
		Type:           domain.LedgerEventCancel,
		AssetID:        assetID,
		PrescriptionID: prescription.ID,
		InitiatorID:    doctorID,
		InitiatorType:  domain.InitiatorTypeDoctor,
		Timestamp:      e.clock.Now().UTC(),
	})

	logger.InfoCtx(ctx, "Cancelled prescription token",
		zap.String("asset_id", assetID.String()),
		zap.String("doctor_id", doctorID),
	)

	return &CancelResult{AssetID: assetID, Status: prescription.Status}, nil
}

func (e *engine) IssueQR(ctx context.Context, assetID domain.AssetID, patientID string) (*QRIssue, error) {
	prescription, err := e.store.GetPrescriptionByAssetID(ctx, assetID.String())
	if err != nil {
		return nil, err
	}
	if prescription == nil {
		return nil, domain.ErrTokenNotFound
	}

	switch prescription.Status {
	case domain.StatusDispensed:
		return nil, domain.ErrTokenAlreadyDispensed
	case domain.StatusExpired:
		return nil, domain.ErrTokenExpired
	case domain.StatusCancelled:
		return nil, domain.ErrTokenCancelled
	}

	// Same lapse check as Verify and Burn: no capability tokens for a
	// prescription the sweeper is about to expire.
	if e.clock.Now().After(prescription.ExpiresAt) {
		return nil, domain.ErrTokenExpired
	}

	if prescription.PatientID != patientID {
		return nil, ErrPatientMismatch
	}

	payload := e.codec.Generate(assetID, patientID)
	token, err := e.codec.Encode(payload)
	if err != nil {
		return nil, err
	}

	generatedAt := time.Unix(payload.GeneratedAt, 0).UTC()
	expiresAt := time.Unix(payload.ExpiresAt, 0).UTC()
	if err := e.store.MarkQRIssued(ctx, assetID.String(), generatedAt, expiresAt); err != nil {
		return nil, err
	}

	return &QRIssue{Token: token, Payload: payload}, nil
}

func (e *engine) AuditLog(ctx context.Context) ([]schema.Transaction, error) {
	return e.store.ListTransactions(ctx)
}

func (e *engine) GetPrescriptionByAssetID(ctx context.Context, assetID domain.AssetID) (*schema.Prescription, error) {
	return e.store.GetPrescriptionByAssetID(ctx, assetID.String())
}

func (e *engine) GetAllPrescriptions(ctx context.Context) ([]schema.Prescription, error) {
	return e.store.ListPrescriptions(ctx)
}

func (e *engine) GetPatientPrescriptions(ctx context.Context, patientID string) ([]schema.Prescription, error) {
	return e.store.ListPrescriptionsByPatient(ctx, patientID)
}

func (e *engine) GetDoctorPrescriptions(ctx context.Context, doctorID string) ([]schema.Prescription, error) {
	return e.store.ListPrescriptionsByDoctor(ctx, doctorID)
}

// publish emits a lifecycle event on a best-effort basis. The ledger commit
// is the source of truth; a failed publish is logged, never propagated.
func (e *engine) publish(ctx context.Context, event *domain.LedgerEvent) {
	if e.publisher == nil {
		return
	}

	event.EventID = uuid.NewString()
	if err := e.publisher.PublishLedgerEvent(ctx, event); err != nil {
		logger.WarnCtx(ctx, "Failed to publish ledger event",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.String("asset_id", event.AssetID.String()),
		)
	}
}
