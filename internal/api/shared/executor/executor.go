package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medledger/rx-ledger/internal/api/shared/dto"
	apierrors "github.com/medledger/rx-ledger/internal/api/shared/errors"
	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/engine"
	"github.com/medledger/rx-ledger/internal/qr"
	"github.com/medledger/rx-ledger/internal/store/schema"
)

// QR verification failure reasons
const (
	QRReasonExpired       = "qr_expired"
	QRReasonTokenRejected = "token_rejected"
)

// Executor is the interface for the API executor
//
//go:generate mockgen -source=executor.go -destination=../../../mocks/mock_api_executor.go -package=mocks -mock_names=Executor=MockAPIExecutor
type Executor interface {
	// MintPrescription mints a new prescription token
	MintPrescription(ctx context.Context, req dto.MintPrescriptionRequest) (*dto.MintResponse, error)

	// GetPrescription retrieves a single prescription by asset ID; (nil, nil) when missing
	GetPrescription(ctx context.Context, assetID domain.AssetID) (*dto.PrescriptionResponse, error)

	// ListPrescriptions retrieves prescriptions, optionally filtered by patient or doctor
	ListPrescriptions(ctx context.Context, patientID, doctorID string) (*dto.PrescriptionListResponse, error)

	// VerifyPrescription classifies a token without mutating it
	VerifyPrescription(ctx context.Context, assetID domain.AssetID) (*dto.VerificationResponse, error)

	// DispensePrescription burns a token; at most one dispense per token ever succeeds
	DispensePrescription(ctx context.Context, assetID domain.AssetID, req dto.DispenseRequest) (*dto.DispenseResponse, error)

	// CancelPrescription administratively withdraws a minted token
	CancelPrescription(ctx context.Context, assetID domain.AssetID, req dto.CancelRequest) (*dto.CancelResponse, error)

	// IssueQR issues a signed, time-limited QR capability token
	IssueQR(ctx context.Context, assetID domain.AssetID, req dto.IssueQRRequest) (*dto.IssueQRResponse, error)

	// VerifyQR checks a QR capability token's integrity and freshness, then
	// re-verifies the referenced prescription against the live ledger
	VerifyQR(ctx context.Context, token string) (*dto.VerifyQRResponse, error)

	// GetAuditLog retrieves the full ledger transaction history, newest first
	GetAuditLog(ctx context.Context) (*dto.AuditLogResponse, error)
}

type executor struct {
	engine engine.Engine
	codec  *qr.Codec
}

// NewExecutor creates an executor over the lifecycle engine
func NewExecutor(eng engine.Engine, codec *qr.Codec) Executor {
	return &executor{engine: eng, codec: codec}
}

func (e *executor) MintPrescription(ctx context.Context, req dto.MintPrescriptionRequest) (*dto.MintResponse, error) {
	result, err := e.engine.Mint(ctx, engine.MintRequest{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Drugs:     req.Drugs,
	})
	if err != nil {
		return nil, mapLifecycleError(err, "Failed to mint prescription")
	}

	return &dto.MintResponse{
		AssetID:     result.AssetID.String(),
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
	}, nil
}

func (e *executor) GetPrescription(ctx context.Context, assetID domain.AssetID) (*dto.PrescriptionResponse, error) {
	prescription, err := e.engine.GetPrescriptionByAssetID(ctx, assetID)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to get prescription: %v", err))
	}
	if prescription == nil {
		return nil, nil
	}
	return dto.MapPrescriptionToDTO(prescription), nil
}

func (e *executor) ListPrescriptions(ctx context.Context, patientID, doctorID string) (*dto.PrescriptionListResponse, error) {
	var (
		prescriptions []schema.Prescription
		err           error
	)
	switch {
	case patientID != "":
		prescriptions, err = e.engine.GetPatientPrescriptions(ctx, patientID)
	case doctorID != "":
		prescriptions, err = e.engine.GetDoctorPrescriptions(ctx, doctorID)
	default:
		prescriptions, err = e.engine.GetAllPrescriptions(ctx)
	}
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to list prescriptions: %v", err))
	}

	responses := make([]dto.PrescriptionResponse, len(prescriptions))
	for i := range prescriptions {
		responses[i] = *dto.MapPrescriptionToDTO(&prescriptions[i])
	}

	return &dto.PrescriptionListResponse{
		Prescriptions: responses,
		Total:         len(responses),
	}, nil
}

func (e *executor) VerifyPrescription(ctx context.Context, assetID domain.AssetID) (*dto.VerificationResponse, error) {
	result, err := e.engine.Verify(ctx, assetID)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to verify prescription: %v", err))
	}
	return mapVerification(result), nil
}

func (e *executor) DispensePrescription(ctx context.Context, assetID domain.AssetID, req dto.DispenseRequest) (*dto.DispenseResponse, error) {
	result, err := e.engine.Burn(ctx, engine.BurnRequest{
		AssetID:      assetID,
		PharmacistID: req.PharmacistID,
		PharmacyID:   req.PharmacyID,
	})
	if err != nil {
		return nil, mapLifecycleError(err, "Failed to dispense prescription")
	}

	return &dto.DispenseResponse{
		AssetID:     assetID.String(),
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
	}, nil
}

func (e *executor) CancelPrescription(ctx context.Context, assetID domain.AssetID, req dto.CancelRequest) (*dto.CancelResponse, error) {
	result, err := e.engine.Cancel(ctx, assetID, req.DoctorID)
	if err != nil {
		return nil, mapLifecycleError(err, "Failed to cancel prescription")
	}

	return &dto.CancelResponse{
		AssetID: result.AssetID.String(),
		Status:  result.Status,
	}, nil
}

func (e *executor) IssueQR(ctx context.Context, assetID domain.AssetID, req dto.IssueQRRequest) (*dto.IssueQRResponse, error) {
	issue, err := e.engine.IssueQR(ctx, assetID, req.PatientID)
	if err != nil {
		return nil, mapLifecycleError(err, "Failed to issue QR token")
	}

	return &dto.IssueQRResponse{
		AssetID:     assetID.String(),
		Token:       issue.Token,
		GeneratedAt: time.Unix(issue.Payload.GeneratedAt, 0).UTC(),
		ExpiresAt:   time.Unix(issue.Payload.ExpiresAt, 0).UTC(),
	}, nil
}

func (e *executor) VerifyQR(ctx context.Context, token string) (*dto.VerifyQRResponse, error) {
	payload, err := e.codec.Decode(token)
	if err != nil {
		switch {
		case errors.Is(err, qr.ErrBadSignature):
			return nil, apierrors.NewUnauthorizedError("QR token signature mismatch")
		case errors.Is(err, qr.ErrMalformedPayload):
			return nil, apierrors.NewValidationError("QR token is malformed")
		default:
			return nil, apierrors.NewInternalError(fmt.Sprintf("Failed to decode QR token: %v", err))
		}
	}

	if e.codec.Expired(*payload) {
		return &dto.VerifyQRResponse{
			Valid:  false,
			Reason: QRReasonExpired,
		}, nil
	}

	// The payload is only a routing hint; the ledger decides validity
	verification, err := e.engine.Verify(ctx, payload.AssetID)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to verify prescription: %v", err))
	}

	response := &dto.VerifyQRResponse{
		Valid:        verification.Valid,
		Verification: mapVerification(verification),
	}
	if !verification.Valid {
		response.Reason = QRReasonTokenRejected
	}
	return response, nil
}

func (e *executor) GetAuditLog(ctx context.Context) (*dto.AuditLogResponse, error) {
	transactions, err := e.engine.AuditLog(ctx)
	if err != nil {
		return nil, apierrors.NewDatabaseError(fmt.Sprintf("Failed to get audit log: %v", err))
	}

	responses := make([]dto.TransactionResponse, len(transactions))
	for i := range transactions {
		responses[i] = *dto.MapTransactionToDTO(&transactions[i])
	}

	return &dto.AuditLogResponse{
		Transactions: responses,
		Total:        len(responses),
	}, nil
}

func mapVerification(result *engine.VerificationResult) *dto.VerificationResponse {
	return &dto.VerificationResponse{
		Valid:        result.Valid,
		Status:       result.Status,
		Message:      result.Message,
		Prescription: dto.MapPrescriptionToDTO(result.Prescription),
		DispensedAt:  result.DispensedAt,
		DispensedBy:  result.DispensedBy,
	}
}

// mapLifecycleError converts engine and domain errors into API errors
func mapLifecycleError(err error, message string) error {
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		return apierrors.NewNotFoundError("Prescription token not found")
	case errors.Is(err, domain.ErrTokenAlreadyDispensed):
		return apierrors.NewConflictError("Prescription token already dispensed")
	case errors.Is(err, domain.ErrTokenExpired):
		return apierrors.NewConflictError("Prescription token has expired")
	case errors.Is(err, domain.ErrTokenCancelled):
		return apierrors.NewConflictError("Prescription token was cancelled")
	case errors.Is(err, engine.ErrMissingParty),
		errors.Is(err, engine.ErrNoDrugs),
		errors.Is(err, engine.ErrInvalidDrug):
		return apierrors.NewValidationError(err.Error())
	case errors.Is(err, engine.ErrPatientMismatch):
		return apierrors.NewForbiddenError("Prescription is not bound to this patient")
	default:
		return apierrors.NewInternalError(fmt.Sprintf("%s: %v", message, err))
	}
}
