package dto

import (
	"fmt"

	"github.com/medledger/rx-ledger/internal/api/shared/constants"
	apierrors "github.com/medledger/rx-ledger/internal/api/shared/errors"
	"github.com/medledger/rx-ledger/internal/domain"
)

// MintPrescriptionRequest represents the request body for minting a prescription token
type MintPrescriptionRequest struct {
	DoctorID  string            `json:"doctor_id"`
	PatientID string            `json:"patient_id"`
	Drugs     []domain.DrugItem `json:"drugs"`
}

// Validate validates the request body
func (r *MintPrescriptionRequest) Validate() error {
	if err := validateIdentifier("doctor_id", r.DoctorID); err != nil {
		return err
	}
	if err := validateIdentifier("patient_id", r.PatientID); err != nil {
		return err
	}

	if len(r.Drugs) == 0 {
		return apierrors.NewValidationError("drugs is required and must not be empty")
	}
	if len(r.Drugs) > constants.MAX_DRUGS_PER_PRESCRIPTION {
		return apierrors.NewValidationError(fmt.Sprintf("maximum %d drugs allowed", constants.MAX_DRUGS_PER_PRESCRIPTION))
	}
	for i, drug := range r.Drugs {
		if !drug.Valid() {
			return apierrors.NewValidationError(fmt.Sprintf("drugs[%d] must have drug_id, drug_name and a positive quantity", i))
		}
	}

	return nil
}

// DispenseRequest represents the request body for dispensing a prescription token
type DispenseRequest struct {
	PharmacistID string `json:"pharmacist_id"`
	PharmacyID   string `json:"pharmacy_id,omitempty"`
}

// Validate validates the request body
func (r *DispenseRequest) Validate() error {
	return validateIdentifier("pharmacist_id", r.PharmacistID)
}

// CancelRequest represents the request body for cancelling a prescription token
type CancelRequest struct {
	DoctorID string `json:"doctor_id"`
}

// Validate validates the request body
func (r *CancelRequest) Validate() error {
	return validateIdentifier("doctor_id", r.DoctorID)
}

// IssueQRRequest represents the request body for issuing a QR capability token
type IssueQRRequest struct {
	PatientID string `json:"patient_id"`
}

// Validate validates the request body
func (r *IssueQRRequest) Validate() error {
	return validateIdentifier("patient_id", r.PatientID)
}

// VerifyQRRequest represents the request body for verifying a QR capability token
type VerifyQRRequest struct {
	Token string `json:"token"`
}

// Validate validates the request body
func (r *VerifyQRRequest) Validate() error {
	if r.Token == "" {
		return apierrors.NewValidationError("token is required")
	}
	return nil
}

func validateIdentifier(field, value string) error {
	if value == "" {
		return apierrors.NewValidationError(fmt.Sprintf("%s is required", field))
	}
	if len(value) > constants.MAX_IDENTIFIER_LENGTH {
		return apierrors.NewValidationError(fmt.Sprintf("%s must be at most %d characters", field, constants.MAX_IDENTIFIER_LENGTH))
	}
	return nil
}
