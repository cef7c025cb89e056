package dto

import (
	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/store/schema"
)

// MapPrescriptionToDTO maps a schema.Prescription to PrescriptionResponse
func MapPrescriptionToDTO(p *schema.Prescription) *PrescriptionResponse {
	if p == nil {
		return nil
	}

	// Line items are validated at mint, so a decode failure here means a
	// corrupted row; surface it as an empty list rather than dropping the row
	drugs, err := p.DrugItems()
	if err != nil {
		drugs = []domain.DrugItem{}
	}

	return &PrescriptionResponse{
		AssetID:               p.AssetID,
		DoctorID:              p.DoctorID,
		PatientID:             p.PatientID,
		Drugs:                 drugs,
		Status:                p.Status,
		TxHash:                p.TxHash,
		ExpiresAt:             p.ExpiresAt,
		DispensedAt:           p.DispensedAt,
		DispensedBy:           p.DispensedBy,
		DispensedAtPharmacyID: p.DispensedAtPharmacyID,
		QRGeneratedAt:         p.QRGeneratedAt,
		QRExpiresAt:           p.QRExpiresAt,
		CreatedAt:             p.CreatedAt,
	}
}

// MapTransactionToDTO maps a schema.Transaction to TransactionResponse
func MapTransactionToDTO(tx *schema.Transaction) *TransactionResponse {
	return &TransactionResponse{
		Type:          tx.Type,
		AssetID:       tx.AssetID,
		InitiatorID:   tx.InitiatorID,
		InitiatorType: tx.InitiatorType,
		TxHash:        tx.TxHash,
		BlockNumber:   tx.BlockNumber,
		Timestamp:     tx.Timestamp,
	}
}
