package schema

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/medledger/rx-ledger/internal/domain"
)

// Prescription represents the prescriptions table - one doctor-issued,
// patient-bound medication order materialized as a ledger-tracked token.
type Prescription struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// AssetID is the externally visible token identifier; unique, assigned at mint, immutable
	AssetID string `gorm:"column:asset_id;not null;uniqueIndex;type:text"`
	// DoctorID references the issuing doctor; set at mint, immutable
	DoctorID string `gorm:"column:doctor_id;not null;type:text;index"`
	// PatientID references the receiving patient; set at mint, immutable
	PatientID string `gorm:"column:patient_id;not null;type:text;index"`
	// Drugs holds the ordered line items as JSON; the prescription burns atomically,
	// so there is no per-line state to track
	Drugs datatypes.JSON `gorm:"column:drugs;not null;type:jsonb"`
	// Status is the lifecycle state; transitions follow legal edges only
	Status domain.PrescriptionStatus `gorm:"column:status;not null;type:text;index"`
	// TxHash is the hash of the minting transaction
	TxHash string `gorm:"column:tx_hash;not null;type:text"`
	// ExpiresAt is the end of the validity window; minted prescriptions past it get expired by the sweeper
	ExpiresAt time.Time `gorm:"column:expires_at;not null;type:timestamptz;index"`
	// DispensedAt is set exactly once, at dispense time
	DispensedAt *time.Time `gorm:"column:dispensed_at;type:timestamptz"`
	// DispensedBy is the pharmacist identifier, set at dispense time
	DispensedBy *string `gorm:"column:dispensed_by;type:text"`
	// DispensedAtPharmacyID is the pharmacy identifier, set at dispense time
	DispensedAtPharmacyID *string `gorm:"column:dispensed_at_pharmacy_id;type:text"`
	// QRGeneratedAt records when a QR capability token was last issued for this prescription
	QRGeneratedAt *time.Time `gorm:"column:qr_generated_at;type:timestamptz"`
	// QRExpiresAt records when that capability token lapses
	QRExpiresAt *time.Time `gorm:"column:qr_expires_at;type:timestamptz"`
	// CreatedAt is the mint timestamp
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`

	// Associations
	Transactions []Transaction `gorm:"foreignKey:PrescriptionID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Prescription model
func (Prescription) TableName() string {
	return "prescriptions"
}

// DrugItems decodes the stored line items
func (p *Prescription) DrugItems() ([]domain.DrugItem, error) {
	var items []domain.DrugItem
	if err := json.Unmarshal(p.Drugs, &items); err != nil {
		return nil, err
	}
	return items, nil
}
