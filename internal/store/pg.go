package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// Migrate creates the ledger tables and seeds the height counter row
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&schema.Prescription{}, &schema.Transaction{}, &schema.LedgerHeight{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	seed := schema.LedgerHeight{ID: 1, Height: 0}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return fmt.Errorf("failed to seed ledger height: %w", err)
	}

	return nil
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// nextBlockNumber bumps the shared height counter inside the caller's
// transaction and returns the allocated value. The row update serializes
// concurrent allocations, so numbers are strictly increasing with no duplicates.
func nextBlockNumber(tx *gorm.DB) (uint64, error) {
	var height uint64
	err := tx.Raw(`UPDATE ledger_height SET height = height + 1, updated_at = now() WHERE id = 1 RETURNING height`).
		Scan(&height).Error
	if err != nil {
		return 0, fmt.Errorf("failed to allocate block number: %w", err)
	}
	return height, nil
}

// burnMeta is the raw context attached to burn transactions
type burnMeta struct {
	PharmacyID string `json:"pharmacy_id"`
}

// CreateMint appends a new prescription and its mint transaction in a single
// database transaction
func (s *pgStore) CreateMint(ctx context.Context, input CreateMintInput) (*MintRecord, error) {
	drugsJSON, err := json.Marshal(input.Drugs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal drugs: %w", err)
	}

	var record MintRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prescription := schema.Prescription{
			AssetID:   input.AssetID,
			DoctorID:  input.DoctorID,
			PatientID: input.PatientID,
			Drugs:     drugsJSON,
			Status:    domain.StatusMinted,
			TxHash:    input.TxHash,
			ExpiresAt: input.ExpiresAt,
			CreatedAt: input.Timestamp,
		}

		if err := tx.Create(&prescription).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDuplicateAssetID
			}
			return fmt.Errorf("failed to create prescription: %w", err)
		}

		blockNumber, err := nextBlockNumber(tx)
		if err != nil {
			return err
		}

		transaction := schema.Transaction{
			Type:           domain.TransactionTypeMint,
			AssetID:        input.AssetID,
			PrescriptionID: prescription.ID,
			InitiatorID:    input.DoctorID,
			InitiatorType:  domain.InitiatorTypeDoctor,
			TxHash:         input.TxHash,
			BlockNumber:    blockNumber,
			Timestamp:      input.Timestamp,
		}

		if err := tx.Create(&transaction).Error; err != nil {
			return fmt.Errorf("failed to create mint transaction: %w", err)
		}

		record = MintRecord{Prescription: prescription, Transaction: transaction}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// Dispense transitions a minted prescription to dispensed and appends the burn
// transaction. The conditional UPDATE makes the check-then-act sequence atomic:
// a second concurrent attempt matches zero rows and is rejected.
func (s *pgStore) Dispense(ctx context.Context, input DispenseInput) (*DispenseRecord, error) {
	var record DispenseRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&schema.Prescription{}).
			Where("asset_id = ? AND status = ?", input.AssetID, domain.StatusMinted).
			Updates(map[string]interface{}{
				"status":                   domain.StatusDispensed,
				"dispensed_at":             input.Timestamp,
				"dispensed_by":             input.PharmacistID,
				"dispensed_at_pharmacy_id": input.PharmacyID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update prescription: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			return s.dispenseConflict(tx, input.AssetID)
		}

		var prescription schema.Prescription
		if err := tx.Where("asset_id = ?", input.AssetID).First(&prescription).Error; err != nil {
			return fmt.Errorf("failed to reload prescription: %w", err)
		}

		blockNumber, err := nextBlockNumber(tx)
		if err != nil {
			return err
		}

		rawJSON, err := json.Marshal(burnMeta{PharmacyID: input.PharmacyID})
		if err != nil {
			return fmt.Errorf("failed to marshal burn meta: %w", err)
		}

		transaction := schema.Transaction{
			Type:           domain.TransactionTypeBurn,
			AssetID:        input.AssetID,
			PrescriptionID: prescription.ID,
			InitiatorID:    input.PharmacistID,
			InitiatorType:  domain.InitiatorTypePharmacist,
			TxHash:         input.TxHash,
			BlockNumber:    blockNumber,
			Timestamp:      input.Timestamp,
			Raw:            rawJSON,
		}

		if err := tx.Create(&transaction).Error; err != nil {
			return fmt.Errorf("failed to create burn transaction: %w", err)
		}

		record = DispenseRecord{Prescription: prescription, Transaction: transaction}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// dispenseConflict maps a failed conditional update to the right sentinel error
func (s *pgStore) dispenseConflict(tx *gorm.DB, assetID string) error {
	var prescription schema.Prescription
	err := tx.Where("asset_id = ?", assetID).First(&prescription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrTokenNotFound
		}
		return fmt.Errorf("failed to get prescription: %w", err)
	}

	switch prescription.Status {
	case domain.StatusDispensed:
		return domain.ErrTokenAlreadyDispensed
	case domain.StatusExpired:
		return domain.ErrTokenExpired
	case domain.StatusCancelled:
		return domain.ErrTokenCancelled
	default:
		return fmt.Errorf("prescription %s in unexpected status %s", assetID, prescription.Status)
	}
}

// Cancel transitions a minted prescription to cancelled
func (s *pgStore) Cancel(ctx context.Context, input CancelInput) (*schema.Prescription, error) {
	var prescription schema.Prescription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&schema.Prescription{}).
			Where("asset_id = ? AND status = ?", input.AssetID, domain.StatusMinted).
			Update("status", domain.StatusCancelled)
		if res.Error != nil {
			return fmt.Errorf("failed to cancel prescription: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			return s.dispenseConflict(tx, input.AssetID)
		}

		if err := tx.Where("asset_id = ?", input.AssetID).First(&prescription).Error; err != nil {
			return fmt.Errorf("failed to reload prescription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &prescription, nil
}

// ExpireDue batch-expires minted prescriptions whose validity window lapsed
func (s *pgStore) ExpireDue(ctx context.Context, now time.Time, limit int) ([]schema.Prescription, error) {
	var expired []schema.Prescription
	err := s.db.WithContext(ctx).Raw(`
		UPDATE prescriptions SET status = ?
		WHERE id IN (
			SELECT id FROM prescriptions
			WHERE status = ? AND expires_at <= ?
			ORDER BY expires_at ASC
			LIMIT ?
		)
		RETURNING *
	`, domain.StatusExpired, domain.StatusMinted, now, limit).Scan(&expired).Error
	if err != nil {
		return nil, fmt.Errorf("failed to expire prescriptions: %w", err)
	}

	return expired, nil
}

// MarkQRIssued stamps the QR issuance window on a prescription
func (s *pgStore) MarkQRIssued(ctx context.Context, assetID string, generatedAt, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&schema.Prescription{}).
		Where("asset_id = ?", assetID).
		Updates(map[string]interface{}{
			"qr_generated_at": generatedAt,
			"qr_expires_at":   expiresAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark QR issued: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrTokenNotFound
	}

	return nil
}

// GetPrescriptionByAssetID retrieves a prescription by its asset ID
func (s *pgStore) GetPrescriptionByAssetID(ctx context.Context, assetID string) (*schema.Prescription, error) {
	var prescription schema.Prescription
	err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).First(&prescription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}

	return &prescription, nil
}

// ListPrescriptions retrieves all prescriptions, newest first
func (s *pgStore) ListPrescriptions(ctx context.Context) ([]schema.Prescription, error) {
	var prescriptions []schema.Prescription
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Find(&prescriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}

	return prescriptions, nil
}

// ListPrescriptionsByPatient retrieves a patient's prescriptions, newest first
func (s *pgStore) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]schema.Prescription, error) {
	var prescriptions []schema.Prescription
	err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC, id DESC").
		Find(&prescriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list patient prescriptions: %w", err)
	}

	return prescriptions, nil
}

// ListPrescriptionsByDoctor retrieves a doctor's prescriptions, newest first
func (s *pgStore) ListPrescriptionsByDoctor(ctx context.Context, doctorID string) ([]schema.Prescription, error) {
	var prescriptions []schema.Prescription
	err := s.db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Order("created_at DESC, id DESC").
		Find(&prescriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list doctor prescriptions: %w", err)
	}

	return prescriptions, nil
}

// ListTransactions retrieves the audit log sorted by timestamp descending
func (s *pgStore) ListTransactions(ctx context.Context) ([]schema.Transaction, error) {
	var transactions []schema.Transaction
	err := s.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return transactions, nil
}
