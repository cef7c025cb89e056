package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/medledger/rx-ledger/internal/domain"
)

// Transaction represents the transactions table - the append-only audit log.
// Rows are never mutated or deleted once appended. Exactly one mint transaction
// exists per prescription and at most one burn transaction.
type Transaction struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Type is the transaction type (mint, burn; transfer is reserved)
	Type domain.TransactionType `gorm:"column:type;not null;type:text"`
	// AssetID links back to the prescription token
	AssetID string `gorm:"column:asset_id;not null;type:text;index"`
	// PrescriptionID references the prescription row
	PrescriptionID uint64 `gorm:"column:prescription_id;not null;index"`
	// InitiatorID is the actor who caused this transaction
	InitiatorID string `gorm:"column:initiator_id;not null;type:text"`
	// InitiatorType is the actor's role (doctor, pharmacist)
	InitiatorType domain.InitiatorType `gorm:"column:initiator_type;not null;type:text"`
	// TxHash is the pseudo transaction hash
	TxHash string `gorm:"column:tx_hash;not null;uniqueIndex;type:text"`
	// BlockNumber is the simulated ledger height; strictly increasing system-wide
	BlockNumber uint64 `gorm:"column:block_number;not null;uniqueIndex"`
	// Timestamp is when the transaction was appended
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz;index"`
	// Raw contains additional context as JSON (e.g. the pharmacy for burns)
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb"`

	// Associations
	Prescription Prescription `gorm:"foreignKey:PrescriptionID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Transaction model
func (Transaction) TableName() string {
	return "transactions"
}
