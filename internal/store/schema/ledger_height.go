package schema

import "time"

// LedgerHeight is a single-row table backing the monotonic block counter.
// Height is bumped inside the same database transaction as the mint or burn
// it numbers, which makes allocation atomic relative to other allocations.
type LedgerHeight struct {
	ID        int16     `gorm:"column:id;primaryKey"`
	Height    uint64    `gorm:"column:height;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the LedgerHeight model
func (LedgerHeight) TableName() string {
	return "ledger_height"
}
