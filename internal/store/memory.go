package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/store/schema"
)

// memoryStore is an in-memory Store implementation. It backs unit tests and
// demo deployments that run without PostgreSQL. A single mutex guards all
// state, which serializes the check-then-act sequence of Dispense the same
// way the conditional UPDATE does in the pg store.
type memoryStore struct {
	mu            sync.Mutex
	prescriptions map[string]*schema.Prescription // keyed by asset ID
	transactions  []schema.Transaction
	nextPresID    uint64
	nextTxID      uint64
	height        uint64
}

// NewMemoryStore creates an empty in-memory store instance
func NewMemoryStore() Store {
	return &memoryStore{
		prescriptions: make(map[string]*schema.Prescription),
	}
}

func (s *memoryStore) CreateMint(_ context.Context, input CreateMintInput) (*MintRecord, error) {
	drugsJSON, err := json.Marshal(input.Drugs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal drugs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prescriptions[input.AssetID]; ok {
		return nil, domain.ErrDuplicateAssetID
	}

	s.nextPresID++
	prescription := schema.Prescription{
		ID:        s.nextPresID,
		AssetID:   input.AssetID,
		DoctorID:  input.DoctorID,
		PatientID: input.PatientID,
		Drugs:     drugsJSON,
		Status:    domain.StatusMinted,
		TxHash:    input.TxHash,
		ExpiresAt: input.ExpiresAt,
		CreatedAt: input.Timestamp,
	}
	s.prescriptions[input.AssetID] = &prescription

	transaction := s.appendTransaction(schema.Transaction{
		Type:           domain.TransactionTypeMint,
		AssetID:        input.AssetID,
		PrescriptionID: prescription.ID,
		InitiatorID:    input.DoctorID,
		InitiatorType:  domain.InitiatorTypeDoctor,
		TxHash:         input.TxHash,
		Timestamp:      input.Timestamp,
	})

	return &MintRecord{Prescription: prescription, Transaction: transaction}, nil
}

func (s *memoryStore) Dispense(_ context.Context, input DispenseInput) (*DispenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prescription, ok := s.prescriptions[input.AssetID]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}

	if err := conflictFor(prescription.Status); err != nil {
		return nil, err
	}

	ts := input.Timestamp
	prescription.Status = domain.StatusDispensed
	prescription.DispensedAt = &ts
	prescription.DispensedBy = &input.PharmacistID
	prescription.DispensedAtPharmacyID = &input.PharmacyID

	rawJSON, err := json.Marshal(burnMeta{PharmacyID: input.PharmacyID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal burn meta: %w", err)
	}

	transaction := s.appendTransaction(schema.Transaction{
		Type:           domain.TransactionTypeBurn,
		AssetID:        input.AssetID,
		PrescriptionID: prescription.ID,
		InitiatorID:    input.PharmacistID,
		InitiatorType:  domain.InitiatorTypePharmacist,
		TxHash:         input.TxHash,
		Timestamp:      input.Timestamp,
		Raw:            rawJSON,
	})

	return &DispenseRecord{Prescription: *prescription, Transaction: transaction}, nil
}

func (s *memoryStore) Cancel(_ context.Context, input CancelInput) (*schema.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prescription, ok := s.prescriptions[input.AssetID]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}

	if err := conflictFor(prescription.Status); err != nil {
		return nil, err
	}

	prescription.Status = domain.StatusCancelled
	copied := *prescription
	return &copied, nil
}

func (s *memoryStore) ExpireDue(_ context.Context, now time.Time, limit int) ([]schema.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*schema.Prescription
	for _, p := range s.prescriptions {
		if p.Status == domain.StatusMinted && !p.ExpiresAt.After(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	expired := make([]schema.Prescription, 0, len(due))
	for _, p := range due {
		p.Status = domain.StatusExpired
		expired = append(expired, *p)
	}

	return expired, nil
}

func (s *memoryStore) MarkQRIssued(_ context.Context, assetID string, generatedAt, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prescription, ok := s.prescriptions[assetID]
	if !ok {
		return domain.ErrTokenNotFound
	}

	prescription.QRGeneratedAt = &generatedAt
	prescription.QRExpiresAt = &expiresAt
	return nil
}

func (s *memoryStore) GetPrescriptionByAssetID(_ context.Context, assetID string) (*schema.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prescription, ok := s.prescriptions[assetID]
	if !ok {
		return nil, nil
	}

	copied := *prescription
	return &copied, nil
}

func (s *memoryStore) ListPrescriptions(_ context.Context) ([]schema.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(func(*schema.Prescription) bool { return true }), nil
}

func (s *memoryStore) ListPrescriptionsByPatient(_ context.Context, patientID string) ([]schema.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(func(p *schema.Prescription) bool { return p.PatientID == patientID }), nil
}

func (s *memoryStore) ListPrescriptionsByDoctor(_ context.Context, doctorID string) ([]schema.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(func(p *schema.Prescription) bool { return p.DoctorID == doctorID }), nil
}

func (s *memoryStore) ListTransactions(_ context.Context) ([]schema.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transactions := make([]schema.Transaction, len(s.transactions))
	copy(transactions, s.transactions)
	sort.Slice(transactions, func(i, j int) bool {
		if !transactions[i].Timestamp.Equal(transactions[j].Timestamp) {
			return transactions[i].Timestamp.After(transactions[j].Timestamp)
		}
		return transactions[i].ID > transactions[j].ID
	})

	return transactions, nil
}

// listLocked collects matching prescriptions newest first. Caller must hold
// the mutex.
func (s *memoryStore) listLocked(match func(*schema.Prescription) bool) []schema.Prescription {
	var out []schema.Prescription
	for _, p := range s.prescriptions {
		if match(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// appendTransaction allocates the next block number and transaction ID and
// appends the row. Caller must hold the mutex.
func (s *memoryStore) appendTransaction(transaction schema.Transaction) schema.Transaction {
	s.height++
	s.nextTxID++
	transaction.ID = s.nextTxID
	transaction.BlockNumber = s.height
	s.transactions = append(s.transactions, transaction)
	return transaction
}

// conflictFor maps a non-minted status to the matching sentinel error
func conflictFor(status domain.PrescriptionStatus) error {
	switch status {
	case domain.StatusMinted:
		return nil
	case domain.StatusDispensed:
		return domain.ErrTokenAlreadyDispensed
	case domain.StatusExpired:
		return domain.ErrTokenExpired
	case domain.StatusCancelled:
		return domain.ErrTokenCancelled
	default:
		return fmt.Errorf("unexpected status %s", status)
	}
}
