package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/store"
)

var testBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func mintInput(assetID string, minted time.Time) store.CreateMintInput {
	return store.CreateMintInput{
		AssetID:   assetID,
		DoctorID:  "DOC-001",
		PatientID: "PAT-001",
		Drugs: []domain.DrugItem{
			{DrugID: "DRUG-1", DrugName: "Amoxicillin", Dosage: "500mg", Quantity: 21},
		},
		TxHash:    domain.NewTxHash(),
		ExpiresAt: minted.Add(30 * 24 * time.Hour),
		Timestamp: minted,
	}
}

func TestCreateMint(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	record, err := st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
	require.NoError(t, err)

	assert.Equal(t, "ASA-00000001", record.Prescription.AssetID)
	assert.Equal(t, domain.StatusMinted, record.Prescription.Status)
	assert.Equal(t, uint64(1), record.Transaction.BlockNumber)
	assert.Equal(t, domain.TransactionTypeMint, record.Transaction.Type)
	assert.Equal(t, "DOC-001", record.Transaction.InitiatorID)
	assert.Equal(t, domain.InitiatorTypeDoctor, record.Transaction.InitiatorType)

	_, err = st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
	assert.ErrorIs(t, err, domain.ErrDuplicateAssetID)

	record, err = st.CreateMint(ctx, mintInput("ASA-00000002", testBase))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), record.Transaction.BlockNumber)
}

func TestDispense(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	_, err := st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
	require.NoError(t, err)

	dispensedAt := testBase.Add(2 * time.Hour)
	record, err := st.Dispense(ctx, store.DispenseInput{
		AssetID:      "ASA-00000001",
		PharmacistID: "PHR-001",
		PharmacyID:   "PHM-001",
		TxHash:       domain.NewTxHash(),
		Timestamp:    dispensedAt,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDispensed, record.Prescription.Status)
	require.NotNil(t, record.Prescription.DispensedAt)
	assert.True(t, record.Prescription.DispensedAt.Equal(dispensedAt))
	require.NotNil(t, record.Prescription.DispensedBy)
	assert.Equal(t, "PHR-001", *record.Prescription.DispensedBy)
	require.NotNil(t, record.Prescription.DispensedAtPharmacyID)
	assert.Equal(t, "PHM-001", *record.Prescription.DispensedAtPharmacyID)
	assert.Equal(t, uint64(2), record.Transaction.BlockNumber)
	assert.Equal(t, domain.TransactionTypeBurn, record.Transaction.Type)
	assert.JSONEq(t, `{"pharmacy_id":"PHM-001"}`, string(record.Transaction.Raw))
}

func TestDispenseConflicts(t *testing.T) {
	ctx := context.Background()

	dispense := func(st store.Store, assetID string) error {
		_, err := st.Dispense(ctx, store.DispenseInput{
			AssetID:      assetID,
			PharmacistID: "PHR-001",
			PharmacyID:   "PHM-001",
			TxHash:       domain.NewTxHash(),
			Timestamp:    testBase.Add(time.Hour),
		})
		return err
	}

	t.Run("not found", func(t *testing.T) {
		st := store.NewMemoryStore()
		assert.ErrorIs(t, dispense(st, "ASA-00000009"), domain.ErrTokenNotFound)
	})

	t.Run("already dispensed", func(t *testing.T) {
		st := store.NewMemoryStore()
		_, err := st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
		require.NoError(t, err)
		require.NoError(t, dispense(st, "ASA-00000001"))
		assert.ErrorIs(t, dispense(st, "ASA-00000001"), domain.ErrTokenAlreadyDispensed)
	})

	t.Run("expired", func(t *testing.T) {
		st := store.NewMemoryStore()
		_, err := st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
		require.NoError(t, err)
		_, err = st.ExpireDue(ctx, testBase.Add(31*24*time.Hour), 10)
		require.NoError(t, err)
		assert.ErrorIs(t, dispense(st, "ASA-00000001"), domain.ErrTokenExpired)
	})

	t.Run("cancelled", func(t *testing.T) {
		st := store.NewMemoryStore()
		_, err := st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
		require.NoError(t, err)
		_, err = st.Cancel(ctx, store.CancelInput{AssetID: "ASA-00000001", DoctorID: "DOC-001", Timestamp: testBase})
		require.NoError(t, err)
		assert.ErrorIs(t, dispense(st, "ASA-00000001"), domain.ErrTokenCancelled)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	_, err := st.Cancel(ctx, store.CancelInput{AssetID: "ASA-00000009", DoctorID: "DOC-001", Timestamp: testBase})
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
	require.NoError(t, err)

	prescription, err := st.Cancel(ctx, store.CancelInput{AssetID: "ASA-00000001", DoctorID: "DOC-001", Timestamp: testBase.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, prescription.Status)

	// Cancellation does not advance the block counter.
	transactions, err := st.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	assert.Equal(t, domain.TransactionTypeMint, transactions[0].Type)
}

func TestExpireDue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	// Three overdue tokens minted at staggered times, one still valid, one dispensed.
	for i, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		_, err := st.CreateMint(ctx, mintInput("ASA-0000000"+string(rune('1'+i)), testBase.Add(offset)))
		require.NoError(t, err)
	}
	_, err := st.CreateMint(ctx, mintInput("ASA-00000004", testBase.Add(5*24*time.Hour)))
	require.NoError(t, err)
	_, err = st.CreateMint(ctx, mintInput("ASA-00000005", testBase))
	require.NoError(t, err)
	_, err = st.Dispense(ctx, store.DispenseInput{
		AssetID:      "ASA-00000005",
		PharmacistID: "PHR-001",
		PharmacyID:   "PHM-001",
		TxHash:       domain.NewTxHash(),
		Timestamp:    testBase.Add(time.Hour),
	})
	require.NoError(t, err)

	now := testBase.Add(31 * 24 * time.Hour)

	// The oldest expiry times go first when the batch is capped.
	expired, err := st.ExpireDue(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "ASA-00000002", expired[0].AssetID)
	assert.Equal(t, "ASA-00000003", expired[1].AssetID)
	assert.Equal(t, domain.StatusExpired, expired[0].Status)

	expired, err = st.ExpireDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "ASA-00000001", expired[0].AssetID)

	// Nothing left that is both minted and overdue.
	expired, err = st.ExpireDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	valid, err := st.GetPrescriptionByAssetID(ctx, "ASA-00000004")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMinted, valid.Status)
}

func TestMarkQRIssued(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	generatedAt := testBase.Add(time.Hour)
	expiresAt := generatedAt.Add(5 * time.Minute)

	err := st.MarkQRIssued(ctx, "ASA-00000009", generatedAt, expiresAt)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
	require.NoError(t, err)

	require.NoError(t, st.MarkQRIssued(ctx, "ASA-00000001", generatedAt, expiresAt))

	prescription, err := st.GetPrescriptionByAssetID(ctx, "ASA-00000001")
	require.NoError(t, err)
	require.NotNil(t, prescription.QRGeneratedAt)
	assert.True(t, prescription.QRGeneratedAt.Equal(generatedAt))
	require.NotNil(t, prescription.QRExpiresAt)
	assert.True(t, prescription.QRExpiresAt.Equal(expiresAt))
}

func TestGetPrescriptionByAssetID(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	prescription, err := st.GetPrescriptionByAssetID(ctx, "ASA-00000009")
	require.NoError(t, err)
	assert.Nil(t, prescription)

	_, err = st.CreateMint(ctx, mintInput("ASA-00000001", testBase))
	require.NoError(t, err)

	prescription, err = st.GetPrescriptionByAssetID(ctx, "ASA-00000001")
	require.NoError(t, err)
	require.NotNil(t, prescription)

	// The returned row is a copy; mutating it must not touch stored state.
	prescription.Status = domain.StatusDispensed
	stored, err := st.GetPrescriptionByAssetID(ctx, "ASA-00000001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMinted, stored.Status)
}

func TestListPrescriptions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	seed := func(assetID, doctorID, patientID string, minted time.Time) {
		input := mintInput(assetID, minted)
		input.DoctorID = doctorID
		input.PatientID = patientID
		_, err := st.CreateMint(ctx, input)
		require.NoError(t, err)
	}

	seed("ASA-00000001", "DOC-001", "PAT-001", testBase)
	seed("ASA-00000002", "DOC-002", "PAT-001", testBase.Add(time.Hour))
	seed("ASA-00000003", "DOC-001", "PAT-002", testBase.Add(2*time.Hour))

	all, err := st.ListPrescriptions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ASA-00000003", all[0].AssetID)
	assert.Equal(t, "ASA-00000002", all[1].AssetID)
	assert.Equal(t, "ASA-00000001", all[2].AssetID)

	byPatient, err := st.ListPrescriptionsByPatient(ctx, "PAT-001")
	require.NoError(t, err)
	require.Len(t, byPatient, 2)
	assert.Equal(t, "ASA-00000002", byPatient[0].AssetID)
	assert.Equal(t, "ASA-00000001", byPatient[1].AssetID)

	byDoctor, err := st.ListPrescriptionsByDoctor(ctx, "DOC-001")
	require.NoError(t, err)
	require.Len(t, byDoctor, 2)
	assert.Equal(t, "ASA-00000003", byDoctor[0].AssetID)

	none, err := st.ListPrescriptionsByPatient(ctx, "PAT-999")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListTransactions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	for i := 0; i < 3; i++ {
		assetID := "ASA-0000000" + string(rune('1'+i))
		_, err := st.CreateMint(ctx, mintInput(assetID, testBase.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		_, err = st.Dispense(ctx, store.DispenseInput{
			AssetID:      assetID,
			PharmacistID: "PHR-001",
			PharmacyID:   "PHM-001",
			TxHash:       domain.NewTxHash(),
			Timestamp:    testBase.Add(time.Duration(i)*time.Hour + 30*time.Minute),
		})
		require.NoError(t, err)
	}

	transactions, err := st.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, transactions, 6)

	// Newest first, block numbers strictly decreasing down the log.
	for i := 0; i < len(transactions)-1; i++ {
		assert.Greater(t, transactions[i].BlockNumber, transactions[i+1].BlockNumber)
		assert.False(t, transactions[i].Timestamp.Before(transactions[i+1].Timestamp))
	}
	assert.Equal(t, uint64(6), transactions[0].BlockNumber)
	assert.Equal(t, domain.TransactionTypeBurn, transactions[0].Type)
}
