package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/qr"
	"github.com/medledger/rx-ledger/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (p *capturingPublisher) PublishLedgerEvent(_ context.Context, event *domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

func (p *capturingPublisher) Close() {}

func (p *capturingPublisher) Events() []domain.LedgerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LedgerEvent(nil), p.events...)
}

func testDrugs() []domain.DrugItem {
	return []domain.DrugItem{
		{
			DrugID:    "DRUG-AMOX-500",
			DrugName:  "Amoxicillin 500mg",
			Dosage:    "500mg",
			Frequency: "3x daily",
			Duration:  "7 days",
			Quantity:  21,
		},
	}
}

func newTestEngine(t *testing.T) (Engine, store.Store, *fakeClock, *capturingPublisher) {
	t.Helper()
	clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore()
	pub := &capturingPublisher{}
	codec := qr.NewCodec("test-secret", 5*time.Minute, clock)
	return New(st, codec, pub, clock, 30*24*time.Hour), st, clock, pub
}

func TestMint(t *testing.T) {
	eng, _, _, pub := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)
	assert.True(t, result.AssetID.Valid(), "asset ID %q should match canonical format", result.AssetID)
	assert.Regexp(t, "^0x[0-9a-f]{64}$", result.TxHash)
	assert.Equal(t, uint64(1), result.BlockNumber)

	prescription, err := eng.GetPrescriptionByAssetID(ctx, result.AssetID)
	require.NoError(t, err)
	require.NotNil(t, prescription)
	assert.Equal(t, domain.StatusMinted, prescription.Status)
	assert.Equal(t, "doc-1", prescription.DoctorID)
	assert.Equal(t, "pat-1", prescription.PatientID)

	items, err := prescription.DrugItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Amoxicillin 500mg", items[0].DrugName)

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.LedgerEventMint, events[0].Type)
	assert.Equal(t, result.AssetID, events[0].AssetID)
	assert.NotEmpty(t, events[0].EventID)
}

func TestMintValidation(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	testCases := []struct {
		name string
		req  MintRequest
		err  error
	}{
		{
			name: "missing doctor",
			req:  MintRequest{PatientID: "pat-1", Drugs: testDrugs()},
			err:  ErrMissingParty,
		},
		{
			name: "missing patient",
			req:  MintRequest{DoctorID: "doc-1", Drugs: testDrugs()},
			err:  ErrMissingParty,
		},
		{
			name: "empty drug list",
			req:  MintRequest{DoctorID: "doc-1", PatientID: "pat-1"},
			err:  ErrNoDrugs,
		},
		{
			name: "zero quantity line item",
			req: MintRequest{
				DoctorID:  "doc-1",
				PatientID: "pat-1",
				Drugs:     []domain.DrugItem{{DrugID: "D1", DrugName: "X", Quantity: 0}},
			},
			err: ErrInvalidDrug,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Mint(ctx, tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestMintAssetIDsAreUnique(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	seen := map[domain.AssetID]bool{}
	for i := 0; i < 100; i++ {
		result, err := eng.Mint(ctx, MintRequest{
			DoctorID:  "doc-1",
			PatientID: "pat-1",
			Drugs:     testDrugs(),
		})
		require.NoError(t, err)
		assert.False(t, seen[result.AssetID], "asset ID %q minted twice", result.AssetID)
		seen[result.AssetID] = true
	}
}

func TestVerifyLifecycle(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	minted, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)

	result, err := eng.Verify(ctx, minted.AssetID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, domain.VerificationVerified, result.Status)
	require.NotNil(t, result.Prescription)

	// Verification is read-only; a second call sees the same state
	again, err := eng.Verify(ctx, minted.AssetID)
	require.NoError(t, err)
	assert.Equal(t, result.Status, again.Status)

	_, err = eng.Burn(ctx, BurnRequest{
		AssetID:      minted.AssetID,
		PharmacistID: "pharm-1",
		PharmacyID:   "store-1",
	})
	require.NoError(t, err)

	result, err = eng.Verify(ctx, minted.AssetID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.VerificationFraudAlert, result.Status)
	require.NotNil(t, result.DispensedAt)
	require.NotNil(t, result.DispensedBy)
	assert.Equal(t, "pharm-1", *result.DispensedBy)
}

func TestVerifyNotFound(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	result, err := eng.Verify(context.Background(), "ASA-00000000")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.VerificationNotFound, result.Status)
	assert.Nil(t, result.Prescription)
}

func TestVerifyExpiredBeforeSweep(t *testing.T) {
	eng, _, clock, _ := newTestEngine(t)
	ctx := context.Background()

	minted, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)

	// Past the validity window but the sweeper has not run; verification
	// must already refuse the token
	clock.Advance(31 * 24 * time.Hour)

	result, err := eng.Verify(ctx, minted.AssetID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.VerificationExpired, result.Status)

	_, err = eng.Burn(ctx, BurnRequest{AssetID: minted.AssetID, PharmacistID: "pharm-1"})
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestBurn(t *testing.T) {
	eng, _, _, pub := newTestEngine(t)
	ctx := context.Background()

	minted, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)

	burned, err := eng.Burn(ctx, BurnRequest{
		AssetID:      minted.AssetID,
		PharmacistID: "pharm-1",
		PharmacyID:   "store-1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, minted.TxHash, burned.TxHash)
	assert.Equal(t, minted.BlockNumber+1, burned.BlockNumber)

	prescription, err := eng.GetPrescriptionByAssetID(ctx, minted.AssetID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispensed, prescription.Status)
	require.NotNil(t, prescription.DispensedAtPharmacyID)
	assert.Equal(t, "store-1", *prescription.DispensedAtPharmacyID)

	// Second attempt on the same token is the fraud path
	_, err = eng.Burn(ctx, BurnRequest{AssetID: minted.AssetID, PharmacistID: "pharm-2"})
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyDispensed)

	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.LedgerEventBurn, events[1].Type)
	assert.Equal(t, domain.InitiatorTypePharmacist, events[1].InitiatorType)
}

func TestBurnNotFound(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	_, err := eng.Burn(context.Background(), BurnRequest{
		AssetID:      "ASA-00000000",
		PharmacistID: "pharm-1",
	})
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestConcurrentBurnExactlyOneSucceeds(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	minted, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)

	const attempts = 16
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Burn(ctx, BurnRequest{
				AssetID:      minted.AssetID,
				PharmacistID: "pharm-1",
				PharmacyID:   "store-1",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, conflicted int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		default:
			assert.ErrorIs(t, err, domain.ErrTokenAlreadyDispensed)
			conflicted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicted)
}

func TestCancel(t *testing.T) {
	eng, _, _, pub := newTestEngine(t)
	ctx := context.Background()

	minted, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)

	cancelled, err := eng.Cancel(ctx, minted.AssetID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	result, err := eng.Verify(ctx, minted.AssetID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationCancelled, result.Status)

	_, err = eng.Burn(ctx, BurnRequest{AssetID: minted.AssetID, PharmacistID: "pharm-1"})
	assert.ErrorIs(t, err, domain.ErrTokenCancelled)

	// Cancellation appends no ledger transaction; only the cancel event is emitted
	log, err := eng.AuditLog(ctx)
	require.NoError(t, err)
	assert.Len(t, log, 1)
	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.LedgerEventCancel, events[1].Type)
}

func TestCancelDispensed(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	minted, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)

	_, err = eng.Burn(ctx, BurnRequest{AssetID: minted.AssetID, PharmacistID: "pharm-1"})
	require.NoError(t, err)

	_, err = eng.Cancel(ctx, minted.AssetID, "doc-1")
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyDispensed)
}

func TestBlockNumbersAreMonotonic(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	var expected uint64
	for i := 0; i < 5; i++ {
		minted, err := eng.Mint(ctx, MintRequest{
			DoctorID:  "doc-1",
			PatientID: "pat-1",
			Drugs:     testDrugs(),
		})
		require.NoError(t, err)
		expected++
		assert.Equal(t, expected, minted.BlockNumber)

		burned, err := eng.Burn(ctx, BurnRequest{AssetID: minted.AssetID, PharmacistID: "pharm-1"})
		require.NoError(t, err)
		expected++
		assert.Equal(t, expected, burned.BlockNumber)
	}

	log, err := eng.AuditLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 10)
	for i := 1; i < len(log); i++ {
		// Newest first, so block numbers strictly decrease
		assert.Greater(t, log[i-1].BlockNumber, log[i].BlockNumber)
	}
}

func TestIssueQR(t *testing.T) {
	eng, _, clock, _ := newTestEngine(t)
	ctx := context.Background()

	minted, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)

	issue, err := eng.IssueQR(ctx, minted.AssetID, "pat-1")
	require.NoError(t, err)
	assert.NotEmpty(t, issue.Token)
	assert.Equal(t, minted.AssetID, issue.Payload.AssetID)
	assert.Equal(t, clock.Now().Unix(), issue.Payload.GeneratedAt)
	assert.Equal(t, clock.Now().Add(5*time.Minute).Unix(), issue.Payload.ExpiresAt)

	prescription, err := eng.GetPrescriptionByAssetID(ctx, minted.AssetID)
	require.NoError(t, err)
	require.NotNil(t, prescription.QRGeneratedAt)
	require.NotNil(t, prescription.QRExpiresAt)
	assert.Equal(t, issue.Payload.ExpiresAt, prescription.QRExpiresAt.Unix())
}

func TestIssueQRRejections(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	minted, err := eng.Mint(ctx, MintRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Drugs:     testDrugs(),
	})
	require.NoError(t, err)

	_, err = eng.IssueQR(ctx, minted.AssetID, "pat-2")
	assert.ErrorIs(t, err, ErrPatientMismatch)

	_, err = eng.IssueQR(ctx, "ASA-00000000", "pat-1")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = eng.Burn(ctx, BurnRequest{AssetID: minted.AssetID, PharmacistID: "pharm-1"})
	require.NoError(t, err)

	_, err = eng.IssueQR(ctx, minted.AssetID, "pat-1")
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyDispensed)
}

func TestProjections(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	for _, pair := range []struct{ doctor, patient string }{
		{"doc-1", "pat-1"},
		{"doc-1", "pat-2"},
		{"doc-2", "pat-1"},
	} {
		_, err := eng.Mint(ctx, MintRequest{
			DoctorID:  pair.doctor,
			PatientID: pair.patient,
			Drugs:     testDrugs(),
		})
		require.NoError(t, err)
	}

	all, err := eng.GetAllPrescriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byPatient, err := eng.GetPatientPrescriptions(ctx, "pat-1")
	require.NoError(t, err)
	assert.Len(t, byPatient, 2)
	for _, p := range byPatient {
		assert.Equal(t, "pat-1", p.PatientID)
	}

	byDoctor, err := eng.GetDoctorPrescriptions(ctx, "doc-2")
	require.NoError(t, err)
	assert.Len(t, byDoctor, 1)
	assert.Equal(t, "doc-2", byDoctor[0].DoctorID)
}
