package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medledger/rx-ledger/internal/adapter"
	"github.com/medledger/rx-ledger/internal/domain"
	"github.com/medledger/rx-ledger/internal/logger"
	"github.com/medledger/rx-ledger/internal/messaging"
	"github.com/medledger/rx-ledger/internal/store"
)

const (
	SWEEP_CYCLE_INTERVAL = 1 * time.Minute // Time to sleep between sweep cycles
)

// ExpirySweeperConfig holds configuration for the expiry sweeper
type ExpirySweeperConfig struct {
	BatchSize      int // Prescriptions to expire per batch
	WorkerPoolSize int // Concurrent event publish workers
}

// expirySweeper flips minted prescriptions whose validity window has lapsed
// to expired. It is the only writer of the expired status; verification and
// dispensing apply the same cutoff, so an unswept overdue row is never
// dispensable in the meantime.
type expirySweeper struct {
	config    *ExpirySweeperConfig
	store     store.Store
	publisher messaging.Publisher
	clock     adapter.Clock
	pool      pond.Pool
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewExpirySweeper creates a new expiry sweeper. The publisher may be nil,
// in which case expiry events are not emitted.
func NewExpirySweeper(
	config *ExpirySweeperConfig,
	st store.Store,
	publisher messaging.Publisher,
	clock adapter.Clock,
) Sweeper {
	return &expirySweeper{
		config:    config,
		store:     st,
		publisher: publisher,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *expirySweeper) Name() string {
	return "prescription-expiry-sweeper"
}

// Start begins the sweeper's main loop
func (s *expirySweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting prescription expiry sweeper",
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("worker_pool_size", s.config.WorkerPoolSize),
	)

	s.pool = pond.NewPool(
		s.config.WorkerPoolSize,
		pond.WithQueueSize(s.config.BatchSize),
		pond.WithContext(ctx),
	)

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Expiry sweeper stopping due to context cancellation", zap.Error(ctx.Err()))
			s.cleanup()
			return nil
		case <-s.stopChan:
			logger.InfoCtx(ctx, "Expiry sweeper stop requested")
			s.cleanup()
			return nil
		default:
			if err := s.runSweepCycle(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err)
				}
			}
		}
	}
}

// cleanup stops the worker pool and waits for tasks to complete
func (s *expirySweeper) cleanup() {
	if s.pool != nil {
		s.pool.StopAndWait()
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *expirySweeper) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	logger.InfoCtx(ctx, "Stopping expiry sweeper")

	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Expiry sweeper stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Expiry sweeper stop interrupted by context timeout")
		return ctx.Err()
	}
}

// runSweepCycle expires one batch of overdue prescriptions. A drained batch
// means there may be more overdue rows; the loop continues without sleeping
// until a cycle comes up short.
func (s *expirySweeper) runSweepCycle(ctx context.Context) error {
	startTime := s.clock.Now()

	expired, err := s.store.ExpireDue(ctx, startTime.UTC(), s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to expire overdue prescriptions: %w", err)
	}

	if len(expired) == 0 {
		if !s.sleep(ctx, SWEEP_CYCLE_INTERVAL) {
			return ctx.Err()
		}
		return nil
	}

	for _, prescription := range expired {
		s.pool.Submit(func() {
			s.publishExpiry(ctx, prescription.AssetID, prescription.ID)
		})
	}

	logger.InfoCtx(ctx, "Sweep cycle completed",
		zap.Duration("duration", s.clock.Since(startTime)),
		zap.Int("expired", len(expired)),
	)

	if len(expired) < s.config.BatchSize {
		if !s.sleep(ctx, SWEEP_CYCLE_INTERVAL) {
			return ctx.Err()
		}
	}

	return nil
}

// sleep sleeps for the given duration but can be interrupted by context
// cancellation or a stop request. Returns true if sleep completed normally.
func (s *expirySweeper) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-s.clock.After(duration):
		return true
	case <-ctx.Done():
		return false
	case <-s.stopChan:
		return false
	}
}

// publishExpiry emits an expiry event on a best-effort basis
func (s *expirySweeper) publishExpiry(ctx context.Context, assetID string, prescriptionID uint64) {
	if s.publisher == nil {
		return
	}

	event := &domain.LedgerEvent{
		EventID:        uuid.NewString(),
		Type:           domain.LedgerEventExpire,
		AssetID:        domain.AssetID(assetID),
		PrescriptionID: prescriptionID,
		Timestamp:      s.clock.Now().UTC(),
	}

	if err := s.publisher.PublishLedgerEvent(ctx, event); err != nil {
		logger.WarnCtx(ctx, "Failed to publish expiry event",
			zap.Error(err),
			zap.String("asset_id", assetID),
		)
	}
}
