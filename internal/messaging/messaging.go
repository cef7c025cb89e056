package messaging

import (
	"context"

	"github.com/medledger/rx-ledger/internal/domain"
)

// Publisher defines the interface for publishing ledger lifecycle events
//
//go:generate mockgen -source=messaging.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishLedgerEvent publishes a lifecycle event to the event stream
	PublishLedgerEvent(ctx context.Context, event *domain.LedgerEvent) error
	// Close closes the publisher and cleans up resources
	Close()
}
