package settlement

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
	"github.com/olucodehub/2aside-platform-sub000/libs/kafka"
)

const (
	SettlementRequestedEventType = "merge.settlement.requested"
	WalletCreditedEventType      = "merge.wallet.credited"
	ReferralQualifiedEventType   = "merge.referral.qualified"
)

// SettlementRequestedEvent asks for the funder-side wallet credit of one
// confirmed pair. The event id is deterministic per pair, so redeliveries and
// rescan republishes collapse onto the same idempotency key.
type SettlementRequestedEvent struct {
	kafka.Envelope
	PairID      string `json:"pair_id"`
	OwnerID     string `json:"owner_id"`
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	ConfirmedAt string `json:"confirmed_at"`
}

type WalletCreditedEvent struct {
	kafka.Envelope
	PairID   string `json:"pair_id"`
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type ReferralQualifiedEvent struct {
	kafka.Envelope
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	PairID   string `json:"pair_id"`
}

type PairLister interface {
	ListUnsettledConfirmed(ctx context.Context, confirmedBefore time.Time) ([]storage.PairView, error)
}

// Adapter is the settlement boundary: it turns confirmed pairs into
// settlement.requested events and re-requests settlement for confirmed pairs
// whose credit never landed.
type Adapter struct {
	store    PairLister
	producer kafka.Publisher
	topic    string
	logger   *slog.Logger
}

func NewAdapter(store PairLister, producer kafka.Publisher, topic string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		store:    store,
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// RequestSettlement publishes the settlement trigger for one confirmed pair.
func (a *Adapter) RequestSettlement(ctx context.Context, pair storage.PairView, correlationID string) error {
	if a.producer == nil {
		return fmt.Errorf("kafka producer not configured")
	}
	if pair.FunderOwnerID == nil {
		return fmt.Errorf("pair %s has no funder-side owner to credit", pair.ID)
	}

	confirmedAt := time.Now().UTC()
	if pair.ConfirmedAt != nil {
		confirmedAt = pair.ConfirmedAt.UTC()
	}

	eventID := kafka.DeterministicEventID(SettlementRequestedEventType, pair.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, SettlementRequestedEventType, 1, correlationID)
	if err != nil {
		return err
	}

	event := SettlementRequestedEvent{
		Envelope:    env,
		PairID:      pair.ID.String(),
		OwnerID:     pair.FunderOwnerID.String(),
		Currency:    string(pair.Currency),
		Amount:      pair.Amount.String(),
		ConfirmedAt: confirmedAt.Format(time.RFC3339),
	}

	if _, _, err := a.producer.PublishJSON(ctx, a.topic, pair.ID.String(), event); err != nil {
		return fmt.Errorf("publish settlement request: %w", err)
	}
	return nil
}

// Rescan republishes settlement requests for confirmed pairs still missing
// their credit. Grace keeps freshly confirmed pairs out while their first
// event is in flight.
func (a *Adapter) Rescan(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	pairs, err := a.store.ListUnsettledConfirmed(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	republished := 0
	for _, pair := range pairs {
		if pair.FunderOwnerID == nil {
			continue
		}
		if err := a.RequestSettlement(ctx, pair, ""); err != nil {
			a.logger.Error("settlement rescan publish failed", "pair_id", pair.ID, "error", err)
			continue
		}
		republished++
	}
	return republished, nil
}
