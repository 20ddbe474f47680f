package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/settlement"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
	"github.com/olucodehub/2aside-platform-sub000/libs/kafka"
)

type WalletCreditor interface {
	Credit(ctx context.Context, ownerID uuid.UUID, currency engine.Currency, amount decimal.Decimal, idempotencyKey string) (bool, error)
}

type PairSettler interface {
	MarkPairSettled(ctx context.Context, pairID uuid.UUID) error
}

// SettlementConsumer applies settlement.requested events: credit the funder's
// wallet once per pair, stamp the pair settled, and emit the downstream
// notifications. Redeliveries collapse on the wallet store's idempotency key,
// so the handler is safe under at-least-once delivery.
type SettlementConsumer struct {
	wallet   WalletCreditor
	store    PairSettler
	producer kafka.Publisher
	logger   *slog.Logger
}

func NewSettlementConsumer(wallet WalletCreditor, store PairSettler, producer kafka.Publisher, logger *slog.Logger) *SettlementConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementConsumer{
		wallet:   wallet,
		store:    store,
		producer: producer,
		logger:   logger,
	}
}

func (c *SettlementConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return fmt.Errorf("empty kafka message")
	}
	var event settlement.SettlementRequestedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode settlement request: %w", err), kafka.ReasonMalformed)
	}
	if err := validateSettlementEvent(&event); err != nil {
		return kafka.DLQ(err, kafka.ReasonInvalid)
	}

	pairID, err := parseUUID(event.PairID, "pair_id")
	if err != nil {
		return kafka.DLQ(err, kafka.ReasonInvalid)
	}
	ownerID, err := parseUUID(event.OwnerID, "owner_id")
	if err != nil {
		return kafka.DLQ(err, kafka.ReasonInvalid)
	}
	currency, err := engine.ParseCurrency(event.Currency)
	if err != nil {
		return kafka.DLQ(err, kafka.ReasonInvalid)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(event.Amount))
	if err != nil {
		return kafka.DLQ(fmt.Errorf("amount must be decimal"), kafka.ReasonInvalid)
	}

	applied, err := c.wallet.Credit(ctx, ownerID, currency, amount, event.PairID)
	if err != nil {
		if errors.Is(err, settlement.ErrWalletNotFound) {
			return kafka.DLQ(err, kafka.ReasonWalletMissing)
		}
		return err
	}
	if !applied {
		c.logger.Info("settlement already applied", "pair_id", event.PairID, "event_id", event.EventID)
	}

	if err := c.store.MarkPairSettled(ctx, pairID); err != nil {
		if !errors.Is(err, storage.ErrInvalidStatus) {
			return err
		}
		// the pair row lags the credit after a partial retry; the credit
		// itself is already idempotent
		c.logger.Warn("pair not in confirmable state while settling", "pair_id", event.PairID)
	}

	if applied {
		c.publishWalletCredited(ctx, &event)
		c.publishReferralQualified(ctx, &event)
	}
	return nil
}

func validateSettlementEvent(e *settlement.SettlementRequestedEvent) error {
	if err := e.Envelope.ExpectType(settlement.SettlementRequestedEventType); err != nil {
		return err
	}
	if strings.TrimSpace(e.PairID) == "" {
		return fmt.Errorf("pair_id is required")
	}
	if strings.TrimSpace(e.OwnerID) == "" {
		return fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(e.Amount) == "" {
		return fmt.Errorf("amount is required")
	}
	return nil
}

func (c *SettlementConsumer) publishWalletCredited(ctx context.Context, event *settlement.SettlementRequestedEvent) {
	if c.producer == nil {
		return
	}
	eventID := kafka.DeterministicEventID(settlement.WalletCreditedEventType, event.PairID)
	env, err := kafka.NewEnvelopeWithID(eventID, settlement.WalletCreditedEventType, 1, event.CorrelationID)
	if err != nil {
		c.logger.Error("build wallet credited envelope failed", "error", err)
		return
	}
	payload := settlement.WalletCreditedEvent{
		Envelope: env,
		PairID:   event.PairID,
		OwnerID:  event.OwnerID,
		Currency: event.Currency,
		Amount:   event.Amount,
	}
	if _, _, err := c.producer.PublishJSON(ctx, settlement.WalletCreditedEventType, event.OwnerID, payload); err != nil {
		c.logger.Error("publish wallet credited failed", "error", err)
	}
}

func (c *SettlementConsumer) publishReferralQualified(ctx context.Context, event *settlement.SettlementRequestedEvent) {
	if c.producer == nil {
		return
	}
	eventID := kafka.DeterministicEventID(settlement.ReferralQualifiedEventType, event.PairID)
	env, err := kafka.NewEnvelopeWithID(eventID, settlement.ReferralQualifiedEventType, 1, event.CorrelationID)
	if err != nil {
		c.logger.Error("build referral qualified envelope failed", "error", err)
		return
	}
	payload := settlement.ReferralQualifiedEvent{
		Envelope: env,
		OwnerID:  event.OwnerID,
		Currency: event.Currency,
		Amount:   event.Amount,
		PairID:   event.PairID,
	}
	if _, _, err := c.producer.PublishJSON(ctx, settlement.ReferralQualifiedEventType, event.OwnerID, payload); err != nil {
		c.logger.Error("publish referral qualified failed", "error", err)
	}
}

func parseUUID(value, field string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, fmt.Errorf("%s is required", field)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", field)
	}
	return parsed, nil
}
