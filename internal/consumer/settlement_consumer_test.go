package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"log/slog"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/settlement"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
	"github.com/olucodehub/2aside-platform-sub000/libs/kafka"
)

type fakeWallet struct {
	credits []string
	applied bool
	err     error
}

func (f *fakeWallet) Credit(_ context.Context, _ uuid.UUID, _ engine.Currency, _ decimal.Decimal, idempotencyKey string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.credits = append(f.credits, idempotencyKey)
	return f.applied, nil
}

type fakeSettler struct {
	settled []uuid.UUID
	err     error
}

func (f *fakeSettler) MarkPairSettled(_ context.Context, pairID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.settled = append(f.settled, pairID)
	return nil
}

type fakeProducer struct {
	topics []string
}

func (f *fakeProducer) PublishJSON(_ context.Context, topic, _ string, _ any) (int32, int64, error) {
	f.topics = append(f.topics, topic)
	return 0, 1, nil
}

func (f *fakeProducer) Close() error { return nil }

func settlementMessage(t *testing.T, pairID uuid.UUID) *sarama.ConsumerMessage {
	t.Helper()
	env, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(settlement.SettlementRequestedEventType, pairID.String()),
		settlement.SettlementRequestedEventType, 1, "corr-1",
	)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	event := settlement.SettlementRequestedEvent{
		Envelope: env,
		PairID:   pairID.String(),
		OwnerID:  uuid.NewString(),
		Currency: "naira",
		Amount:   "1500",
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "merge.settlement.requested", Value: raw}
}

func TestHandleMessageCreditsAndSettles(t *testing.T) {
	wallet := &fakeWallet{applied: true}
	settler := &fakeSettler{}
	producer := &fakeProducer{}
	c := NewSettlementConsumer(wallet, settler, producer, slog.Default())

	pairID := uuid.New()
	if err := c.HandleMessage(context.Background(), settlementMessage(t, pairID)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(wallet.credits) != 1 || wallet.credits[0] != pairID.String() {
		t.Fatalf("credit must be keyed by pair id, got %v", wallet.credits)
	}
	if len(settler.settled) != 1 || settler.settled[0] != pairID {
		t.Fatalf("pair should be marked settled, got %v", settler.settled)
	}
	if len(producer.topics) != 2 {
		t.Fatalf("expected credited and referral events, got %v", producer.topics)
	}
	if producer.topics[0] != settlement.WalletCreditedEventType || producer.topics[1] != settlement.ReferralQualifiedEventType {
		t.Fatalf("unexpected topics %v", producer.topics)
	}
}

func TestHandleMessageReplaySkipsNotifications(t *testing.T) {
	wallet := &fakeWallet{applied: false}
	settler := &fakeSettler{}
	producer := &fakeProducer{}
	c := NewSettlementConsumer(wallet, settler, producer, slog.Default())

	if err := c.HandleMessage(context.Background(), settlementMessage(t, uuid.New())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(producer.topics) != 0 {
		t.Fatalf("replay must not re-notify, got %v", producer.topics)
	}
	if len(settler.settled) != 1 {
		t.Fatalf("replay still stamps the pair settled")
	}
}

func TestHandleMessageMalformedGoesToDLQ(t *testing.T) {
	c := NewSettlementConsumer(&fakeWallet{}, &fakeSettler{}, &fakeProducer{}, slog.Default())

	err := c.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")})
	var dlqErr *kafka.DLQError
	if !errors.As(err, &dlqErr) {
		t.Fatalf("expected DLQ error, got %v", err)
	}
}

func TestHandleMessageMissingWalletGoesToDLQ(t *testing.T) {
	wallet := &fakeWallet{err: settlement.ErrWalletNotFound}
	c := NewSettlementConsumer(wallet, &fakeSettler{}, &fakeProducer{}, slog.Default())

	err := c.HandleMessage(context.Background(), settlementMessage(t, uuid.New()))
	var dlqErr *kafka.DLQError
	if !errors.As(err, &dlqErr) {
		t.Fatalf("expected DLQ error, got %v", err)
	}
}

func TestHandleMessageTransientErrorRetries(t *testing.T) {
	wallet := &fakeWallet{err: errors.New("connection reset")}
	c := NewSettlementConsumer(wallet, &fakeSettler{}, &fakeProducer{}, slog.Default())

	err := c.HandleMessage(context.Background(), settlementMessage(t, uuid.New()))
	if err == nil {
		t.Fatalf("expected error")
	}
	var dlqErr *kafka.DLQError
	if errors.As(err, &dlqErr) {
		t.Fatalf("transient errors must not be routed to the DLQ")
	}
}

func TestHandleMessageLaggedPairStateIsTolerated(t *testing.T) {
	wallet := &fakeWallet{applied: true}
	settler := &fakeSettler{err: storage.ErrInvalidStatus}
	c := NewSettlementConsumer(wallet, settler, &fakeProducer{}, slog.Default())

	if err := c.HandleMessage(context.Background(), settlementMessage(t, uuid.New())); err != nil {
		t.Fatalf("lagged pair state should not fail the message: %v", err)
	}
}
