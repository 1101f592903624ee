package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Типы событий расчетов
const (
	CommissionCredited  = "commission_credited"
	WithdrawalRequested = "withdrawal_requested"
	WithdrawalApproved  = "withdrawal_approved"
	WithdrawalRejected  = "withdrawal_rejected"
	WithdrawalPaid      = "withdrawal_paid"
)

// SettlementEvent - событие об изменении денег создателя.
// Публикуется после фиксации транзакции.
type SettlementEvent struct {
	Type        string          `json:"type"`
	CreatorID   uuid.UUID       `json:"creator_id"`
	ReferenceID uuid.UUID       `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	NetAmount   decimal.Decimal `json:"net_amount,omitempty"`
	ActorID     *uuid.UUID      `json:"actor_id,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Publisher публикует события расчетов
type Publisher interface {
	Publish(ctx context.Context, event SettlementEvent) error
	Close() error
}

// KafkaPublisher публикует события в Kafka. Ключ сообщения - ID создателя,
// поэтому события одного создателя попадают в одну партицию по порядку.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher создает издателя событий
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("для публикации событий нужен хотя бы один брокер")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Publish отправляет событие
func (p *KafkaPublisher) Publish(ctx context.Context, event SettlementEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CreatorID.String()),
		Value: msg,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("ошибка публикации события %s: %w", event.Type, err)
	}

	p.logger.Debug("событие опубликовано",
		zap.String("type", event.Type),
		zap.String("creator_id", event.CreatorID.String()),
		zap.String("reference_id", event.ReferenceID.String()))
	return nil
}

// Close закрывает соединение с брокерами
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher отбрасывает события. Используется, когда Kafka выключена.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event SettlementEvent) error { return nil }
func (NopPublisher) Close() error                                          { return nil }

// PublishBestEffort публикует событие, не прерывая бизнес-операцию: ошибка только логируется.
func PublishBestEffort(ctx context.Context, p Publisher, event SettlementEvent, logger *zap.Logger) {
	if p == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Error("ошибка публикации события расчетов",
			zap.String("type", event.Type),
			zap.String("creator_id", event.CreatorID.String()),
			zap.Error(err))
	}
}
