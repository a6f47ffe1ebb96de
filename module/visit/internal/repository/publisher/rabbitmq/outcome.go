package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/internal/repository/publisher"
)

var _ publisher.OutcomePublisher = (*OutcomePublisher)(nil)

const (
	ExchangeName = "spots.events"
	QueueName    = "visit_outcomes"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type OutcomePublisher struct {
	ch channel
}

func NewOutcomePublisher(conn *amqp.Connection) (*OutcomePublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(QueueName, "", ExchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &OutcomePublisher{ch: ch}, nil
}

type outcomeMessage struct {
	AttemptID          string  `json:"attempt_id"`
	UserID             string  `json:"user_id"`
	SpotID             string  `json:"spot_id"`
	Event              string  `json:"event"`
	Reason             string  `json:"reason,omitempty"`
	LastDistanceMeters float64 `json:"last_distance_meters"`
	Timestamp          int64   `json:"timestamp"`
}

func (p *OutcomePublisher) PublishOutcome(ctx context.Context, ev *domain.OutcomeEvent) error {
	msg := outcomeMessage{
		AttemptID:          ev.AttemptID,
		UserID:             ev.UserID,
		SpotID:             ev.SpotID,
		Event:              "visit_" + string(ev.Status),
		Reason:             string(ev.Reason),
		LastDistanceMeters: ev.LastDistanceMeters,
		Timestamp:          ev.Timestamp,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	return p.ch.PublishWithContext(ctx, ExchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.AttemptID,
		Body:         body,
	})
}
