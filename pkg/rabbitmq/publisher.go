package rabbitmq

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"worker-stream/config"
	"worker-stream/constant"
	"worker-stream/dto"
)

// Dispatcher enqueues stream commands. Delivery is at-least-once and
// fire-and-forget; the supervisor's claim step absorbs duplicates.
type Dispatcher interface {
	EnqueueStartStream(ctx context.Context, streamId uuid.UUID) error
	EnqueueKillStream(ctx context.Context, streamId uuid.UUID) error
}

type publisher struct {
	conn *amqp.Connection
	cfg  *config.RabbitMQ
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) Dispatcher {
	return &publisher{conn: conn, cfg: cfg}
}

func (p *publisher) EnqueueStartStream(ctx context.Context, streamId uuid.UUID) error {
	return p.publish(ctx, constant.CommandStartStream, dto.StartStreamMessage{StreamId: streamId})
}

func (p *publisher) EnqueueKillStream(ctx context.Context, streamId uuid.UUID) error {
	return p.publish(ctx, constant.CommandKillStream, dto.KillStreamMessage{StreamId: streamId})
}

func (p *publisher) publish(ctx context.Context, cmd constant.StreamCommand, message interface{}) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(ExchangeName, p.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		return err
	}

	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx,
		ExchangeName,
		cmd.RoutingKey(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}
