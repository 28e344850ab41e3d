package handler

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"worker-stream/constant"
	"worker-stream/dto"
	"worker-stream/service"
)

type ServiceDependencies struct {
	StreamService  service.StreamService
	ControlService service.ControlService
}

// StreamCommandHandler routes typed stream commands off the queue.
func StreamCommandHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	switch constant.StreamCommand(msg.RoutingKey) {
	case constant.CommandStartStream:
		var start dto.StartStreamMessage
		if err := json.Unmarshal(msg.Body, &start); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal start stream message")
			return err
		}

		zerolog.Ctx(ctx).Info().Str("stream_id", start.StreamId.String()).Msg("received start stream command")
		return deps.StreamService.Process(ctx, start)
	case constant.CommandKillStream:
		var kill dto.KillStreamMessage
		if err := json.Unmarshal(msg.Body, &kill); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal kill stream message")
			return err
		}

		zerolog.Ctx(ctx).Info().Str("stream_id", kill.StreamId.String()).Msg("received kill stream command")
		return deps.ControlService.Kill(ctx, kill.StreamId)
	default:
		return fmt.Errorf("unknown stream command %q", msg.RoutingKey)
	}
}
