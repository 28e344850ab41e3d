package dto

import "github.com/google/uuid"

type StartStreamMessage struct {
	StreamId uuid.UUID `json:"streamId"`
}

type KillStreamMessage struct {
	StreamId uuid.UUID `json:"streamId"`
}

type StreamStatusResponse struct {
	StreamId     uuid.UUID `json:"streamId"`
	Status       string    `json:"status"`
	StartedAt    *string   `json:"startedAt,omitempty"`
	EndedAt      *string   `json:"endedAt,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
}
