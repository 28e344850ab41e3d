package entities

import (
	"time"

	"github.com/google/uuid"
	"worker-stream/constant"
)

type Stream struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ChannelID *uuid.UUID `json:"channel_id" gorm:"type:uuid;index:idx_streams_channel_id"`
	VideoID   *uuid.UUID `json:"video_id" gorm:"type:uuid;index:idx_streams_video_id"`

	Title     string                `json:"title" gorm:"type:varchar(255)"`
	StartTime time.Time             `json:"start_time" gorm:"type:timestamptz;not null;index:idx_streams_start_time"`
	Duration  int                   `json:"duration" gorm:"type:integer;not null;default:0"`
	Status    constant.StreamStatus `json:"status" gorm:"type:varchar(20);not null;default:'scheduled';index:idx_streams_status"`

	StartedAt    *time.Time `json:"started_at" gorm:"type:timestamptz"`
	EndedAt      *time.Time `json:"ended_at" gorm:"type:timestamptz"`
	ErrorMessage *string    `json:"error_message" gorm:"type:text"`
	MaxViewers   int        `json:"max_viewers" gorm:"type:integer;default:0"`
	CreatedAt    time.Time  `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Stream) TableName() string {
	return "streams"
}
