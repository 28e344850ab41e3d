package entities

import (
	"github.com/google/uuid"
	"worker-stream/constant"
)

type Video struct {
	ID         uuid.UUID            `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	LocalPath  *string              `json:"local_path" gorm:"type:varchar(500)"`
	ObjectPath *string              `json:"object_path" gorm:"type:varchar(500)"`
	Duration   int                  `json:"duration" gorm:"type:integer;not null;default:0"`
	Status     constant.VideoStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
}

func (Video) TableName() string {
	return "videos"
}
