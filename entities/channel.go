package entities

import "github.com/google/uuid"

type Channel struct {
	ID      uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name    string    `json:"name" gorm:"type:varchar(200)"`
	RtmpURL *string   `json:"rtmp_url" gorm:"type:varchar(500)"`
	RtmpKey *string   `json:"rtmp_key" gorm:"type:varchar(500)"`
}

func (Channel) TableName() string {
	return "channels"
}
