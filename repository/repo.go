package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"worker-stream/constant"
	"worker-stream/entities"
)

type StreamRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB
	FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error)
	FindChannelById(ctx context.Context, id uuid.UUID) (*entities.Channel, error)
	FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error)
	FindDueScheduled(ctx context.Context, from, to time.Time) ([]*entities.Stream, error)
	FindLive(ctx context.Context) ([]*entities.Stream, error)
	FindStaleScheduled(ctx context.Context, cutoff time.Time) ([]*entities.Stream, error)

	// ClaimLive is the compare-and-set transition scheduled -> live. It
	// reports false when another claimant already moved the row out of
	// scheduled.
	ClaimLive(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	CancelIfScheduled(ctx context.Context, id uuid.UUID, endedAt time.Time, errorMessage *string) (bool, error)
	EndIfLive(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error)
	MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID, endedAt time.Time, errorMessage *string) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) StreamRepository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB().Transaction(func(tx *gorm.DB) error {
		return callback(ctx)
	}, opts...)
}

func (r *repo) FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	stream := &entities.Stream{}
	err := r.GetDB().WithContext(ctx).First(stream, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return stream, nil
}

func (r *repo) FindChannelById(ctx context.Context, id uuid.UUID) (*entities.Channel, error) {
	channel := &entities.Channel{}
	err := r.GetDB().WithContext(ctx).First(channel, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return channel, nil
}

func (r *repo) FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.GetDB().WithContext(ctx).First(video, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return video, nil
}

func (r *repo) FindDueScheduled(ctx context.Context, from, to time.Time) ([]*entities.Stream, error) {
	var streams []*entities.Stream
	err := r.GetDB().WithContext(ctx).
		Where("status = ? AND start_time >= ? AND start_time <= ?", constant.StreamStatusScheduled, from, to).
		Order("start_time ASC").
		Find(&streams).Error
	if err != nil {
		return nil, err
	}
	return streams, nil
}

func (r *repo) FindLive(ctx context.Context) ([]*entities.Stream, error) {
	var streams []*entities.Stream
	err := r.GetDB().WithContext(ctx).
		Where("status = ?", constant.StreamStatusLive).
		Find(&streams).Error
	if err != nil {
		return nil, err
	}
	return streams, nil
}

func (r *repo) FindStaleScheduled(ctx context.Context, cutoff time.Time) ([]*entities.Stream, error) {
	var streams []*entities.Stream
	err := r.GetDB().WithContext(ctx).
		Where("status = ? AND start_time < ?", constant.StreamStatusScheduled, cutoff).
		Find(&streams).Error
	if err != nil {
		return nil, err
	}
	return streams, nil
}

func (r *repo) ClaimLive(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	res := r.GetDB().WithContext(ctx).Model(&entities.Stream{}).
		Where("id = ? AND status = ?", id, constant.StreamStatusScheduled).
		Updates(map[string]interface{}{
			"status":     constant.StreamStatusLive,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) CancelIfScheduled(ctx context.Context, id uuid.UUID, endedAt time.Time, errorMessage *string) (bool, error) {
	updates := map[string]interface{}{
		"status":   constant.StreamStatusCancelled,
		"ended_at": endedAt,
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	res := r.GetDB().WithContext(ctx).Model(&entities.Stream{}).
		Where("id = ? AND status = ?", id, constant.StreamStatusScheduled).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) EndIfLive(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	res := r.GetDB().WithContext(ctx).Model(&entities.Stream{}).
		Where("id = ? AND status = ?", id, constant.StreamStatusLive).
		Updates(map[string]interface{}{
			"status":   constant.StreamStatusEnded,
			"ended_at": endedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	return r.GetDB().WithContext(ctx).Model(&entities.Stream{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   constant.StreamStatusEnded,
			"ended_at": endedAt,
		}).Error
}

func (r *repo) MarkCancelled(ctx context.Context, id uuid.UUID, endedAt time.Time, errorMessage *string) error {
	updates := map[string]interface{}{
		"status":   constant.StreamStatusCancelled,
		"ended_at": endedAt,
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	return r.GetDB().WithContext(ctx).Model(&entities.Stream{}).
		Where("id = ?", id).
		Updates(updates).Error
}
