package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-stream/repository"
)

const (
	promoteInterval = 30 * time.Second
	expireInterval  = 60 * time.Second
	staleInterval   = 60 * time.Second

	// promoteLookback catches streams a prior scheduler outage missed;
	// promoteHorizon keeps far-future rows out of the query.
	promoteLookback = 5 * time.Minute
	promoteHorizon  = 24 * time.Hour

	// expireGrace pads the expected end so the supervisor's own
	// completion path wins when it is alive.
	expireGrace = 10 * time.Second

	// staleCutoff: a scheduled stream this far past its start time was
	// never claimed and gets cancelled.
	staleCutoff = time.Hour
)

// Dispatcher is the slice of the queue publisher the scheduler needs.
type Dispatcher interface {
	EnqueueStartStream(ctx context.Context, streamId uuid.UUID) error
}

// Scheduler drives the periodic lifecycle duties. The duties share no
// state beyond the store and are idempotent, so any number of scheduler
// instances may run concurrently with any number of supervisors.
type Scheduler struct {
	repo     repository.StreamRepository
	dispatch dispatchFunc
	now      func() time.Time
}

type dispatchFunc func(ctx context.Context, streamId uuid.UUID) error

func NewScheduler(repo repository.StreamRepository, dispatch Dispatcher) *Scheduler {
	return &Scheduler{
		repo:     repo,
		dispatch: dispatch.EnqueueStartStream,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, executing each duty on its own
// cadence.
func (s *Scheduler) Run(ctx context.Context) {
	promote := time.NewTicker(promoteInterval)
	expire := time.NewTicker(expireInterval)
	stale := time.NewTicker(staleInterval)
	defer promote.Stop()
	defer expire.Stop()
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			s.PromoteDueStreams(ctx)
		case <-expire.C:
			s.ExpireLiveStreams(ctx)
		case <-stale.C:
			s.CancelStaleStreams(ctx)
		}
	}
}

// PromoteDueStreams dispatches a start request for every scheduled stream
// whose start time has arrived. Dispatch is fire-and-forget and may
// duplicate; the supervisor's claim step is the dedup point.
func (s *Scheduler) PromoteDueStreams(ctx context.Context) (checked, started int) {
	logger := zerolog.Ctx(ctx)
	now := s.now()

	streams, err := s.repo.FindDueScheduled(ctx, now.Add(-promoteLookback), now.Add(promoteHorizon))
	if err != nil {
		logger.Error().Err(err).Msg("failed to query scheduled streams")
		return 0, 0
	}

	for _, stream := range streams {
		if stream.StartTime.After(now) {
			continue
		}
		if err := s.dispatch(ctx, stream.ID); err != nil {
			logger.Error().Err(err).Str("stream_id", stream.ID.String()).Msg("failed to dispatch start request")
			continue
		}
		started++
	}

	logger.Info().Int("checked", len(streams)).Int("started", started).Msg("promoted due streams")
	return len(streams), started
}

// ExpireLiveStreams closes out live rows whose duration has elapsed. This
// is the safety net for supervisors that died without updating the store.
func (s *Scheduler) ExpireLiveStreams(ctx context.Context) (checked, ended int) {
	logger := zerolog.Ctx(ctx)
	now := s.now()

	streams, err := s.repo.FindLive(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to query live streams")
		return 0, 0
	}

	for _, stream := range streams {
		if stream.StartedAt == nil || stream.Duration <= 0 {
			continue
		}
		expectedEnd := stream.StartedAt.Add(time.Duration(stream.Duration) * time.Second)
		if now.Before(expectedEnd.Add(expireGrace)) {
			continue
		}
		if err := s.repo.MarkEnded(ctx, stream.ID, now); err != nil {
			logger.Error().Err(err).Str("stream_id", stream.ID.String()).Msg("failed to expire live stream")
			continue
		}
		logger.Info().Str("stream_id", stream.ID.String()).Msg("stream ended (duration expired)")
		ended++
	}

	logger.Info().Int("checked", len(streams)).Int("ended", ended).Msg("expired live streams")
	return len(streams), ended
}

// CancelStaleStreams cancels scheduled rows whose start time passed over
// an hour ago without any worker ever claiming them.
func (s *Scheduler) CancelStaleStreams(ctx context.Context) (checked, cancelled int) {
	logger := zerolog.Ctx(ctx)
	now := s.now()

	streams, err := s.repo.FindStaleScheduled(ctx, now.Add(-staleCutoff))
	if err != nil {
		logger.Error().Err(err).Msg("failed to query stale streams")
		return 0, 0
	}

	for _, stream := range streams {
		ok, err := s.repo.CancelIfScheduled(ctx, stream.ID, now, nil)
		if err != nil {
			logger.Error().Err(err).Str("stream_id", stream.ID.String()).Msg("failed to cancel stale stream")
			continue
		}
		if ok {
			logger.Info().Str("stream_id", stream.ID.String()).Time("start_time", stream.StartTime).Msg("auto-cancelled stale stream")
			cancelled++
		}
	}

	logger.Info().Int("checked", len(streams)).Int("cancelled", cancelled).Msg("cancelled stale streams")
	return len(streams), cancelled
}
