package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-stream/config"
	"worker-stream/constant"
	"worker-stream/dto"
	"worker-stream/entities"
	"worker-stream/pkg/pidstore"
	"worker-stream/pkg/procstate"
	"worker-stream/pkg/remux"
	"worker-stream/repository"
)

var ErrNonRetryable = errors.New("non-retryable error")

// startWindow is how long past its start time a scheduled stream is still
// worth starting.
const startWindow = 10 * time.Minute

type StreamService interface {
	Process(ctx context.Context, message dto.StartStreamMessage) error
}

// runningProcess is the slice of remux.Process the resume loop depends
// on; tests substitute scripted fakes.
type runningProcess interface {
	Pid() int
	Done() <-chan struct{}
	Exited() bool
	ExitCode() int
	RunDuration() time.Duration
	Stderr() string
	State() (procstate.State, error)
	Terminate()
}

type streamService struct {
	repo repository.StreamRepository
	pids pidstore.Store
	cfg  *config.Config

	launch  func(spec remux.LaunchSpec) (runningProcess, error)
	probe   func(ctx context.Context, path string) (float64, error)
	fetcher sourceFetcher
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
	tick    func(d time.Duration) <-chan time.Time
}

func NewStreamService(repo repository.StreamRepository, pids pidstore.Store, cfg *config.Config) StreamService {
	s := &streamService{
		repo: repo,
		pids: pids,
		cfg:  cfg,
		launch: func(spec remux.LaunchSpec) (runningProcess, error) {
			return remux.Launch(spec)
		},
		fetcher: &minioFetcher{client: cfg.Storage, bucket: cfg.MinIOBucket},
		now:     time.Now,
		tick:    func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
	s.probe = func(ctx context.Context, path string) (float64, error) {
		return ProbeDuration(ctx, path, cfg.Stream.ProbeTimeout)
	}
	s.sleep = func(ctx context.Context, d time.Duration) {
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
	}
	return s
}

// Process handles one start request end to end: claim and validate the
// stream, go live, then run the resume loop until the broadcast completes
// or is stopped. Any error past the claim point is recorded on the stream
// row rather than propagated; the worker itself never crashes over a
// single stream.
func (s *streamService) Process(ctx context.Context, message dto.StartStreamMessage) (err error) {
	logger := zerolog.Ctx(ctx).With().Str("stream_id", message.StreamId.String()).Logger()
	ctx = logger.WithContext(ctx)

	claimed := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("stream supervisor panicked")
			if claimed {
				s.failStream(ctx, message.StreamId, fmt.Sprintf("internal error: %v", r))
			} else {
				s.failScheduled(ctx, message.StreamId, fmt.Sprintf("internal error: %v", r))
			}
			err = nil
		}
	}()

	stream, err := s.repo.FindStreamById(ctx, message.StreamId)
	if err != nil {
		logger.Error().Err(err).Msg("stream not found")
		return err
	}

	// De-duplication point for at-least-once dispatch: anything other
	// than scheduled means another dispatch claimed it or it was
	// cancelled, and this one aborts silently.
	if stream.Status != constant.StreamStatusScheduled {
		logger.Info().Str("status", stream.Status.String()).Msg("stream is not scheduled, skipping")
		return nil
	}

	if elapsed := s.now().Sub(stream.StartTime); elapsed > startWindow {
		logger.Warn().Dur("elapsed", elapsed).Msg("start window expired, cancelling")
		s.failScheduled(ctx, stream.ID, "start window expired before the stream could be claimed")
		return nil
	}

	spec, cleanup, duration, failMsg := s.validate(ctx, stream)
	defer cleanup()
	if failMsg != "" {
		logger.Error().Str("reason", failMsg).Msg("stream preconditions failed, cancelling")
		s.failScheduled(ctx, stream.ID, failMsg)
		return nil
	}

	claimed, err = s.repo.ClaimLive(ctx, stream.ID, s.now())
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim stream")
		return err
	}
	if !claimed {
		logger.Info().Msg("stream already claimed, skipping")
		return nil
	}

	logger.Info().
		Str("destination", spec.MaskedDestination()).
		Float64("duration", duration).
		Msg("stream is live")

	if err := s.runResumeLoop(ctx, stream.ID, spec, duration); err != nil {
		if errors.Is(err, ErrNonRetryable) {
			logger.Error().Err(err).Msg("stream failed")
			s.failStream(ctx, stream.ID, err.Error())
			return nil
		}
		// Transient store failure: leave the row live and surface the
		// error; the expiry duty settles the row once it passes its
		// end time.
		logger.Error().Err(err).Msg("stream errored, leaving row live")
		return err
	}
	return nil
}

// validate resolves the channel and video and probes the source file.
// A non-empty failMsg is a fatal precondition failure.
func (s *streamService) validate(ctx context.Context, stream *entities.Stream) (spec remux.LaunchSpec, cleanup func(), duration float64, failMsg string) {
	cleanup = func() {}

	if stream.ChannelID == nil {
		return spec, cleanup, 0, "stream has no channel"
	}
	channel, err := s.repo.FindChannelById(ctx, *stream.ChannelID)
	if err != nil || channel.RtmpURL == nil || *channel.RtmpURL == "" || channel.RtmpKey == nil || *channel.RtmpKey == "" {
		return spec, cleanup, 0, fmt.Sprintf("channel %s missing RTMP config", stream.ChannelID)
	}

	if stream.VideoID == nil {
		return spec, cleanup, 0, "stream has no video"
	}
	video, err := s.repo.FindVideoById(ctx, *stream.VideoID)
	if err != nil || video.Status != constant.VideoStatusReady {
		return spec, cleanup, 0, fmt.Sprintf("video %s not ready", stream.VideoID)
	}

	sourcePath, cleanup, err := resolveSourceFile(ctx, s.cfg, s.fetcher, stream.ID, video)
	if err != nil {
		return spec, cleanup, 0, err.Error()
	}

	duration, err = s.probe(ctx, sourcePath)
	if err != nil {
		return spec, cleanup, 0, fmt.Sprintf("could not probe video duration: %v", err)
	}
	if duration <= 0 {
		return spec, cleanup, 0, fmt.Sprintf("probed non-positive duration %.2f for %s", duration, sourcePath)
	}

	spec = remux.LaunchSpec{
		FfmpegBin: s.cfg.Stream.FfmpegBin,
		InputPath: sourcePath,
		RtmpURL:   *channel.RtmpURL,
		RtmpKey:   *channel.RtmpKey,
	}
	return spec, cleanup, duration, ""
}

// runResumeLoop delivers the source to the RTMP destination across as
// many child launches as it takes, resuming each attempt at the
// cumulative offset already played out. There is no attempt cap: as long
// as the network allows forward progress the stream eventually finishes.
func (s *streamService) runResumeLoop(ctx context.Context, streamId uuid.UUID, spec remux.LaunchSpec, totalDuration float64) error {
	logger := zerolog.Ctx(ctx)

	offset := 0.0
	attempt := 0

	defer func() {
		if err := s.pids.Clear(context.WithoutCancel(ctx), streamId); err != nil {
			logger.Warn().Err(err).Msg("failed to clear pid entry")
		}
	}()

	for offset < totalDuration {
		attempt++

		stream, err := s.repo.FindStreamById(ctx, streamId)
		if err != nil {
			return fmt.Errorf("lost stream row mid-broadcast: %w", err)
		}
		if stream.Status != constant.StreamStatusLive {
			logger.Info().Str("status", stream.Status.String()).Msg("status changed, stopping resume loop")
			break
		}

		spec.Offset = offset
		logger.Info().
			Int("attempt", attempt).
			Float64("offset", offset).
			Float64("remaining", totalDuration-offset).
			Msg("launching remux attempt")

		proc, err := s.launch(spec)
		if err != nil {
			return errors.Join(ErrNonRetryable, fmt.Errorf("failed to launch remux process: %w", err))
		}

		if err := s.pids.Publish(ctx, streamId, proc.Pid(), s.cfg.Stream.PidTTL); err != nil {
			// The stream can still run; it just cannot be killed
			// from outside until the next attempt republishes.
			logger.Warn().Err(err).Int("pid", proc.Pid()).Msg("failed to publish pid")
		} else {
			logger.Info().Int("pid", proc.Pid()).Msg("remux process started")
		}

		stopped := s.monitor(ctx, streamId, proc)

		runDuration := proc.RunDuration().Seconds()
		offset += runDuration
		exitCode := proc.ExitCode()

		logger.Info().
			Int("attempt", attempt).
			Int("exit_code", exitCode).
			Float64("run_duration", runDuration).
			Float64("offset", offset).
			Msg("remux attempt finished")

		if offset >= totalDuration {
			logger.Info().Int("attempts", attempt).Msg("stream completed")
			return s.finishStream(ctx, streamId)
		}

		if stopped {
			break
		}

		if exitCode == 0 {
			// Completed cleanly but short of the probed duration.
			// Not success; loop again from the new offset.
			logger.Warn().Float64("offset", offset).Msg("remux exited cleanly before reaching full duration")
			continue
		}

		if stderr := proc.Stderr(); stderr != "" {
			logger.Error().Str("stderr", tail(stderr, 500)).Msg("remux attempt failed")
		}

		delay := retryDelay(attempt, s.cfg.Stream.MaxRetryDelay)
		logger.Info().Dur("delay", delay).Msg("retrying after backoff")
		s.sleep(ctx, delay)
	}

	// Stopped before completion (cancelled mid-broadcast or shutdown).
	// The stream did air, so it is recorded as ended.
	logger.Warn().Float64("offset", offset).Float64("duration", totalDuration).Msg("stream stopped before completing")
	return s.finishStream(ctx, streamId)
}

// monitor watches one child until it exits, terminating it early when the
// stream is no longer live or the child is found suspended or zombie.
// It reports true when the loop should stop retrying (external stop).
// A quiet child in a normal run state is never killed: silence alone is
// not a stall signal.
func (s *streamService) monitor(ctx context.Context, streamId uuid.UUID, proc runningProcess) (stopped bool) {
	logger := zerolog.Ctx(ctx)

	for {
		select {
		case <-proc.Done():
			return false
		case <-ctx.Done():
			logger.Info().Msg("worker shutting down, terminating remux process")
			proc.Terminate()
			return true
		case <-s.tick(s.cfg.Stream.PollInterval):
		}

		if proc.Exited() {
			return false
		}

		stream, err := s.repo.FindStreamById(ctx, streamId)
		if err == nil && stream.Status != constant.StreamStatusLive {
			logger.Info().Str("status", stream.Status.String()).Msg("status changed, terminating remux process")
			proc.Terminate()
			return true
		}

		state, err := proc.State()
		if err != nil {
			continue
		}
		switch state {
		case procstate.StateSuspended, procstate.StateZombie:
			logger.Warn().Str("state", string(state)).Int("pid", proc.Pid()).Msg("remux process stalled, killing for restart")
			proc.Terminate()
			return false
		}
	}
}

// finishStream records the stream as ended. It runs on worker shutdown
// too, so the write must survive the cancelled context.
func (s *streamService) finishStream(ctx context.Context, streamId uuid.UUID) error {
	if err := s.repo.MarkEnded(context.WithoutCancel(ctx), streamId, s.now()); err != nil {
		return fmt.Errorf("failed to mark stream ended: %w", err)
	}
	return nil
}

// failScheduled records a failure that happened before the claim. The
// conditional update means a dispatch that lost the claim race cannot
// stomp the winner's live row.
func (s *streamService) failScheduled(ctx context.Context, streamId uuid.UUID, message string) {
	ctx = context.WithoutCancel(ctx)
	ok, err := s.repo.CancelIfScheduled(ctx, streamId, s.now(), &message)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to mark stream cancelled")
		return
	}
	if !ok {
		zerolog.Ctx(ctx).Info().Msg("stream no longer scheduled, leaving row untouched")
	}
}

// failStream records a fatal failure after the claim: cancelled with a
// message, pid entry cleared. Store errors here are logged and
// swallowed; there is nothing above to surface them to.
func (s *streamService) failStream(ctx context.Context, streamId uuid.UUID, message string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.MarkCancelled(ctx, streamId, s.now(), &message); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to mark stream cancelled")
	}
	if err := s.pids.Clear(ctx, streamId); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to clear pid entry")
	}
}

// retryDelay is the resume backoff: min(2^(attempt-1), cap) seconds.
func retryDelay(attempt int, max time.Duration) time.Duration {
	exp := math.Pow(2, float64(attempt-1))
	delay := time.Duration(exp * float64(time.Second))
	if exp >= max.Seconds() || delay > max {
		return max
	}
	return delay
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
