package service

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-stream/constant"
	"worker-stream/pkg/pidstore"
	"worker-stream/pkg/procstate"
	"worker-stream/repository"
)

// ControlService cancels and kills streams from any process holding the
// store and the pid mapping, including one that never ran the supervisor.
type ControlService interface {
	Cancel(ctx context.Context, streamId uuid.UUID) error
	Kill(ctx context.Context, streamId uuid.UUID) error
}

type controlService struct {
	repo repository.StreamRepository
	pids pidstore.Store

	now      func() time.Time
	signal   func(pid int, sig syscall.Signal) error
	getpgid  func(pid int) (int, error)
	alive    func(pid int) bool
	killWait time.Duration
	sleep    func(d time.Duration)
}

func NewControlService(repo repository.StreamRepository, pids pidstore.Store) ControlService {
	return &controlService{
		repo:     repo,
		pids:     pids,
		now:      time.Now,
		signal:   syscall.Kill,
		getpgid:  syscall.Getpgid,
		alive:    procstate.Alive,
		killWait: 2 * time.Second,
		sleep:    time.Sleep,
	}
}

// Cancel stops a stream that has not finished. A scheduled stream goes
// straight to cancelled; a live one is recorded as ended (it did air) and
// its remux process is killed. The store transition happens before the
// kill attempt and is the authoritative record.
func (c *controlService) Cancel(ctx context.Context, streamId uuid.UUID) error {
	stream, err := c.repo.FindStreamById(ctx, streamId)
	if err != nil {
		return err
	}

	switch stream.Status {
	case constant.StreamStatusScheduled:
		if _, err := c.repo.CancelIfScheduled(ctx, streamId, c.now(), nil); err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().Str("stream_id", streamId.String()).Msg("scheduled stream cancelled")
		return nil
	case constant.StreamStatusLive:
		if _, err := c.repo.EndIfLive(ctx, streamId, c.now()); err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().Str("stream_id", streamId.String()).Msg("live stream stopped")
		return c.Kill(ctx, streamId)
	default:
		return fmt.Errorf("stream is not cancellable (status: %s)", stream.Status)
	}
}

// Kill terminates the remux process published for the stream, if any.
// Absence of a pid and an already-dead process are both successes: the
// supervisor's own monitoring may have beaten us to it.
func (c *controlService) Kill(ctx context.Context, streamId uuid.UUID) error {
	logger := zerolog.Ctx(ctx).With().Str("stream_id", streamId.String()).Logger()

	pid, err := c.pids.Lookup(ctx, streamId)
	if errors.Is(err, pidstore.ErrNotFound) {
		logger.Info().Msg("no pid tracked, nothing to kill")
		return nil
	}
	if err != nil {
		return err
	}

	c.killProcessGroup(&logger, pid)

	if err := c.pids.Clear(ctx, streamId); err != nil {
		logger.Warn().Err(err).Msg("failed to clear pid entry")
	}
	return nil
}

// killProcessGroup signals the whole group so ffmpeg's own children die
// with it: SIGTERM first, a short wait, then SIGKILL. ESRCH everywhere
// means the process is already gone, which is fine.
func (c *controlService) killProcessGroup(logger *zerolog.Logger, pid int) {
	target := -pid
	if pgid, err := c.getpgid(pid); err == nil {
		target = -pgid
	} else if errors.Is(err, syscall.ESRCH) {
		logger.Info().Int("pid", pid).Msg("process already gone")
		return
	}

	if err := c.signal(target, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			logger.Info().Int("pid", pid).Msg("process already gone")
			return
		}
		// Group signal failed for another reason; try the process
		// directly.
		if err := c.signal(pid, syscall.SIGTERM); err != nil {
			logger.Warn().Err(err).Int("pid", pid).Msg("failed to signal process")
			return
		}
	}
	logger.Info().Int("pid", pid).Msg("sent SIGTERM")

	c.sleep(c.killWait)

	if !c.alive(pid) {
		logger.Info().Int("pid", pid).Msg("process exited after SIGTERM")
	} else if err := c.signal(target, syscall.SIGKILL); err == nil {
		logger.Info().Int("pid", pid).Msg("sent SIGKILL")
	}

	// Reap if the child happens to be ours; from an unrelated process
	// Wait4 fails with ECHILD and the zombie is the parent's problem.
	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
}
