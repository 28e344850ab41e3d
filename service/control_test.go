package service

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"worker-stream/constant"
	"worker-stream/entities"
)

type sentSignal struct {
	pid int
	sig syscall.Signal
}

type signalRecorder struct {
	mu      sync.Mutex
	signals []sentSignal
	// gone makes getpgid and kill report ESRCH.
	gone bool
	// diesOnTerm makes the process disappear once SIGTERM lands.
	diesOnTerm bool
}

func (r *signalRecorder) kill(pid int, sig syscall.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return syscall.ESRCH
	}
	r.signals = append(r.signals, sentSignal{pid: pid, sig: sig})
	return nil
}

func (r *signalRecorder) getpgid(pid int) (int, error) {
	if r.gone {
		return 0, syscall.ESRCH
	}
	return pid, nil
}

func (r *signalRecorder) alive(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return false
	}
	if r.diesOnTerm {
		for _, s := range r.signals {
			if s.sig == syscall.SIGTERM {
				return false
			}
		}
	}
	return true
}

func newTestControl(repo *fakeRepo, pids *fakePidStore) (*controlService, *signalRecorder) {
	rec := &signalRecorder{}
	c := &controlService{
		repo:     repo,
		pids:     pids,
		now:      time.Now,
		signal:   rec.kill,
		getpgid:  rec.getpgid,
		alive:    rec.alive,
		killWait: 0,
		sleep:    func(d time.Duration) {},
	}
	return c, rec
}

func TestKillWithNoTrackedPidIsNoop(t *testing.T) {
	repo := newFakeRepo()
	pids := newFakePidStore()
	c, rec := newTestControl(repo, pids)

	err := c.Kill(testCtx(), uuid.New())

	require.NoError(t, err)
	assert.Empty(t, rec.signals)
}

func TestKillSignalsProcessGroupAndClearsEntry(t *testing.T) {
	repo := newFakeRepo()
	pids := newFakePidStore()
	c, rec := newTestControl(repo, pids)

	streamId := uuid.New()
	pids.pids[streamId] = 500

	err := c.Kill(testCtx(), streamId)
	require.NoError(t, err)

	assert.Equal(t, []sentSignal{
		{pid: -500, sig: syscall.SIGTERM},
		{pid: -500, sig: syscall.SIGKILL},
	}, rec.signals)
	assert.Equal(t, 1, pids.cleared)
	_, ok := pids.pids[streamId]
	assert.False(t, ok)
}

func TestKillSkipsSigkillWhenTermSuffices(t *testing.T) {
	repo := newFakeRepo()
	pids := newFakePidStore()
	c, rec := newTestControl(repo, pids)
	rec.diesOnTerm = true

	streamId := uuid.New()
	pids.pids[streamId] = 500

	err := c.Kill(testCtx(), streamId)
	require.NoError(t, err)

	assert.Equal(t, []sentSignal{
		{pid: -500, sig: syscall.SIGTERM},
	}, rec.signals)
	assert.Equal(t, 1, pids.cleared)
}

func TestKillProcessAlreadyGone(t *testing.T) {
	repo := newFakeRepo()
	pids := newFakePidStore()
	c, rec := newTestControl(repo, pids)
	rec.gone = true

	streamId := uuid.New()
	pids.pids[streamId] = 500

	err := c.Kill(testCtx(), streamId)

	// Already-gone is success, and the stale entry still gets cleared.
	require.NoError(t, err)
	assert.Empty(t, rec.signals)
	assert.Equal(t, 1, pids.cleared)
}

func TestCancelScheduledStream(t *testing.T) {
	repo := newFakeRepo()
	pids := newFakePidStore()
	c, rec := newTestControl(repo, pids)

	stream := &entities.Stream{
		ID:        uuid.New(),
		StartTime: time.Now().Add(time.Hour),
		Status:    constant.StreamStatusScheduled,
	}
	repo.addStream(stream)

	err := c.Cancel(testCtx(), stream.ID)
	require.NoError(t, err)

	got := repo.stream(stream.ID)
	assert.Equal(t, constant.StreamStatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.NotNil(t, got.EndedAt)
	assert.Empty(t, rec.signals, "nothing to kill for a stream that never started")
}

func TestCancelLiveStreamEndsAndKills(t *testing.T) {
	repo := newFakeRepo()
	pids := newFakePidStore()
	c, rec := newTestControl(repo, pids)

	startedAt := time.Now().Add(-time.Minute)
	stream := &entities.Stream{
		ID:        uuid.New(),
		StartTime: startedAt,
		StartedAt: &startedAt,
		Duration:  600,
		Status:    constant.StreamStatusLive,
	}
	repo.addStream(stream)
	pids.pids[stream.ID] = 777

	err := c.Cancel(testCtx(), stream.ID)
	require.NoError(t, err)

	// A live stream that aired is recorded as ended, and its process
	// group gets the signal.
	got := repo.stream(stream.ID)
	assert.Equal(t, constant.StreamStatusEnded, got.Status)
	assert.NotNil(t, got.EndedAt)
	assert.NotEmpty(t, rec.signals)
	assert.Equal(t, -777, rec.signals[0].pid)
	assert.Equal(t, syscall.SIGTERM, rec.signals[0].sig)
}

func TestCancelFinishedStreamErrors(t *testing.T) {
	repo := newFakeRepo()
	pids := newFakePidStore()
	c, _ := newTestControl(repo, pids)

	ended := time.Now()
	stream := &entities.Stream{
		ID:      uuid.New(),
		Status:  constant.StreamStatusEnded,
		EndedAt: &ended,
	}
	repo.addStream(stream)

	err := c.Cancel(testCtx(), stream.ID)
	assert.Error(t, err)
}
