package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"worker-stream/constant"
	"worker-stream/entities"
	"worker-stream/pkg/pidstore"
	"worker-stream/pkg/procstate"
)

type fakeRepo struct {
	mu       sync.Mutex
	streams  map[uuid.UUID]*entities.Stream
	channels map[uuid.UUID]*entities.Channel
	videos   map[uuid.UUID]*entities.Video

	endedCount  int
	cancelCount int

	// onFindStream runs under the lock on every stream lookup; tests
	// use it to flip status mid-loop.
	onFindStream func(*entities.Stream)
	// findStreamErr, when set, fails every stream lookup.
	findStreamErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		streams:  map[uuid.UUID]*entities.Stream{},
		channels: map[uuid.UUID]*entities.Channel{},
		videos:   map[uuid.UUID]*entities.Video{},
	}
}

func (r *fakeRepo) addStream(s *entities.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[s.ID] = s
}

func (r *fakeRepo) stream(id uuid.UUID) entities.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.streams[id]
}

func (r *fakeRepo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return callback(ctx)
}

func (r *fakeRepo) GetDB() *gorm.DB { return nil }

func (r *fakeRepo) FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findStreamErr != nil {
		return nil, r.findStreamErr
	}
	s, ok := r.streams[id]
	if !ok {
		return nil, fmt.Errorf("stream %s not found", id)
	}
	if r.onFindStream != nil {
		r.onFindStream(s)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) FindChannelById(ctx context.Context, id uuid.UUID) (*entities.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s not found", id)
	}
	cp := *v
	return &cp, nil
}

func (r *fakeRepo) FindDueScheduled(ctx context.Context, from, to time.Time) ([]*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Stream
	for _, s := range r.streams {
		if s.Status != constant.StreamStatusScheduled {
			continue
		}
		if s.StartTime.Before(from) || s.StartTime.After(to) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) FindLive(ctx context.Context) ([]*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Stream
	for _, s := range r.streams {
		if s.Status == constant.StreamStatusLive {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindStaleScheduled(ctx context.Context, cutoff time.Time) ([]*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Stream
	for _, s := range r.streams {
		if s.Status == constant.StreamStatusScheduled && s.StartTime.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ClaimLive(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok || s.Status != constant.StreamStatusScheduled {
		return false, nil
	}
	s.Status = constant.StreamStatusLive
	t := startedAt
	s.StartedAt = &t
	return true, nil
}

func (r *fakeRepo) CancelIfScheduled(ctx context.Context, id uuid.UUID, endedAt time.Time, errorMessage *string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok || s.Status != constant.StreamStatusScheduled {
		return false, nil
	}
	s.Status = constant.StreamStatusCancelled
	t := endedAt
	s.EndedAt = &t
	if errorMessage != nil {
		s.ErrorMessage = errorMessage
	}
	r.cancelCount++
	return true, nil
}

func (r *fakeRepo) EndIfLive(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok || s.Status != constant.StreamStatusLive {
		return false, nil
	}
	s.Status = constant.StreamStatusEnded
	t := endedAt
	s.EndedAt = &t
	r.endedCount++
	return true, nil
}

func (r *fakeRepo) MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	// The gorm repo surfaces a cancelled context before touching the
	// store; the fake does the same.
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok {
		return fmt.Errorf("stream %s not found", id)
	}
	s.Status = constant.StreamStatusEnded
	t := endedAt
	s.EndedAt = &t
	r.endedCount++
	return nil
}

func (r *fakeRepo) MarkCancelled(ctx context.Context, id uuid.UUID, endedAt time.Time, errorMessage *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok {
		return fmt.Errorf("stream %s not found", id)
	}
	s.Status = constant.StreamStatusCancelled
	t := endedAt
	s.EndedAt = &t
	s.ErrorMessage = errorMessage
	r.cancelCount++
	return nil
}

type fakePidStore struct {
	mu        sync.Mutex
	pids      map[uuid.UUID]int
	published []int
	cleared   int
}

func newFakePidStore() *fakePidStore {
	return &fakePidStore{pids: map[uuid.UUID]int{}}
}

func (p *fakePidStore) Publish(ctx context.Context, streamId uuid.UUID, pid int, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pids[streamId] = pid
	p.published = append(p.published, pid)
	return nil
}

func (p *fakePidStore) Lookup(ctx context.Context, streamId uuid.UUID) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pid, ok := p.pids[streamId]
	if !ok {
		return 0, pidstore.ErrNotFound
	}
	return pid, nil
}

func (p *fakePidStore) Clear(ctx context.Context, streamId uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pids, streamId)
	p.cleared++
	return nil
}

type fakeProc struct {
	mu       sync.Mutex
	pid      int
	done     chan struct{}
	exitCode int
	runDur   time.Duration
	state    procstate.State
	stderr   string
	killed   bool
}

// newExitedProc simulates a child that has already run for runDur and
// exited with code.
func newExitedProc(pid, code int, runDur time.Duration) *fakeProc {
	p := &fakeProc{pid: pid, done: make(chan struct{}), exitCode: code, runDur: runDur, state: procstate.StateGone}
	close(p.done)
	return p
}

// newLiveProc simulates a child still running in the given state.
func newLiveProc(pid int, state procstate.State) *fakeProc {
	return &fakeProc{pid: pid, done: make(chan struct{}), exitCode: -1, state: state}
}

func (p *fakeProc) Pid() int              { return p.pid }
func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *fakeProc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProc) RunDuration() time.Duration { return p.runDur }
func (p *fakeProc) Stderr() string             { return p.stderr }

func (p *fakeProc) State() (procstate.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Exited() {
		return procstate.StateGone, nil
	}
	return p.state, nil
}

func (p *fakeProc) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Exited() {
		p.killed = true
		p.exitCode = -1
		close(p.done)
	}
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
