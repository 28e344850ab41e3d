// Package pidstore maps a stream id to the OS pid of its running remux
// process. The mapping lives in Redis so a request-handling process can
// locate and signal a child owned by an unrelated worker.
package pidstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Lookup when no pid is tracked for the
// stream. Absence is not the same as "stream not live": there is a short
// window between process launch and publication.
var ErrNotFound = errors.New("pidstore: no pid for stream")

type Store interface {
	Publish(ctx context.Context, streamId uuid.UUID, pid int, ttl time.Duration) error
	Lookup(ctx context.Context, streamId uuid.UUID) (int, error)
	Clear(ctx context.Context, streamId uuid.UUID) error
}

type store struct {
	client *redis.Client
}

func New(client *redis.Client) Store {
	return &store{client: client}
}

func key(streamId uuid.UUID) string {
	return fmt.Sprintf("stream:pid:%s", streamId)
}

func (s *store) Publish(ctx context.Context, streamId uuid.UUID, pid int, ttl time.Duration) error {
	return s.client.Set(ctx, key(streamId), strconv.Itoa(pid), ttl).Err()
}

func (s *store) Lookup(ctx context.Context, streamId uuid.UUID) (int, error) {
	val, err := s.client.Get(ctx, key(streamId)).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("pidstore: malformed pid %q: %w", val, err)
	}
	return pid, nil
}

func (s *store) Clear(ctx context.Context, streamId uuid.UUID) error {
	return s.client.Del(ctx, key(streamId)).Err()
}
