package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize       = 50
	BatchTimeout    = 2 * time.Second
	PollTimeout     = 1 * time.Second // Must be >= 1s to satisfy Redis
	ShutdownTimeout = 5 * time.Second
	requeuePause    = 2 * time.Second
	redisErrorPause = 3 * time.Second
)

// batchLoop drains one Redis list into batches of T. flush reports the
// items that could not be persisted; those go back on the queue.
type batchLoop[T any] struct {
	rdb   *redis.Client
	queue string
	size  int
	log   zerolog.Logger
	flush func(ctx context.Context, batch []*T) (failed []*T)
}

func (l *batchLoop[T]) run(ctx context.Context) {
	size := l.size
	if size <= 0 {
		size = BatchSize
	}
	buffer := make([]*T, 0, size)
	lastFlush := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 && (len(buffer) >= size || time.Since(lastFlush) >= BatchTimeout) {
			l.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			l.shutdown(buffer)
			return
		default:
		}

		// 3. BLPop blocks for PollTimeout and returns immediately if data exists.
		result, err := l.rdb.BLPop(ctx, PollTimeout, l.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			l.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, redisErrorPause)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			// Malformed JSON can never succeed; discard it.
			l.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, &item)
	}
}

func (l *batchLoop[T]) flushSafe(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}
	if failed := l.flush(ctx, batch); len(failed) > 0 {
		l.requeue(ctx, failed)
	}
}

func (l *batchLoop[T]) requeue(ctx context.Context, items []*T) {
	pipe := l.rdb.Pipeline()
	for _, it := range items {
		data, _ := json.Marshal(it)
		pipe.RPush(ctx, l.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	l.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleepCtx(ctx, requeuePause)
}

func (l *batchLoop[T]) shutdown(buffer []*T) {
	l.log.Info().Msg("Worker stopping, flushing remaining buffer...")
	if len(buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	l.flushSafe(ctx, buffer)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// uuidArray converts ids for binary array parameters and COPY rows.
func uuidArray(ids []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		u, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}
