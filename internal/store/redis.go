package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// DoneChannel receives the id of every saved run.
const DoneChannel = "vrpsplit:runs:done"

const (
	runIndex  = "vrpsplit:runs"
	runPrefix = "vrpsplit:run:"
)

// Redis keeps runs as JSON values indexed by a sorted set on creation
// time, and announces saved runs on DoneChannel.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{rdb: redis.NewClient(opt)}, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) SaveRun(ctx context.Context, run Run) (Run, error) {
	prepare(&run)
	data, err := json.Marshal(run)
	if err != nil {
		return Run{}, fmt.Errorf("save run: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, runPrefix+run.ID, data, 0)
		pipe.ZAdd(ctx, runIndex, redis.Z{Score: float64(run.CreatedAt.UnixMicro()), Member: run.ID})
		return nil
	})
	if err != nil {
		return Run{}, fmt.Errorf("save run %s: %w", run.ID, err)
	}
	if err := r.rdb.Publish(ctx, DoneChannel, run.ID).Err(); err != nil {
		return Run{}, fmt.Errorf("announce run %s: %w", run.ID, err)
	}
	return run, nil
}

func (r *Redis) GetRun(ctx context.Context, id string) (Run, error) {
	data, err := r.rdb.Get(ctx, runPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (r *Redis) ListRuns(ctx context.Context, cursor string, limit int) ([]Run, string, error) {
	limit = clampLimit(limit)
	var start int64
	if cursor != "" {
		rank, err := r.rdb.ZRank(ctx, runIndex, cursor).Result()
		if errors.Is(err, redis.Nil) {
			return nil, "", ErrNotFound
		}
		if err != nil {
			return nil, "", fmt.Errorf("list runs: %w", err)
		}
		start = rank + 1
	}
	ids, err := r.rdb.ZRange(ctx, runIndex, start, start+int64(limit)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}
	var next string
	if len(ids) > limit {
		ids = ids[:limit]
		next = ids[limit-1]
	}
	out := make([]Run, 0, len(ids))
	for _, id := range ids {
		run, err := r.GetRun(ctx, id)
		if err != nil {
			return nil, "", err
		}
		out = append(out, run)
	}
	return out, next, nil
}

// Subscribe returns the ids of runs saved from now on. The channel closes
// when ctx is done.
func (r *Redis) Subscribe(ctx context.Context) (<-chan string, error) {
	ps := r.rdb.Subscribe(ctx, DoneChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
