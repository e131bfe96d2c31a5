package batchstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/domain"
	"github.com/you-humble/amazonmain/batcher/internal/queue"

	"github.com/redis/go-redis/v9"
)

type redisBatchStore struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

// NewRedisBatchStore mirrors batch snapshots into redis. Every key of a batch
// expires ttl after its last save.
func NewRedisBatchStore(rdb redis.Cmdable, ttl time.Duration) *redisBatchStore {
	return &redisBatchStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func (s *redisBatchStore) Save(ctx context.Context, snap queue.Snapshot) error {
	if snap.BatchID == "" {
		return fmt.Errorf("snapshot has no batch id")
	}

	bk := batchKey(snap.BatchID)
	ordk := orderKey(snap.BatchID)
	now := s.now()

	created, err := s.rdb.HGet(ctx, bk, "created_at").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis read batch: %w", err)
	}
	createdAt := now
	if n, err := strconv.ParseInt(created, 10, 64); err == nil {
		createdAt = time.Unix(0, n)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, bk, map[string]any{
		"phase":      string(snap.Phase),
		"cursor":     snap.Cursor,
		"running":    strconv.FormatBool(snap.Running),
		"paused":     strconv.FormatBool(snap.Paused),
		"created_at": createdAt.UnixNano(),
		"updated_at": now.UnixNano(),
	})

	pipe.Del(ctx, ordk)
	for _, it := range snap.Items {
		ik := itemKey(snap.BatchID, it.ID)
		pipe.RPush(ctx, ordk, it.ID)
		pipe.Del(ctx, ik)
		pipe.HSet(ctx, ik, itemFields(it))
		pipe.Expire(ctx, ik, s.ttl)
	}
	pipe.Expire(ctx, bk, s.ttl)
	pipe.Expire(ctx, ordk, s.ttl)
	pipe.ZAdd(ctx, batchesByCreatedKey(), redis.Z{
		Score:  float64(createdAt.Unix()),
		Member: snap.BatchID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save batch: %w", err)
	}
	return nil
}

// Snapshot loads a saved batch. The bool is false when the batch is unknown
// or already expired.
func (s *redisBatchStore) Snapshot(ctx context.Context, id string) (queue.Snapshot, bool, error) {
	res, err := s.rdb.HGetAll(ctx, batchKey(id)).Result()
	if err != nil {
		return queue.Snapshot{}, false, fmt.Errorf("redis read batch: %w", err)
	}
	if len(res) == 0 {
		return queue.Snapshot{}, false, nil
	}

	snap := queue.Snapshot{
		BatchID: id,
		Phase:   queue.Phase(res["phase"]),
		Cursor:  -1,
	}
	if n, err := strconv.Atoi(res["cursor"]); err == nil {
		snap.Cursor = n
	}
	snap.Running, _ = strconv.ParseBool(res["running"])
	snap.Paused, _ = strconv.ParseBool(res["paused"])

	ids, err := s.rdb.LRange(ctx, orderKey(id), 0, -1).Result()
	if err != nil {
		return queue.Snapshot{}, false, fmt.Errorf("redis read order: %w", err)
	}

	snap.Items = make([]domain.QueueItem, 0, len(ids))
	for _, itemID := range ids {
		fields, err := s.rdb.HGetAll(ctx, itemKey(id, itemID)).Result()
		if err != nil {
			return queue.Snapshot{}, false, fmt.Errorf("redis read item: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		snap.Items = append(snap.Items, parseItem(itemID, fields))
	}

	return snap, true, nil
}

// Recent returns up to limit batch ids, newest first.
func (s *redisBatchStore) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := s.rdb.ZRevRange(ctx, batchesByCreatedKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recent batches: %w", err)
	}
	return ids, nil
}

// DeleteOlderThan drops batches created before now-ttl and returns how many
// were removed.
func (s *redisBatchStore) DeleteOlderThan(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	border := now.Add(-ttl).Unix()

	ids, err := s.rdb.ZRangeByScore(ctx, batchesByCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(border),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis old batches: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		itemIDs, err := s.rdb.LRange(ctx, orderKey(id), 0, -1).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis read order: %w", err)
		}

		pipe := s.rdb.TxPipeline()
		for _, itemID := range itemIDs {
			pipe.Del(ctx, itemKey(id, itemID))
		}
		pipe.Del(ctx, batchKey(id), orderKey(id))
		pipe.ZRem(ctx, batchesByCreatedKey(), id)

		if _, err := pipe.Exec(ctx); err == nil {
			deleted++
		}
	}

	return deleted, nil
}

func itemFields(it domain.QueueItem) map[string]any {
	return map[string]any{
		"source_ref":  it.SourceRef,
		"result_ref":  it.ResultRef,
		"status":      string(it.Status),
		"error":       it.Error,
		"error_kind":  string(it.ErrorKind),
		"attempts":    it.Attempts,
		"enqueued_at": it.EnqueuedAt.UnixNano(),
		"updated_at":  it.UpdatedAt.UnixNano(),
	}
}

func parseItem(id string, res map[string]string) domain.QueueItem {
	it := domain.QueueItem{
		ID:        id,
		SourceRef: res["source_ref"],
		ResultRef: res["result_ref"],
		Status:    domain.Status(res["status"]),
		Error:     res["error"],
		ErrorKind: domain.ErrorKind(res["error_kind"]),
	}

	if n, err := strconv.Atoi(res["attempts"]); err == nil {
		it.Attempts = n
	}
	if v, ok := res["enqueued_at"]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			it.EnqueuedAt = time.Unix(0, n)
		}
	}
	if v, ok := res["updated_at"]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			it.UpdatedAt = time.Unix(0, n)
		}
	}

	return it
}

func batchKey(id string) string {
	return "batch:" + id
}

func orderKey(id string) string {
	return "batch:" + id + ":items"
}

func itemKey(batchID, itemID string) string {
	return "batch:" + batchID + ":item:" + itemID
}

func batchesByCreatedKey() string {
	return "batches:by_created"
}
