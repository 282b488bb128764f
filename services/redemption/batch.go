package redemption

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"giftops/pkg/progress"
	"giftops/pkg/rediskey"
	"giftops/services/alliance"
)

// BatchStatus is the per-alliance state inside a batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchError      BatchStatus = "error"
)

// batchSnapshotTTL keeps the last published snapshot readable after the
// in-memory entry is discarded.
const batchSnapshotTTL = 24 * time.Hour

type batchEntry struct {
	allianceID     string
	name           string
	status         BatchStatus
	codesCompleted int
	lastFailed     bool
}

type batch struct {
	id         string
	totalCodes int
	order      []string
	entries    map[string]*batchEntry
}

// BatchTracker aggregates progress for multi-code, multi-alliance
// redemption batches. Tasks report in as the single queue consumer reaches
// them; the tracker folds each report into one consolidated snapshot and
// republishes it after every update. State is in-memory with a best-effort
// redis mirror for external readers.
type BatchTracker struct {
	mu      sync.Mutex
	batches map[string]*batch

	node *snowflake.Node
	pub  progress.Publisher
	rdb  *redis.Client
}

type BatchTrackerParams struct {
	fx.In
	Node      *snowflake.Node
	Publisher progress.Publisher
	Redis     *redis.Client `optional:"true"`
}

func NewBatchTracker(p BatchTrackerParams) *BatchTracker {
	return &BatchTracker{
		batches: make(map[string]*batch),
		node:    p.Node,
		pub:     p.Publisher,
		rdb:     p.Redis,
	}
}

// Create registers a new batch over the given codes and alliances and
// returns its id. Every alliance starts pending with zero codes completed.
func (t *BatchTracker) Create(ctx context.Context, codes []string, alliances []alliance.Alliance) string {
	b := &batch{
		id:         t.node.Generate().String(),
		totalCodes: len(codes),
		entries:    make(map[string]*batchEntry, len(alliances)),
	}
	for _, a := range alliances {
		b.order = append(b.order, a.ID)
		b.entries[a.ID] = &batchEntry{allianceID: a.ID, name: a.Name, status: BatchPending}
	}

	t.mu.Lock()
	t.batches[b.id] = b
	t.mu.Unlock()

	t.publish(ctx, b)
	return b.id
}

// MarkProcessing flags an alliance as actively being worked on.
func (t *BatchTracker) MarkProcessing(ctx context.Context, batchID, allianceID string) {
	t.update(ctx, batchID, allianceID, func(e *batchEntry) {
		e.status = BatchProcessing
	})
}

// MarkCompleted records that one (code, alliance) task finished. The
// alliance turns completed only when every code in the batch has been
// attempted for it; it turns error when the last attempt failed outright.
func (t *BatchTracker) MarkCompleted(ctx context.Context, batchID, allianceID string, failed bool) {
	t.update(ctx, batchID, allianceID, func(e *batchEntry) {
		e.codesCompleted++
		e.lastFailed = failed
	})
}

func (t *BatchTracker) update(ctx context.Context, batchID, allianceID string, fn func(*batchEntry)) {
	t.mu.Lock()
	b, ok := t.batches[batchID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e, ok := b.entries[allianceID]
	if !ok {
		t.mu.Unlock()
		return
	}

	fn(e)
	if e.codesCompleted >= b.totalCodes {
		if e.lastFailed {
			e.status = BatchError
		} else {
			e.status = BatchCompleted
		}
	}

	done := b.allTerminal()
	if done {
		delete(t.batches, batchID)
	}
	t.mu.Unlock()

	t.publish(ctx, b)
	if done {
		zap.L().Info("batch finished", zap.String("batch_id", batchID))
	}
}

func (b *batch) allTerminal() bool {
	for _, e := range b.entries {
		if e.status != BatchCompleted && e.status != BatchError {
			return false
		}
	}
	return true
}

// Snapshot returns the current consolidated view of one batch.
func (t *BatchTracker) Snapshot(batchID string) (progress.BatchSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return progress.BatchSnapshot{}, false
	}
	return b.snapshot(), true
}

func (b *batch) snapshot() progress.BatchSnapshot {
	snap := progress.BatchSnapshot{BatchID: b.id, TotalCodes: b.totalCodes}
	for _, id := range b.order {
		e := b.entries[id]
		snap.Alliances = append(snap.Alliances, progress.BatchAllianceSnapshot{
			AllianceID:     e.allianceID,
			Name:           e.name,
			Status:         string(e.status),
			CodesCompleted: e.codesCompleted,
			TotalCodes:     b.totalCodes,
		})
	}
	return snap
}

func (t *BatchTracker) publish(ctx context.Context, b *batch) {
	t.mu.Lock()
	snap := b.snapshot()
	t.mu.Unlock()

	t.pub.PublishBatchProgress(ctx, snap)

	if t.rdb == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	key := rediskey.BuildBatchProgressKey(snap.BatchID)
	if err := t.rdb.Set(ctx, key, raw, batchSnapshotTTL).Err(); err != nil {
		zap.L().Warn("failed to mirror batch snapshot", zap.String("batch_id", snap.BatchID), zap.Error(err))
	}
}
