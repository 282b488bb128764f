package redemption

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"giftops/pkg/gameapi"
	"giftops/pkg/taskname"
)

// fakeEnqueuer records tasks instead of touching redis.
type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) redeemPayloads(t *testing.T) []RedeemPayload {
	t.Helper()
	var out []RedeemPayload
	for _, task := range f.tasks {
		if task.Type() != taskname.CodeRedeem {
			continue
		}
		var p RedeemPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &p))
		out = append(out, p)
	}
	return out
}

func newTestQueue(t *testing.T, env *testEnv) (*Queue, *fakeEnqueuer) {
	t.Helper()
	fe := &fakeEnqueuer{}
	tracker := NewBatchTracker(BatchTrackerParams{Node: env.node, Publisher: env.pub})
	return &Queue{client: fe, codes: env.codes, alliances: env.alliances, batches: tracker}, fe
}

func TestSubmitCodeEnqueuesValidation(t *testing.T) {
	env := newTestEnv(t)
	q, fe := newTestQueue(t, env)
	ctx := context.Background()

	gc, err := q.SubmitCode(ctx, "NEW1")
	require.NoError(t, err)
	require.NotNil(t, gc)

	require.Len(t, fe.tasks, 1)
	require.Equal(t, taskname.CodeValidate, fe.tasks[0].Type())

	var p ValidatePayload
	require.NoError(t, json.Unmarshal(fe.tasks[0].Payload(), &p))
	require.Equal(t, "NEW1", p.Code)
}

func TestSubmitCodeRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	q, fe := newTestQueue(t, env)
	ctx := context.Background()

	env.seedCode(t, "DEAD")
	_, err := env.codes.Invalidate(ctx, "DEAD", "")
	require.NoError(t, err)

	gc, err := q.SubmitCode(ctx, "DEAD")
	require.NoError(t, err)
	require.EqualValues(t, "invalid", gc.ValidationStatus)
	require.Empty(t, fe.tasks)
}

func TestSubmitCodeValidatedNotReprobed(t *testing.T) {
	env := newTestEnv(t)
	q, fe := newTestQueue(t, env)
	ctx := context.Background()

	env.seedCode(t, "GOOD")
	_, err := env.codes.MarkValidated(ctx, "GOOD")
	require.NoError(t, err)

	_, err = q.SubmitCode(ctx, "GOOD")
	require.NoError(t, err)
	require.Empty(t, fe.tasks)
}

func TestEnqueueBatchOrdersCodeMajor(t *testing.T) {
	env := newTestEnv(t)
	q, fe := newTestQueue(t, env)
	ctx := context.Background()

	a1 := env.seedAlliance(t, "Wolves", false, 1, "101")
	a2 := env.seedAlliance(t, "Bears", false, 2, "201")

	batchID, err := q.EnqueueBatch(ctx, []string{"C1", "C2"}, []string{a1.ID, a2.ID})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	got := fe.redeemPayloads(t)
	require.Len(t, got, 4)
	require.Equal(t, RedeemPayload{Code: "C1", AllianceID: a1.ID, BatchID: batchID}, got[0])
	require.Equal(t, RedeemPayload{Code: "C1", AllianceID: a2.ID, BatchID: batchID}, got[1])
	require.Equal(t, RedeemPayload{Code: "C2", AllianceID: a1.ID, BatchID: batchID}, got[2])
	require.Equal(t, RedeemPayload{Code: "C2", AllianceID: a2.ID, BatchID: batchID}, got[3])

	snap, ok := q.batches.Snapshot(batchID)
	require.True(t, ok)
	require.Equal(t, 2, snap.TotalCodes)
	require.Len(t, snap.Alliances, 2)
}

func TestEnqueueAutoRedemptionPriorityOrder(t *testing.T) {
	env := newTestEnv(t)
	q, fe := newTestQueue(t, env)
	ctx := context.Background()

	low := env.seedAlliance(t, "Low", true, 5, "101")
	high := env.seedAlliance(t, "High", true, 1, "201")
	env.seedAlliance(t, "Manual", false, 0, "301")

	require.NoError(t, q.EnqueueAutoRedemption(ctx, "C1"))

	got := fe.redeemPayloads(t)
	require.Len(t, got, 2)
	require.Equal(t, high.ID, got[0].AllianceID)
	require.Equal(t, low.ID, got[1].AllianceID)
}

func TestHandleValidatePromotionTriggersAutoRedemption(t *testing.T) {
	env := newTestEnv(t)
	q, fe := newTestQueue(t, env)
	ctx := context.Background()

	env.seedAlliance(t, "Wolves", true, 1, "101")
	env.seedCode(t, "FRESH")

	w := &Worker{engine: env.engine, queue: q, batches: q.batches}
	task, err := NewValidateTask("FRESH")
	require.NoError(t, err)
	require.NoError(t, w.HandleValidate(ctx, task))

	got := fe.redeemPayloads(t)
	require.Len(t, got, 1)
	require.Equal(t, "FRESH", got[0].Code)
}

func TestHandleValidateNoAutoRedemptionWithoutPromotion(t *testing.T) {
	env := newTestEnv(t)
	q, fe := newTestQueue(t, env)
	ctx := context.Background()

	env.seedAlliance(t, "Wolves", true, 1, "101")
	env.seedCode(t, "SLOW")
	env.game.scriptRedeem("900001", gameapi.StatusTimeoutRetry)

	w := &Worker{engine: env.engine, queue: q, batches: q.batches}
	task, err := NewValidateTask("SLOW")
	require.NoError(t, err)
	require.NoError(t, w.HandleValidate(ctx, task))

	require.Empty(t, fe.redeemPayloads(t))
}

func TestHandleRedeemReportsIntoBatch(t *testing.T) {
	env := newTestEnv(t)
	q, _ := newTestQueue(t, env)
	ctx := context.Background()

	a := env.seedAlliance(t, "Wolves", false, 1, "101")
	env.seedCode(t, "C1")

	batchID, err := q.EnqueueBatch(ctx, []string{"C1"}, []string{a.ID})
	require.NoError(t, err)

	w := &Worker{engine: env.engine, queue: q, batches: q.batches}
	task, err := NewRedeemTask("C1", a.ID, batchID)
	require.NoError(t, err)
	require.NoError(t, w.HandleRedeem(ctx, task))

	// Single code completed: the batch reached terminal state and was
	// discarded.
	_, ok := q.batches.Snapshot(batchID)
	require.False(t, ok)
	last := env.pub.lastBatch()
	require.Equal(t, "completed", last.Alliances[0].Status)
}

func TestHandleRedeemSignErrorMarksBatchError(t *testing.T) {
	env := newTestEnv(t)
	q, _ := newTestQueue(t, env)
	ctx := context.Background()

	a := env.seedAlliance(t, "Wolves", false, 1, "101", "102")
	env.seedCode(t, "C1")
	env.game.scriptRedeem("101", gameapi.StatusSignError)

	batchID, err := q.EnqueueBatch(ctx, []string{"C1"}, []string{a.ID})
	require.NoError(t, err)

	w := &Worker{engine: env.engine, queue: q, batches: q.batches}
	task, err := NewRedeemTask("C1", a.ID, batchID)
	require.NoError(t, err)
	require.NoError(t, w.HandleRedeem(ctx, task))

	last := env.pub.lastBatch()
	require.Equal(t, "error", last.Alliances[0].Status)
}

func TestHandleRedeemCodeInvalidHaltCompletesBatch(t *testing.T) {
	env := newTestEnv(t)
	q, _ := newTestQueue(t, env)
	ctx := context.Background()

	a := env.seedAlliance(t, "Wolves", false, 1, "101", "102")
	env.seedCode(t, "C1")
	env.game.scriptRedeem("101", gameapi.StatusCDKNotFound)

	batchID, err := q.EnqueueBatch(ctx, []string{"C1"}, []string{a.ID})
	require.NoError(t, err)

	w := &Worker{engine: env.engine, queue: q, batches: q.batches}
	task, err := NewRedeemTask("C1", a.ID, batchID)
	require.NoError(t, err)
	require.NoError(t, w.HandleRedeem(ctx, task))

	// The code died, not the alliance: the run is a clean completion and
	// the invalidation itself is announced separately.
	last := env.pub.lastBatch()
	require.Equal(t, "completed", last.Alliances[0].Status)
}
