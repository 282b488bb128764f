package redemption

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"giftops/services/alliance"
)

func newTestTracker(t *testing.T) (*BatchTracker, *recordingPublisher) {
	t.Helper()
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	pub := &recordingPublisher{}
	return NewBatchTracker(BatchTrackerParams{Node: node, Publisher: pub}), pub
}

func TestBatchLifecycle(t *testing.T) {
	tracker, pub := newTestTracker(t)
	ctx := context.Background()

	alliances := []alliance.Alliance{
		{ID: "a1", Name: "Wolves"},
		{ID: "a2", Name: "Bears"},
	}
	id := tracker.Create(ctx, []string{"C1", "C2"}, alliances)
	require.NotEmpty(t, id)

	snap, ok := tracker.Snapshot(id)
	require.True(t, ok)
	require.Equal(t, 2, snap.TotalCodes)
	require.Equal(t, "pending", snap.Alliances[0].Status)
	require.Equal(t, "pending", snap.Alliances[1].Status)

	tracker.MarkProcessing(ctx, id, "a1")
	snap, ok = tracker.Snapshot(id)
	require.True(t, ok)
	require.Equal(t, "processing", snap.Alliances[0].Status)

	// One of two codes done: still processing.
	tracker.MarkCompleted(ctx, id, "a1", false)
	snap, _ = tracker.Snapshot(id)
	require.Equal(t, "processing", snap.Alliances[0].Status)
	require.Equal(t, 1, snap.Alliances[0].CodesCompleted)

	tracker.MarkCompleted(ctx, id, "a1", false)
	snap, _ = tracker.Snapshot(id)
	require.Equal(t, "completed", snap.Alliances[0].Status)

	tracker.MarkProcessing(ctx, id, "a2")
	tracker.MarkCompleted(ctx, id, "a2", false)
	tracker.MarkCompleted(ctx, id, "a2", false)

	// Every alliance terminal: the batch is discarded from memory, and
	// the final published snapshot shows both completed.
	_, ok = tracker.Snapshot(id)
	require.False(t, ok)

	last := pub.lastBatch()
	require.Equal(t, "completed", last.Alliances[0].Status)
	require.Equal(t, "completed", last.Alliances[1].Status)

	// Snapshot republished on every update.
	require.GreaterOrEqual(t, len(pub.batches), 7)
}

func TestBatchErrorWhenLastAttemptFails(t *testing.T) {
	tracker, pub := newTestTracker(t)
	ctx := context.Background()

	id := tracker.Create(ctx, []string{"C1"}, []alliance.Alliance{{ID: "a1", Name: "Wolves"}})
	tracker.MarkCompleted(ctx, id, "a1", true)

	last := pub.lastBatch()
	require.Equal(t, "error", last.Alliances[0].Status)
}

func TestBatchRecoversFromEarlierFailure(t *testing.T) {
	tracker, pub := newTestTracker(t)
	ctx := context.Background()

	id := tracker.Create(ctx, []string{"C1", "C2"}, []alliance.Alliance{{ID: "a1", Name: "Wolves"}})
	tracker.MarkCompleted(ctx, id, "a1", true)
	tracker.MarkCompleted(ctx, id, "a1", false)

	// The terminal state reflects the last attempt.
	last := pub.lastBatch()
	require.Equal(t, "completed", last.Alliances[0].Status)
}

func TestBatchUnknownIDsAreIgnored(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.MarkProcessing(ctx, "missing", "a1")
	tracker.MarkCompleted(ctx, "missing", "a1", false)

	id := tracker.Create(ctx, []string{"C1"}, []alliance.Alliance{{ID: "a1", Name: "Wolves"}})
	tracker.MarkCompleted(ctx, id, "zzz", false)

	snap, ok := tracker.Snapshot(id)
	require.True(t, ok)
	require.Equal(t, "pending", snap.Alliances[0].Status)
}
