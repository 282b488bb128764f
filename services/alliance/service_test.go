package alliance

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"giftops/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Alliance{}, &Member{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func TestRosterPreservesOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "Phoenix", false, 0)
	require.NoError(t, err)

	for _, fid := range []string{"100", "200", "300"} {
		_, err := svc.AddMember(ctx, a.ID, fid, "player-"+fid)
		require.NoError(t, err)
	}

	roster, err := svc.GetRoster(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, roster, 3)
	require.Equal(t, []string{"100", "200", "300"}, []string{roster[0].FID, roster[1].FID, roster[2].FID})
}

func TestListAutoRedeemOrderedByPriority(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "Late", true, 5)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "First", true, 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "OptedOut", false, 0)
	require.NoError(t, err)

	list, err := svc.ListAutoRedeem(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "First", list[0].Name)
	require.Equal(t, "Late", list[1].Name)
}

func TestRandomMemberEmptyRoster(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.RandomMember(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRandomMemberDrawsFromRoster(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "Phoenix", false, 0)
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, a.ID, "42", "solo")
	require.NoError(t, err)

	m, err := svc.RandomMember(ctx)
	require.NoError(t, err)
	require.Equal(t, "42", m.FID)
}

func TestAddMemberUnknownAlliance(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.AddMember(context.Background(), "missing", "1", "x")
	require.ErrorIs(t, err, ErrNotFound)
}
