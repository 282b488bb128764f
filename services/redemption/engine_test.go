package redemption

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"giftops/pkg/captcha"
	"giftops/pkg/gameapi"
	"giftops/pkg/progress"
	"giftops/services/alliance"
	"giftops/services/giftcode"
	"giftops/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeGame scripts the rewards service. Redeem answers pop per-fid from
// the script; an exhausted script answers SUCCESS.
type fakeGame struct {
	mu           sync.Mutex
	loginFail    map[string]bool
	redeemQueue  map[string][]gameapi.Status
	captchaQueue map[string][]gameapi.Status

	logins  []string
	redeems []string
}

func newFakeGame() *fakeGame {
	return &fakeGame{
		loginFail:    map[string]bool{},
		redeemQueue:  map[string][]gameapi.Status{},
		captchaQueue: map[string][]gameapi.Status{},
	}
}

func (f *fakeGame) scriptRedeem(fid string, statuses ...gameapi.Status) {
	f.redeemQueue[fid] = append(f.redeemQueue[fid], statuses...)
}

func (f *fakeGame) scriptCaptcha(fid string, statuses ...gameapi.Status) {
	f.captchaQueue[fid] = append(f.captchaQueue[fid], statuses...)
}

func (f *fakeGame) Login(ctx context.Context, fid string) (*gameapi.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, fid)
	if f.loginFail[fid] {
		return nil, gameapi.ErrLoginFailed
	}
	return &gameapi.Player{FID: fid, Nickname: "player-" + fid}, nil
}

func (f *fakeGame) GetCaptcha(ctx context.Context, fid string) ([]byte, gameapi.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.captchaQueue[fid]; len(q) > 0 {
		st := q[0]
		f.captchaQueue[fid] = q[1:]
		if st == gameapi.StatusCaptchaTooFrequent {
			return nil, st, nil
		}
	}
	return []byte("img"), gameapi.StatusSuccess, nil
}

func (f *fakeGame) Redeem(ctx context.Context, fid, code, captchaCode string) (gameapi.Status, *gameapi.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redeems = append(f.redeems, fid)
	st := gameapi.StatusSuccess
	if q := f.redeemQueue[fid]; len(q) > 0 {
		st = q[0]
		f.redeemQueue[fid] = q[1:]
	}
	return st, &gameapi.Response{Msg: st.String()}, nil
}

func (f *fakeGame) redeemCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.redeems)
}

// fakeSolver always answers a well-formed captcha.
type fakeSolver struct{}

func (fakeSolver) Solve(ctx context.Context, image []byte) (captcha.Result, bool, error) {
	return captcha.Result{Text: "AB12", Method: "ocr", Confidence: 0.9}, true, nil
}

// recordingPublisher captures everything the engine reports.
type recordingPublisher struct {
	mu      sync.Mutex
	runs    []progress.RunSnapshot
	batches []progress.BatchSnapshot
	added   []string
	removed []string
}

func (r *recordingPublisher) PublishRunProgress(ctx context.Context, snap progress.RunSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, snap)
}

func (r *recordingPublisher) PublishBatchProgress(ctx context.Context, snap progress.BatchSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, snap)
}

func (r *recordingPublisher) AnnounceCodeAdded(ctx context.Context, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, code)
}

func (r *recordingPublisher) AnnounceCodeRemoved(ctx context.Context, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, code)
}

func (r *recordingPublisher) lastBatch() progress.BatchSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[len(r.batches)-1]
}

type testEnv struct {
	engine    *Engine
	game      *fakeGame
	pub       *recordingPublisher
	codes     *giftcode.Service
	alliances *alliance.Service
	db        *gorm.DB
	node      *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&alliance.Alliance{}, &alliance.Member{},
		&giftcode.GiftCode{}, &giftcode.MemberRedemption{},
		&RedemptionRun{},
	)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	codes := giftcode.NewService(giftcode.ServiceParams{DB: db, Node: node})
	alliances := alliance.NewService(alliance.ServiceParams{DB: db, Node: node})
	game := newFakeGame()
	pub := &recordingPublisher{}

	e := &Engine{
		opts: Options{
			TestFID:        "900001",
			FallbackFID:    "244886619",
			MaxOCRAttempts: 4,
			MaxRetryCycles: 10,
		},
		client:    game,
		solver:    fakeSolver{},
		archiver:  &captcha.Archiver{},
		codes:     codes,
		alliances: alliances,
		pub:       pub,
		stats:     NewStats(nil),
		db:        db,
		node:      node,
		sleep: func(ctx context.Context, d time.Duration) error {
			return ctx.Err()
		},
	}

	return &testEnv{
		engine:    e,
		game:      game,
		pub:       pub,
		codes:     codes,
		alliances: alliances,
		db:        db,
		node:      node,
	}
}

// seedAlliance creates an alliance with members fid1..fidN in order.
func (env *testEnv) seedAlliance(t *testing.T, name string, autoRedeem bool, priority int, fids ...string) *alliance.Alliance {
	t.Helper()
	ctx := context.Background()
	a, err := env.alliances.Create(ctx, name, autoRedeem, priority)
	require.NoError(t, err)
	for _, fid := range fids {
		_, err := env.alliances.AddMember(ctx, a.ID, fid, "member-"+fid)
		require.NoError(t, err)
	}
	return a
}

func (env *testEnv) seedCode(t *testing.T, code string) {
	t.Helper()
	_, _, err := env.codes.Upsert(context.Background(), code)
	require.NoError(t, err)
}
