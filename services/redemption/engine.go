package redemption

import (
	"context"
	"math/rand"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"giftops/pkg/captcha"
	"giftops/pkg/config"
	"giftops/pkg/gameapi"
	"giftops/pkg/progress"
	"giftops/services/alliance"
	"giftops/services/giftcode"
)

// GameClient is the slice of the rewards-service client the engine needs.
// *gameapi.Client satisfies it; tests swap in a scripted fake.
type GameClient interface {
	Login(ctx context.Context, fid string) (*gameapi.Player, error)
	GetCaptcha(ctx context.Context, fid string) ([]byte, gameapi.Status, error)
	Redeem(ctx context.Context, fid, code, captchaCode string) (gameapi.Status, *gameapi.Response, error)
}

// Options is the engine tuning, snapshotted from config at construction.
type Options struct {
	TestFID           string
	FallbackFID       string
	MaxOCRAttempts    int
	MaxRetryCycles    int
	SolveRetryDelay   time.Duration
	RateLimitDelay    time.Duration
	TimeoutRetryDelay time.Duration

	// SolveLoopDelay is the pause before re-fetching after the server
	// rejects a captcha answer mid-acquisition.
	SolveLoopDelay time.Duration
	// MemberDelayMin/Max bound the jittered pause between consecutive
	// member submissions within a run.
	MemberDelayMin time.Duration
	MemberDelayMax time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	e := cfg.Engine
	return Options{
		TestFID:           e.TestFID,
		FallbackFID:       e.FallbackFID,
		MaxOCRAttempts:    e.MaxOCRAttempts,
		MaxRetryCycles:    e.MaxRetryCycles,
		SolveRetryDelay:   e.SolveRetryDelay,
		RateLimitDelay:    e.RateLimitDelay,
		TimeoutRetryDelay: e.TimeoutRetryDelay,
		SolveLoopDelay:    2 * time.Second,
		MemberDelayMin:    1 * time.Second,
		MemberDelayMax:    3 * time.Second,
	}
}

// Engine drives captcha acquisition, code validation and alliance
// redemption runs. It holds no run state between calls; everything a run
// needs lives on its own stack so a crash mid-run loses nothing but that
// run.
type Engine struct {
	opts      Options
	client    GameClient
	solver    captcha.Solver
	archiver  *captcha.Archiver
	codes     *giftcode.Service
	alliances *alliance.Service
	pub       progress.Publisher
	stats     *Stats
	db        *gorm.DB
	node      *snowflake.Node

	validate singleflight.Group

	// sleep is swapped out in tests so retry schedules run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

type EngineParams struct {
	fx.In
	Cfg       *config.Config
	Client    GameClient
	Solver    captcha.Solver
	Archiver  *captcha.Archiver
	Codes     *giftcode.Service
	Alliances *alliance.Service
	Publisher progress.Publisher
	Stats     *Stats
	DB        *gorm.DB
	Node      *snowflake.Node
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		opts:      OptionsFromConfig(p.Cfg),
		client:    p.Client,
		solver:    p.Solver,
		archiver:  p.Archiver,
		codes:     p.Codes,
		alliances: p.Alliances,
		pub:       p.Publisher,
		stats:     p.Stats,
		db:        p.DB,
		node:      p.Node,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// jitter returns a random duration in [min, max].
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// retryDelay maps a retry class to its scheduled backoff.
func (e *Engine) retryDelay(class gameapi.RetryClass) time.Duration {
	switch class {
	case gameapi.RetrySolve:
		return e.opts.SolveRetryDelay
	case gameapi.RetryRateLimit:
		return e.opts.RateLimitDelay
	case gameapi.RetryTimeout:
		return e.opts.TimeoutRetryDelay
	default:
		return e.opts.TimeoutRetryDelay
	}
}
