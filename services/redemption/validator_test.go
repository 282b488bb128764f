package redemption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"giftops/pkg/gameapi"
	"giftops/services/giftcode"
)

func TestValidatePromotesValidCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCode(t, "FRESH")

	out, err := env.engine.Validate(ctx, "FRESH")
	require.NoError(t, err)

	require.True(t, out.Decisive)
	require.True(t, out.Valid)
	require.True(t, out.Promoted)
	require.Equal(t, "900001", out.FID)

	gc, err := env.codes.Get(ctx, "FRESH")
	require.NoError(t, err)
	require.Equal(t, giftcode.StatusValidated, gc.ValidationStatus)
	require.Equal(t, []string{"FRESH"}, env.pub.added)

	// The probe outcome was cached for the identity.
	st, found, err := env.codes.CachedStatus(ctx, "900001", "FRESH")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, gameapi.StatusSuccess, st)
}

func TestValidateUsesCachedOutcomeWithoutNetwork(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCode(t, "KNOWN")
	require.NoError(t, env.codes.PutCached(ctx, "900001", "KNOWN", gameapi.StatusSuccess))

	out, err := env.engine.Validate(ctx, "KNOWN")
	require.NoError(t, err)

	require.True(t, out.Valid)
	require.True(t, out.Promoted)
	// Login to pick the identity, but no captcha was spent.
	require.Zero(t, env.game.redeemCount())
}

func TestValidateInvalidatesDeadCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCode(t, "TYPO")
	env.game.scriptRedeem("900001", gameapi.StatusCDKNotFound)

	out, err := env.engine.Validate(ctx, "TYPO")
	require.NoError(t, err)

	require.True(t, out.Decisive)
	require.False(t, out.Valid)

	gc, err := env.codes.Get(ctx, "TYPO")
	require.NoError(t, err)
	require.Equal(t, giftcode.StatusInvalid, gc.ValidationStatus)
	require.Equal(t, []string{"TYPO"}, env.pub.removed)

	// The identity's own cache row is cleared so future probes stay clean.
	_, found, err := env.codes.CachedStatus(ctx, "900001", "TYPO")
	require.NoError(t, err)
	require.False(t, found)
}

func TestValidateInconclusiveLeavesCodePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCode(t, "SLOW")
	env.game.scriptRedeem("900001", gameapi.StatusTimeoutRetry)

	out, err := env.engine.Validate(ctx, "SLOW")
	require.NoError(t, err)

	require.False(t, out.Decisive)

	gc, err := env.codes.Get(ctx, "SLOW")
	require.NoError(t, err)
	require.Equal(t, giftcode.StatusPending, gc.ValidationStatus)
	require.Empty(t, env.pub.added)
	require.Empty(t, env.pub.removed)
}

func TestValidateIdentityFallsBackWhenTestAccountFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCode(t, "CODE1")
	env.game.loginFail["900001"] = true

	out, err := env.engine.Validate(ctx, "CODE1")
	require.NoError(t, err)

	// No roster exists, so the probe fell through to the fallback
	// account.
	require.Equal(t, "244886619", out.FID)
	require.True(t, out.Valid)
	require.Equal(t, []string{"900001", "244886619"}, env.game.logins)
}

func TestValidateUsesRosterMemberWhenAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCode(t, "CODE1")
	env.seedAlliance(t, "Wolves", false, 1, "555")
	env.game.loginFail["900001"] = true

	out, err := env.engine.Validate(ctx, "CODE1")
	require.NoError(t, err)
	require.Equal(t, "555", out.FID)
}

func TestValidateInvalidCodeShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCode(t, "DEAD")
	_, err := env.codes.Invalidate(ctx, "DEAD", "")
	require.NoError(t, err)

	out, err := env.engine.Validate(ctx, "DEAD")
	require.NoError(t, err)

	require.True(t, out.Decisive)
	require.False(t, out.Valid)
	require.Empty(t, env.game.logins)
}

func TestValidateSolveExhaustionIsInconclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCode(t, "CODE1")

	env.engine.opts.MaxOCRAttempts = 2
	env.game.scriptRedeem("900001",
		gameapi.StatusCaptchaInvalid,
		gameapi.StatusCaptchaInvalid,
	)

	out, err := env.engine.Validate(ctx, "CODE1")
	require.NoError(t, err)

	require.False(t, out.Decisive)
	require.Equal(t, gameapi.StatusMaxCaptchaAttempts, out.Status)

	gc, err := env.codes.Get(ctx, "CODE1")
	require.NoError(t, err)
	require.Equal(t, giftcode.StatusPending, gc.ValidationStatus)
}
