package redemption

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"giftops/pkg/gameapi"
	"giftops/services/alliance"
	"giftops/services/giftcode"
)

// ValidationOutcome reports what a probe established about a code.
type ValidationOutcome struct {
	Code string
	// FID is the identity the probe ran under.
	FID    string
	Status gameapi.Status
	// Decisive is false when the probe could not settle validity (login
	// failure, timeout, rate limit); the code stays pending.
	Decisive bool
	Valid    bool
	// Promoted is true when this probe performed the pending→validated
	// transition, as opposed to confirming an already-validated code.
	Promoted bool
}

// Validate probes a code's validity with a single real redemption attempt
// under the validation identity. Concurrent probes for the same code are
// collapsed; every caller gets the one in-flight result.
func (e *Engine) Validate(ctx context.Context, code string) (ValidationOutcome, error) {
	v, err, _ := e.validate.Do(code, func() (any, error) {
		return e.validateOnce(ctx, code)
	})
	if err != nil {
		return ValidationOutcome{Code: code}, err
	}
	return v.(ValidationOutcome), nil
}

func (e *Engine) validateOnce(ctx context.Context, code string) (ValidationOutcome, error) {
	gc, err := e.codes.Get(ctx, code)
	if err != nil {
		return ValidationOutcome{}, err
	}
	if gc.ValidationStatus == giftcode.StatusInvalid {
		return ValidationOutcome{Code: code, Decisive: true, Valid: false}, nil
	}

	fid, ok := e.validationIdentity(ctx)
	if !ok {
		zap.L().Warn("no validation identity available", zap.String("code", code))
		return ValidationOutcome{Code: code, FID: fid, Status: gameapi.StatusTimeoutRetry}, nil
	}

	// A cached terminal outcome for the chosen identity settles validity
	// without spending a captcha.
	if st, found, err := e.codes.CachedStatus(ctx, fid, code); err == nil && found {
		return e.settleValidation(ctx, code, fid, st, false)
	}

	acq := e.acquireAndSubmit(ctx, fid, code)
	return e.settleValidation(ctx, code, fid, acq.status, true)
}

// settleValidation applies the policy verdict of a probe status to the
// code's lifecycle. fresh marks outcomes that came from a live submission
// and may be cached.
func (e *Engine) settleValidation(ctx context.Context, code, fid string, st gameapi.Status, fresh bool) (ValidationOutcome, error) {
	p := gameapi.PolicyFor(st)
	out := ValidationOutcome{Code: code, FID: fid, Status: st}

	switch {
	case p.CodeValid:
		if fresh && p.Cacheable {
			if err := e.codes.PutCached(ctx, fid, code, st); err != nil {
				zap.L().Warn("failed to cache validation outcome", zap.String("code", code), zap.Error(err))
			}
		}
		changed, err := e.codes.MarkValidated(ctx, code)
		if err != nil {
			return out, err
		}
		if changed {
			e.pub.AnnounceCodeAdded(ctx, code)
		}
		out.Decisive = true
		out.Valid = true
		out.Promoted = changed
		return out, nil

	case p.HaltsRun && !p.Fatal:
		// Code-level rejection: the code is dead for everyone. The
		// identity's own cache row is cleared so it can probe future
		// codes cleanly.
		changed, err := e.codes.Invalidate(ctx, code, fid)
		if err != nil {
			return out, err
		}
		if changed {
			e.pub.AnnounceCodeRemoved(ctx, code)
		}
		out.Decisive = true
		out.Valid = false
		return out, nil

	default:
		// Sign errors, timeouts, rate limits, solver exhaustion: nothing
		// was established, the code stays pending for the next sweep.
		zap.L().Info("validation inconclusive",
			zap.String("code", code), zap.String("status", st.String()))
		return out, nil
	}
}

// validationIdentity resolves the identity to probe with, in order of
// preference: configured test account, any roster member, the hard-coded
// fallback account. The returned identity is already logged in.
func (e *Engine) validationIdentity(ctx context.Context) (string, bool) {
	try := func(fid string) bool {
		if fid == "" {
			return false
		}
		if _, err := e.client.Login(ctx, fid); err != nil {
			zap.L().Warn("validation identity login failed", zap.String("fid", fid), zap.Error(err))
			return false
		}
		return true
	}

	if try(e.opts.TestFID) {
		return e.opts.TestFID, true
	}

	m, err := e.alliances.RandomMember(ctx)
	if err == nil && try(m.FID) {
		return m.FID, true
	}
	if err != nil && !errors.Is(err, alliance.ErrNotFound) {
		zap.L().Warn("failed to draw random member", zap.Error(err))
	}

	if try(e.opts.FallbackFID) {
		return e.opts.FallbackFID, true
	}
	return "", false
}
