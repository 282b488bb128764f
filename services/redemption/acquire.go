package redemption

import (
	"context"
	"time"

	"go.uber.org/zap"

	"giftops/pkg/captcha"
	"giftops/pkg/gameapi"
)

// acquisition is the settled result of one acquire-and-submit pass.
type acquisition struct {
	status   gameapi.Status
	response *gameapi.Response
}

// acquireAndSubmit runs the captcha acquisition loop for one (fid, code)
// attempt: fetch an image, solve it locally, gate the answer on format,
// submit, and handle server-side captcha rejections in-loop. At most
// MaxOCRAttempts images are consumed; exhausting them settles on
// StatusMaxCaptchaAttempts, which the caller treats as one solve-failure
// cycle.
func (e *Engine) acquireAndSubmit(ctx context.Context, fid, code string) acquisition {
	for attempt := 1; attempt <= e.opts.MaxOCRAttempts; attempt++ {
		if ctx.Err() != nil {
			return acquisition{status: gameapi.StatusTimeoutRetry}
		}

		img, st, err := e.client.GetCaptcha(ctx, fid)
		if err != nil {
			zap.L().Warn("captcha fetch failed",
				zap.String("fid", fid), zap.Int("attempt", attempt), zap.Error(err))
			return acquisition{status: gameapi.StatusTimeoutRetry}
		}
		if st == gameapi.StatusCaptchaTooFrequent {
			// The identity is rate-limited at the image endpoint; no
			// point burning further fetches this pass.
			return acquisition{status: st}
		}

		e.stats.IncSolverInvocations()
		res, ok, err := e.solver.Solve(ctx, img)
		if err != nil || !ok {
			if err != nil {
				zap.L().Warn("solver call failed", zap.String("fid", fid), zap.Error(err))
			}
			e.archiver.SaveFailed(ctx, fid, img)
			continue
		}
		if !captcha.ValidFormat(res.Text) {
			e.archiver.SaveFailed(ctx, fid, img)
			continue
		}
		e.stats.IncSolverValidFormat()

		e.stats.IncSubmissions()
		st, resp, err := e.client.Redeem(ctx, fid, code, res.Text)
		if err != nil {
			zap.L().Warn("redeem call failed", zap.String("fid", fid), zap.Error(err))
			return acquisition{status: gameapi.StatusTimeoutRetry}
		}

		if st == gameapi.StatusCaptchaInvalid || st == gameapi.StatusCaptchaExpired {
			// Server disagreed with the solver. Stay in the loop: the
			// next fetch gets a fresh image after a short pause.
			e.stats.IncServerRejected()
			_ = e.sleep(ctx, e.opts.SolveLoopDelay+jitter(0, 500*time.Millisecond))
			continue
		}

		e.stats.IncServerAccepted()
		return acquisition{status: st, response: resp}
	}

	return acquisition{status: gameapi.StatusMaxCaptchaAttempts}
}
