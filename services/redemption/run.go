package redemption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"giftops/pkg/gameapi"
	"giftops/pkg/progress"
	"giftops/services/giftcode"
)

// memberVerdict is the outcome of one member step. Exactly one of settled,
// halt or retry is set.
type memberVerdict struct {
	settled *MemberResult
	halt    *MemberResult
	reason  string
	retry   *retryEntry
}

// RunAllianceRedemption redeems one code for every member of one alliance.
// Members with a cached outcome are counted without a network call; the
// rest are processed strictly in roster order, with retryable outcomes
// re-queued behind their class backoff. Statuses are consumed purely
// through the policy table.
func (e *Engine) RunAllianceRedemption(ctx context.Context, allianceID, code string) (*RunResult, error) {
	a, err := e.alliances.Get(ctx, allianceID)
	if err != nil {
		return nil, err
	}

	res := &RunResult{Code: code, AllianceID: a.ID, AllianceName: a.Name}
	started := time.Now()

	gc, err := e.codes.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if gc.ValidationStatus == giftcode.StatusInvalid {
		res.HaltReason = HaltCodeInvalid
		zap.L().Info("skipping run for invalid code",
			zap.String("code", code), zap.String("alliance_id", allianceID))
		return res, nil
	}

	roster, err := e.alliances.GetRoster(ctx, allianceID)
	if err != nil {
		return nil, err
	}
	cached, err := e.codes.CachedForCode(ctx, code)
	if err != nil {
		return nil, err
	}

	// Partition: cached members are settled for free, the rest form the
	// active queue in roster order.
	var active []activeMember
	for _, m := range roster {
		if st, ok := cached[m.FID]; ok {
			res.count(MemberResult{FID: m.FID, Nickname: m.Nickname, Status: st})
			continue
		}
		active = append(active, activeMember{fid: m.FID, nickname: m.Nickname})
	}

	e.publishRun(ctx, res, len(roster), len(active), "processing")

	var retries []retryEntry
	processed := 0

	for len(active) > 0 || len(retries) > 0 {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		retries, active = promoteDue(retries, active, time.Now())

		if len(active) == 0 {
			// Everyone left is waiting on a backoff. Sleep until the
			// earliest deadline rather than spinning.
			if err := e.sleep(ctx, time.Until(earliestDeadline(retries))); err != nil {
				return res, err
			}
			continue
		}

		m := active[0]
		active = active[1:]

		// Jittered spacing between submissions.
		if processed > 0 {
			if err := e.sleep(ctx, jitter(e.opts.MemberDelayMin, e.opts.MemberDelayMax)); err != nil {
				return res, err
			}
		}
		processed++

		v := e.stepMember(ctx, code, m)
		switch {
		case v.halt != nil:
			res.count(*v.halt)
			res.HaltReason = v.reason
			res.Halted = len(active) + len(retries)
			active, retries = nil, nil
		case v.retry != nil:
			retries = append(retries, *v.retry)
		default:
			res.count(*v.settled)
		}

		stage := "processing"
		if res.HaltReason != "" {
			stage = "halted"
		}
		e.publishRun(ctx, res, len(roster), len(active)+len(retries), stage)
	}

	if res.HaltReason == "" {
		e.publishRun(ctx, res, len(roster), 0, "completed")
	}

	res.Duration = time.Since(started)
	e.stats.AddMembersProcessed(processed)
	e.stats.AddProcessingTime(res.Duration)

	if err := e.saveRun(ctx, res); err != nil {
		zap.L().Warn("failed to persist run report", zap.String("code", code), zap.Error(err))
	}
	return res, nil
}

// stepMember performs one submission attempt for one member and applies
// the policy verdict of the resulting status.
func (e *Engine) stepMember(ctx context.Context, code string, m activeMember) memberVerdict {
	if _, err := e.client.Login(ctx, m.fid); err != nil {
		if errors.Is(err, gameapi.ErrLoginFailed) {
			// The account is gone or unreachable by identity; nothing to
			// retry.
			return memberVerdict{settled: &MemberResult{
				FID: m.fid, Nickname: m.nickname,
				Status: gameapi.StatusUnknown, Reason: "login rejected", Cycles: m.cycles,
			}}
		}
		return e.scheduleRetry(m, gameapi.StatusTimeoutRetry)
	}

	acq := e.acquireAndSubmit(ctx, m.fid, code)
	p := gameapi.PolicyFor(acq.status)

	switch {
	case p.Fatal:
		zap.L().Error("halting run on signature failure",
			zap.String("code", code), zap.String("fid", m.fid))
		return memberVerdict{
			halt: &MemberResult{
				FID: m.fid, Nickname: m.nickname,
				Status: acq.status, Reason: "signature mismatch", Cycles: m.cycles,
			},
			reason: HaltSignError,
		}

	case p.HaltsRun:
		// The code is dead for everyone, not just this member. Record
		// the verdict, flip the code once, stop the run.
		if p.Cacheable {
			if err := e.codes.PutCached(ctx, m.fid, code, acq.status); err != nil {
				zap.L().Warn("failed to cache halting outcome", zap.String("code", code), zap.Error(err))
			}
		}
		changed, err := e.codes.Invalidate(ctx, code, "")
		if err != nil {
			zap.L().Error("failed to invalidate code", zap.String("code", code), zap.Error(err))
		} else if changed {
			e.pub.AnnounceCodeRemoved(ctx, code)
		}
		return memberVerdict{
			halt: &MemberResult{
				FID: m.fid, Nickname: m.nickname,
				Status: acq.status, Cycles: m.cycles,
			},
			reason: HaltCodeInvalid,
		}

	case p.Retry != gameapi.RetryNone:
		if p.CountsAgainstCycleCap {
			m.cycles++
			if m.cycles >= e.opts.MaxRetryCycles {
				return memberVerdict{settled: &MemberResult{
					FID: m.fid, Nickname: m.nickname,
					Status: acq.status, Reason: "retry cycles exhausted", Cycles: m.cycles,
				}}
			}
		}
		return e.scheduleRetry(m, acq.status)

	default:
		if p.Cacheable {
			if err := e.codes.PutCached(ctx, m.fid, code, acq.status); err != nil {
				zap.L().Warn("failed to cache outcome",
					zap.String("fid", m.fid), zap.String("code", code), zap.Error(err))
			}
		}
		r := MemberResult{FID: m.fid, Nickname: m.nickname, Status: acq.status, Cycles: m.cycles}
		if acq.status == gameapi.StatusUnknown && acq.response != nil {
			r.Reason = fmt.Sprintf("unrecognized response: msg=%q err_code=%d",
				acq.response.Msg, acq.response.ErrCode)
		}
		return memberVerdict{settled: &r}
	}
}

func (e *Engine) scheduleRetry(m activeMember, st gameapi.Status) memberVerdict {
	delay := e.retryDelay(gameapi.PolicyFor(st).Retry)
	return memberVerdict{retry: &retryEntry{
		fid:        m.fid,
		nickname:   m.nickname,
		cycles:     m.cycles,
		retryAfter: time.Now().Add(delay),
	}}
}

// promoteDue moves retry entries whose deadline passed onto the active
// queue, preserving deadline order among them.
func promoteDue(retries []retryEntry, active []activeMember, now time.Time) ([]retryEntry, []activeMember) {
	var remaining []retryEntry
	for _, r := range retries {
		if !r.retryAfter.After(now) {
			active = append(active, activeMember{fid: r.fid, nickname: r.nickname, cycles: r.cycles})
		} else {
			remaining = append(remaining, r)
		}
	}
	return remaining, active
}

func earliestDeadline(retries []retryEntry) time.Time {
	earliest := retries[0].retryAfter
	for _, r := range retries[1:] {
		if r.retryAfter.Before(earliest) {
			earliest = r.retryAfter
		}
	}
	return earliest
}

// count folds one settled member outcome into the tallies.
func (r *RunResult) count(m MemberResult) {
	r.Results = append(r.Results, m)
	switch m.Status {
	case gameapi.StatusSuccess:
		r.Success++
	case gameapi.StatusReceived, gameapi.StatusSameTypeExchange:
		r.AlreadyUsed++
	default:
		r.Failed++
	}
}

func (e *Engine) publishRun(ctx context.Context, res *RunResult, total, pending int, stage string) {
	e.pub.PublishRunProgress(ctx, progress.RunSnapshot{
		Code:         res.Code,
		AllianceID:   res.AllianceID,
		AllianceName: res.AllianceName,
		Stage:        stage,
		Total:        total,
		Success:      res.Success,
		AlreadyUsed:  res.AlreadyUsed,
		Failed:       res.Failed,
		Pending:      pending,
	})
}

// saveRun persists the run report with its failure detail as JSON.
func (e *Engine) saveRun(ctx context.Context, res *RunResult) error {
	var failures []MemberResult
	for _, m := range res.Results {
		switch m.Status {
		case gameapi.StatusSuccess, gameapi.StatusReceived, gameapi.StatusSameTypeExchange:
		default:
			failures = append(failures, m)
		}
	}

	var raw datatypes.JSON
	if len(failures) > 0 {
		b, err := json.Marshal(failures)
		if err != nil {
			return fmt.Errorf("redemption: encode failures: %w", err)
		}
		raw = datatypes.JSON(b)
	}

	row := &RedemptionRun{
		ID:           e.node.Generate().String(),
		Code:         res.Code,
		AllianceID:   res.AllianceID,
		AllianceName: res.AllianceName,
		Success:      res.Success,
		AlreadyUsed:  res.AlreadyUsed,
		Failed:       res.Failed,
		Halted:       res.Halted,
		HaltReason:   res.HaltReason,
		DurationMS:   res.Duration.Milliseconds(),
		Failures:     raw,
		CreatedAt:    time.Now(),
	}
	return e.db.WithContext(ctx).Create(row).Error
}

// ListRuns returns recent run reports, newest first.
func (e *Engine) ListRuns(ctx context.Context, limit int) ([]RedemptionRun, error) {
	var list []RedemptionRun
	q := e.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("redemption: list runs: %w", err)
	}
	return list, nil
}
