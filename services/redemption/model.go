package redemption

import (
	"time"

	"gorm.io/datatypes"

	"giftops/pkg/gameapi"
)

// RedemptionRun is the persisted report of one full alliance run: outcome
// counts, halt condition, and the detailed list of failed members.
type RedemptionRun struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	Code         string         `gorm:"column:code;index;not null" json:"code"`
	AllianceID   string         `gorm:"column:alliance_id;index;not null" json:"alliance_id"`
	AllianceName string         `gorm:"column:alliance_name" json:"alliance_name"`
	Success      int            `gorm:"column:success" json:"success"`
	AlreadyUsed  int            `gorm:"column:already_used" json:"already_used"`
	Failed       int            `gorm:"column:failed" json:"failed"`
	Halted       int            `gorm:"column:halted" json:"halted"`
	HaltReason   string         `gorm:"column:halt_reason" json:"halt_reason,omitempty"`
	DurationMS   int64          `gorm:"column:duration_ms" json:"duration_ms"`
	Failures     datatypes.JSON `gorm:"column:failures;type:jsonb" json:"failures,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (RedemptionRun) TableName() string { return "redemption_runs" }

// HaltReason values recorded on RedemptionRun.
const (
	HaltNone        = ""
	HaltCodeInvalid = "code_invalid"
	HaltSignError   = "sign_error"
)

// MemberResult is one member's final outcome within a run. Cycles counts
// the captcha-solve-failure retries the member went through before
// settling (so a first-try success is Cycles 0, CyclesAttempted 1).
type MemberResult struct {
	FID      string         `json:"fid"`
	Nickname string         `json:"nickname"`
	Status   gameapi.Status `json:"status"`
	Reason   string         `json:"reason,omitempty"`
	Cycles   int            `json:"cycles"`
}

// CyclesAttempted is the 1-based attempt count the outcome settled on.
func (r MemberResult) CyclesAttempted() int { return r.Cycles + 1 }

// RunResult is the in-memory outcome of RunAllianceRedemption; the
// persisted RedemptionRun row is derived from it.
type RunResult struct {
	Code         string
	AllianceID   string
	AllianceName string
	Success      int
	AlreadyUsed  int
	Failed       int
	Halted       int
	HaltReason   string
	Duration     time.Duration
	Results      []MemberResult
}

// retryEntry is one member waiting on the run's retry list. Destroyed with
// the run.
type retryEntry struct {
	fid        string
	nickname   string
	cycles     int
	retryAfter time.Time
}

// activeMember is one entry on the run's active FIFO queue.
type activeMember struct {
	fid      string
	nickname string
	cycles   int
}
