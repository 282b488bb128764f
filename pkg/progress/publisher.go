package progress

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("progress", fx.Provide(NewLogPublisher))

// RunSnapshot is one consolidated progress view of a single alliance run.
type RunSnapshot struct {
	Code         string `json:"code"`
	AllianceID   string `json:"alliance_id"`
	AllianceName string `json:"alliance_name"`
	Stage        string `json:"stage"`
	Total        int    `json:"total"`
	Success      int    `json:"success"`
	AlreadyUsed  int    `json:"already_used"`
	Failed       int    `json:"failed"`
	Pending      int    `json:"pending"`
}

// BatchAllianceSnapshot is one alliance row inside a batch view.
type BatchAllianceSnapshot struct {
	AllianceID     string `json:"alliance_id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	CodesCompleted int    `json:"codes_completed"`
	TotalCodes     int    `json:"total_codes"`
}

// BatchSnapshot is the consolidated view republished after every update.
type BatchSnapshot struct {
	BatchID    string                  `json:"batch_id"`
	TotalCodes int                     `json:"total_codes"`
	Alliances  []BatchAllianceSnapshot `json:"alliances"`
}

// Publisher is the presentation collaborator. Implementations must be
// best-effort: the engine never fails a run because progress could not be
// displayed, so these methods return nothing.
type Publisher interface {
	PublishRunProgress(ctx context.Context, snap RunSnapshot)
	PublishBatchProgress(ctx context.Context, snap BatchSnapshot)
	AnnounceCodeAdded(ctx context.Context, code string)
	AnnounceCodeRemoved(ctx context.Context, code string)
}

// LogPublisher writes progress to the structured log. The chat-platform
// layer swaps in its own Publisher at wiring time.
type LogPublisher struct{}

func NewLogPublisher() Publisher { return &LogPublisher{} }

func (LogPublisher) PublishRunProgress(ctx context.Context, snap RunSnapshot) {
	zap.L().Info("run progress",
		zap.String("code", snap.Code),
		zap.String("alliance_id", snap.AllianceID),
		zap.String("stage", snap.Stage),
		zap.Int("success", snap.Success),
		zap.Int("already_used", snap.AlreadyUsed),
		zap.Int("failed", snap.Failed),
		zap.Int("pending", snap.Pending),
	)
}

func (LogPublisher) PublishBatchProgress(ctx context.Context, snap BatchSnapshot) {
	zap.L().Info("batch progress",
		zap.String("batch_id", snap.BatchID),
		zap.Int("total_codes", snap.TotalCodes),
		zap.Int("alliances", len(snap.Alliances)),
	)
}

func (LogPublisher) AnnounceCodeAdded(ctx context.Context, code string) {
	zap.L().Info("code added", zap.String("code", code))
}

func (LogPublisher) AnnounceCodeRemoved(ctx context.Context, code string) {
	zap.L().Info("code removed", zap.String("code", code))
}
