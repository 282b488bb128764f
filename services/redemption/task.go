package redemption

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"giftops/pkg/taskname"
	"giftops/services/alliance"
	"giftops/services/giftcode"
)

// queueName is the single serialized queue every engine task runs on.
const queueName = "redemption"

type ValidatePayload struct {
	Code string `json:"code"`
}

type RedeemPayload struct {
	Code       string `json:"code"`
	AllianceID string `json:"alliance_id"`
	BatchID    string `json:"batch_id,omitempty"`
}

// Task options: a validation or a full alliance run is never re-executed
// by asynq itself; the engine owns all retry semantics.
func taskOpts() []asynq.Option {
	return []asynq.Option{asynq.Queue(queueName), asynq.MaxRetry(0), asynq.Timeout(0)}
}

func NewValidateTask(code string) (*asynq.Task, error) {
	payload, err := json.Marshal(ValidatePayload{Code: code})
	if err != nil {
		return nil, fmt.Errorf("redemption: encode validate payload: %w", err)
	}
	return asynq.NewTask(taskname.CodeValidate, payload, taskOpts()...), nil
}

func NewRedeemTask(code, allianceID, batchID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RedeemPayload{Code: code, AllianceID: allianceID, BatchID: batchID})
	if err != nil {
		return nil, fmt.Errorf("redemption: encode redeem payload: %w", err)
	}
	return asynq.NewTask(taskname.CodeRedeem, payload, taskOpts()...), nil
}

// enqueuer is the slice of *asynq.Client the queue needs; tests use a
// recording fake.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue is the submission surface. Everything it accepts is pushed onto
// the single redemption queue, so ordering between submissions is the
// enqueue order and nothing ever runs concurrently with anything else.
type Queue struct {
	client    enqueuer
	codes     *giftcode.Service
	alliances *alliance.Service
	batches   *BatchTracker
}

type QueueParams struct {
	fx.In
	Client    *asynq.Client
	Codes     *giftcode.Service
	Alliances *alliance.Service
	Batches   *BatchTracker
}

func NewQueue(p QueueParams) *Queue {
	return &Queue{client: p.Client, codes: p.Codes, alliances: p.Alliances, batches: p.Batches}
}

// SubmitCode registers a code and enqueues its validation probe. Codes
// already known are not re-registered; an invalid code is rejected
// outright so resubmission cannot resurrect it.
func (q *Queue) SubmitCode(ctx context.Context, code string) (*giftcode.GiftCode, error) {
	gc, created, err := q.codes.Upsert(ctx, code)
	if err != nil {
		return nil, err
	}
	if gc.ValidationStatus == giftcode.StatusInvalid {
		return gc, nil
	}
	if !created && gc.ValidationStatus == giftcode.StatusValidated {
		return gc, nil
	}

	task, err := NewValidateTask(code)
	if err != nil {
		return nil, err
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return nil, fmt.Errorf("redemption: enqueue validate %s: %w", code, err)
	}
	zap.L().Info("validation enqueued", zap.String("code", code))
	return gc, nil
}

// EnqueueRedemption queues one (code, alliance) run outside any batch.
func (q *Queue) EnqueueRedemption(ctx context.Context, code, allianceID string) error {
	task, err := NewRedeemTask(code, allianceID, "")
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("redemption: enqueue run %s/%s: %w", code, allianceID, err)
	}
	return nil
}

// EnqueueAutoRedemption queues a run of the code for every alliance opted
// into automatic redemption, in ascending priority order.
func (q *Queue) EnqueueAutoRedemption(ctx context.Context, code string) error {
	list, err := q.alliances.ListAutoRedeem(ctx)
	if err != nil {
		return err
	}
	for _, a := range list {
		if err := q.EnqueueRedemption(ctx, code, a.ID); err != nil {
			return err
		}
	}
	if len(list) > 0 {
		zap.L().Info("auto-redemption enqueued",
			zap.String("code", code), zap.Int("alliances", len(list)))
	}
	return nil
}

// EnqueueBatch queues every (code, alliance) pair under one tracked batch
// and returns the batch id. Pairs are enqueued code-major so each alliance
// finishes a code before the queue moves to the next.
func (q *Queue) EnqueueBatch(ctx context.Context, codes []string, allianceIDs []string) (string, error) {
	alliances := make([]alliance.Alliance, 0, len(allianceIDs))
	for _, id := range allianceIDs {
		a, err := q.alliances.Get(ctx, id)
		if err != nil {
			return "", err
		}
		alliances = append(alliances, *a)
	}

	batchID := q.batches.Create(ctx, codes, alliances)

	for _, code := range codes {
		for _, a := range alliances {
			task, err := NewRedeemTask(code, a.ID, batchID)
			if err != nil {
				return "", err
			}
			if _, err := q.client.EnqueueContext(ctx, task); err != nil {
				return "", fmt.Errorf("redemption: enqueue batch task %s/%s: %w", code, a.ID, err)
			}
		}
	}
	zap.L().Info("batch enqueued",
		zap.String("batch_id", batchID),
		zap.Int("codes", len(codes)),
		zap.Int("alliances", len(alliances)))
	return batchID, nil
}

// Worker holds the task handlers behind the serialized consumer.
type Worker struct {
	engine  *Engine
	queue   *Queue
	batches *BatchTracker
}

type WorkerParams struct {
	fx.In
	Engine  *Engine
	Queue   *Queue
	Batches *BatchTracker
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{engine: p.Engine, queue: p.Queue, batches: p.Batches}
}

// HandleValidate probes one code. A fresh pending→validated promotion
// triggers auto-redemption for every opted-in alliance.
func (w *Worker) HandleValidate(ctx context.Context, t *asynq.Task) error {
	var p ValidatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("redemption: decode validate payload: %w", err)
	}

	out, err := w.engine.Validate(ctx, p.Code)
	if err != nil {
		zap.L().Error("validation failed", zap.String("code", p.Code), zap.Error(err))
		return nil
	}

	if out.Promoted {
		if err := w.queue.EnqueueAutoRedemption(ctx, p.Code); err != nil {
			zap.L().Error("failed to enqueue auto-redemption", zap.String("code", p.Code), zap.Error(err))
		}
	}
	return nil
}

// HandleRedeem runs one (code, alliance) redemption and reports into the
// batch tracker when the task belongs to a batch. Errors are swallowed:
// the run's own report captures what happened and asynq must not retry.
func (w *Worker) HandleRedeem(ctx context.Context, t *asynq.Task) error {
	var p RedeemPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("redemption: decode redeem payload: %w", err)
	}

	if p.BatchID != "" {
		w.batches.MarkProcessing(ctx, p.BatchID, p.AllianceID)
	}

	res, err := w.engine.RunAllianceRedemption(ctx, p.AllianceID, p.Code)
	if err != nil {
		zap.L().Error("redemption run failed",
			zap.String("code", p.Code), zap.String("alliance_id", p.AllianceID), zap.Error(err))
	}

	if p.BatchID != "" {
		// A signature mismatch is a configuration fault and the run stopped
		// before most members were attempted, so the batch entry must show
		// error. A code going invalid is the code's own verdict; the run
		// still completed for this alliance.
		failed := err != nil || (res != nil && res.HaltReason == HaltSignError)
		w.batches.MarkCompleted(ctx, p.BatchID, p.AllianceID, failed)
	}
	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, w *Worker) {
	mux.HandleFunc(taskname.CodeValidate, w.HandleValidate)
	mux.HandleFunc(taskname.CodeRedeem, w.HandleRedeem)
}
