package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/provider"
	"github.com/Guizzs26/go-crm-sync/pkg/metrics"
	"github.com/google/uuid"
)

// MaxBatchMemoryThresholdMB triggers a warning for unusually heavy batches
const MaxBatchMemoryThresholdMB = 20

const recordTimeout = 5 * time.Second

// Queue defines the contract for claiming and settling queue items.
// Heartbeat fails once the job's claim is gone (reset by the janitor or taken
// by another worker); such a job must not be sent.
type Queue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	Heartbeat(ctx context.Context, job models.Job) error
	Finish(ctx context.Context, job models.Job, t models.Transition) error
	Release(ctx context.Context, claimID string, ids []string) error
}

// Adapter shapes jobs into provider requests and reads provider references back
type Adapter interface {
	Build(ctx context.Context, job models.Job) (provider.Request, error)
	Reference(body []byte) (id, number string)
}

// Sender performs the outbound call
type Sender interface {
	Send(ctx context.Context, req provider.Request, idempotencyKey string) (provider.Response, error)
}

// FlagSource returns the operational switches, read on every batch
type FlagSource interface {
	SyncSettings(ctx context.Context) (models.SyncSettings, error)
}

// Notifier is told about every settled job. Failures are logged, never fatal
type Notifier interface {
	NotifyOutcome(ctx context.Context, kind models.JobKind, job models.Job, t models.Transition) error
}

// Summary reports what a batch did
type Summary struct {
	Claimed        int `json:"claimed"`
	Sent           int `json:"sent"`
	Failed         int `json:"failed"`
	RetryScheduled int `json:"retry_scheduled"`
	ShadowSent     int `json:"shadow_sent"`
	Released       int `json:"released"`
	Skipped        int `json:"skipped"`
}

func (s *Summary) Add(o Summary) {
	s.Claimed += o.Claimed
	s.Sent += o.Sent
	s.Failed += o.Failed
	s.RetryScheduled += o.RetryScheduled
	s.ShadowSent += o.ShadowSent
	s.Released += o.Released
	s.Skipped += o.Skipped
}

// Worker drains one queue kind against one provider
type Worker struct {
	kind     models.JobKind
	queue    Queue
	adapter  Adapter
	sender   Sender
	flags    FlagSource
	policy   Policy
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Worker)

func WithNotifier(n Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func NewWorker(kind models.JobKind, q Queue, a Adapter, s Sender, f FlagSource, p Policy, l *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		kind:    kind,
		queue:   q,
		adapter: a,
		sender:  s,
		flags:   f,
		policy:  p,
		logger:  l.With("worker", kind),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Kind() models.JobKind { return w.kind }

// RunBatch claims and dispatches up to limit due items.
// Per-item failures never abort the batch. Store errors while recording an
// outcome are joined into the returned error once the batch is done.
func (w *Worker) RunBatch(ctx context.Context, limit int) (Summary, error) {
	var sum Summary

	settings, err := w.flags.SyncSettings(ctx)
	if err != nil {
		return sum, fmt.Errorf("load settings: %w", err)
	}
	if !settings.OutboundEnabled {
		return sum, nil
	}

	start := time.Now()
	jobs, err := w.queue.ClaimDue(ctx, w.now(), limit)
	if err != nil {
		return sum, fmt.Errorf("claim failure: %w", err)
	}
	if len(jobs) == 0 {
		return sum, nil
	}
	sum.Claimed = len(jobs)

	kind := string(w.kind)
	metrics.BatchSize.WithLabelValues(kind).Observe(float64(len(jobs)))
	defer func() {
		metrics.BatchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		w.logger.Info("Batch cycle telemetry",
			"claimed", sum.Claimed,
			"sent", sum.Sent,
			"shadow", sum.ShadowSent,
			"retry", sum.RetryScheduled,
			"failed", sum.Failed,
			"released", sum.Released,
			"skipped", sum.Skipped,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	w.warnHeavyBatch(jobs)

	var errs []error
	for i, job := range jobs {
		select {
		case <-ctx.Done():
			w.logger.Warn("Shutdown signal received. Releasing remaining items.")
			remaining := extractRemainingIDs(jobs, i)
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
			if err := w.queue.Release(cleanupCtx, job.ClaimID, remaining); err != nil {
				w.logger.Error("CRITICAL: Failed to release items during shutdown", "error", err, "count", len(remaining))
				errs = append(errs, fmt.Errorf("release: %w", err))
			} else {
				sum.Released = len(remaining)
				metrics.DispatchOutcomes.WithLabelValues(kind, "released").Add(float64(len(remaining)))
			}
			cancel()
			errs = append(errs, ctx.Err())
			return sum, errors.Join(errs...)
		default:
		}

		// in-flight work completes and is recorded even if ctx is cancelled meanwhile
		itemCtx := context.WithoutCancel(ctx)

		beatCtx, cancel := context.WithTimeout(itemCtx, recordTimeout)
		err := w.queue.Heartbeat(beatCtx, job)
		cancel()
		if err != nil {
			w.logger.Warn("Claim no longer held, skipping item", "id", job.ID, "error", err)
			sum.Skipped++
			metrics.DispatchOutcomes.WithLabelValues(kind, "skipped").Inc()
			continue
		}

		t := w.process(itemCtx, settings, job)

		recordCtx, cancel := context.WithTimeout(itemCtx, recordTimeout)
		err = w.queue.Finish(recordCtx, job, t)
		cancel()
		if err != nil {
			w.logger.Error("Outcome computed but failed to update status in DB", "id", job.ID, "status", t.Status, "error", err)
			errs = append(errs, fmt.Errorf("finish %s: %w", job.ID, err))
			continue
		}

		w.count(&sum, t)
		if w.notifier != nil {
			if err := w.notifier.NotifyOutcome(itemCtx, w.kind, job, t); err != nil {
				w.logger.Warn("Outcome notification failed", "id", job.ID, "error", err)
			}
		}
	}

	return sum, errors.Join(errs...)
}

func (w *Worker) process(ctx context.Context, settings models.SyncSettings, job models.Job) models.Transition {
	l := w.logger.With("id", job.ID, "attempt", job.Attempts+1)
	now := w.now()

	req, err := w.adapter.Build(ctx, job)
	if err != nil {
		l.Error("Failed to build provider request", "error", err)
		return models.Transition{
			Status:       models.StatusFailed,
			Attempts:     job.Attempts + 1,
			ErrorMessage: err.Error(),
			Log: job.Log.Append(models.AttemptRecord{
				Timestamp: now,
				Attempt:   job.Attempts + 1,
				Outcome:   "build_error",
				Error:     err.Error(),
			}),
		}
	}

	if settings.ShadowMode {
		return w.shadow(l, job, req, now)
	}

	resp, err := w.sender.Send(ctx, req, job.IdempotencyKey)
	finished := w.now()
	rec := models.AttemptRecord{
		Timestamp:  finished,
		Attempt:    job.Attempts + 1,
		HTTPStatus: resp.StatusCode,
		DurationMS: resp.Duration.Milliseconds(),
		Response:   string(resp.Body),
	}

	if err != nil && errors.Is(err, provider.ErrCircuitOpen) {
		// breaker open behaves as a 503 without touching the network
		resp.StatusCode = 503
		err = nil
		rec.Error = provider.ErrCircuitOpen.Error()
	}
	if err != nil {
		l.Error("Provider call failed", "error", err)
		metrics.DispatchLatency.WithLabelValues(string(w.kind), "error").Observe(resp.Duration.Seconds())
		rec.Outcome = "transport_error"
		rec.Error = err.Error()
		return models.Transition{
			Status:       models.StatusFailed,
			Attempts:     job.Attempts + 1,
			ErrorMessage: err.Error(),
			Log:          job.Log.Append(rec),
		}
	}

	metrics.DispatchLatency.WithLabelValues(string(w.kind), strconv.Itoa(resp.StatusCode)).Observe(resp.Duration.Seconds())

	if resp.OK() {
		id, number := w.adapter.Reference(resp.Body)
		rec.Outcome = "sent"
		l.Info("Delivered", "external_ref", id, "duration_ms", rec.DurationMS)
		return models.Transition{
			Status:         models.StatusSent,
			Attempts:       job.Attempts + 1,
			ExternalRef:    id,
			ExternalNumber: number,
			Response:       rawJSON(resp.Body),
			Log:            job.Log.Append(rec),
			SentAt:         &finished,
		}
	}

	out := w.policy.Decide(resp.StatusCode, job.Attempts, job.MaxAttempts, finished)
	msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, snippet(resp.Body))
	if rec.Error == "" {
		rec.Error = msg
	}
	if out.Status == models.StatusPending {
		rec.Outcome = "retry_scheduled"
		l.Warn("Retry scheduled", "status", resp.StatusCode, "next_retry_at", out.NextRetryAt)
	} else {
		rec.Outcome = "failed"
		l.Error("Delivery failed definitively", "status", resp.StatusCode, "attempts", out.Attempts)
	}
	return models.Transition{
		Status:       out.Status,
		Attempts:     out.Attempts,
		NextRetryAt:  out.NextRetryAt,
		Response:     rawJSON(resp.Body),
		ErrorMessage: msg,
		Log:          job.Log.Append(rec),
	}
}

func (w *Worker) shadow(l *slog.Logger, job models.Job, req provider.Request, now time.Time) models.Transition {
	body, _ := json.Marshal(req.Body)
	l.Info("[SHADOW] Would call provider",
		"method", req.Method,
		"path", req.Path,
		"idempotency_key", job.IdempotencyKey,
		"body", string(body),
	)

	resp, _ := json.Marshal(map[string]any{"shadow": true, "request": json.RawMessage(body)})
	return models.Transition{
		Status:      models.StatusSentShadow,
		Attempts:    job.Attempts + 1,
		ExternalRef: "SHADOW-" + uuid.NewString(),
		Response:    resp,
		Log: job.Log.Append(models.AttemptRecord{
			Timestamp: now,
			Attempt:   job.Attempts + 1,
			Outcome:   "shadow_success",
			Shadow:    true,
		}),
		SentAt: &now,
	}
}

func (w *Worker) count(sum *Summary, t models.Transition) {
	var label string
	switch t.Status {
	case models.StatusSent:
		sum.Sent++
		label = "sent"
	case models.StatusSentShadow:
		sum.ShadowSent++
		label = "sent_shadow"
	case models.StatusPending:
		sum.RetryScheduled++
		label = "retry"
	default:
		sum.Failed++
		label = "failed"
	}
	metrics.DispatchOutcomes.WithLabelValues(string(w.kind), label).Inc()
}

func (w *Worker) warnHeavyBatch(jobs []models.Job) {
	var batchBytes int
	for _, j := range jobs {
		if j.Event != nil {
			batchBytes += j.Event.EstimateBytes()
		}
	}
	if batchMB := batchBytes / (1024 * 1024); batchMB > MaxBatchMemoryThresholdMB {
		w.logger.Warn("Heavy batch detected: memory pressure risk",
			"size_mb", batchMB,
			"threshold_mb", MaxBatchMemoryThresholdMB,
			"count", len(jobs),
		)
	}
}

func extractRemainingIDs(jobs []models.Job, start int) []string {
	ids := make([]string, 0, len(jobs)-start)
	for i := start; i < len(jobs); i++ {
		ids = append(ids, jobs[i].ID)
	}
	return ids
}

// rawJSON keeps valid JSON as is and quotes anything else
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func snippet(b []byte) string {
	if len(b) > models.MaxSnippetBytes {
		return string(b[:models.MaxSnippetBytes])
	}
	return string(b)
}
