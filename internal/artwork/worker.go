// Package artwork runs sprite synthesis off the exploration path. Requests
// are stored as jobs so they survive restarts and are retried with backoff.
package artwork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/llm"
	"github.com/kalambet/cory/internal/notify"
	"github.com/kalambet/cory/internal/storage"
)

// JobType is the queue type for sprite synthesis.
const JobType = "synthesize_art"

const defaultMaxAttempts = 3

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	RequeueRunningJobs(types []string) (int64, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string, retry bool) (bool, error)
	DeleteImagesForRecord(recordID string) (int64, error)
}

// Painter produces a stored sprite and returns its reference.
type Painter interface {
	SynthesizeImage(ctx context.Context, recordID string, attrs creature.Attributes) (string, error)
}

// Records is the part of the collection the worker touches.
type Records interface {
	Get(id string) (creature.Record, bool)
	Update(id string, fn func(*creature.Record)) (creature.Record, bool, error)
}

type payload struct {
	RecordID   string              `json:"record_id"`
	Attributes creature.Attributes `json:"attributes"`
}

// Queue enqueues synthesis requests.
type Queue struct {
	store       JobStore
	maxAttempts int
}

// NewQueue creates a Queue. If maxAttempts is <= 0, it defaults to 3.
func NewQueue(store JobStore, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Queue{store: store, maxAttempts: maxAttempts}
}

// Commission asks for a sprite for recordID drawn from attrs.
func (q *Queue) Commission(_ context.Context, recordID string, attrs creature.Attributes) error {
	body, err := json.Marshal(payload{RecordID: recordID, Attributes: attrs})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        JobType,
		PayloadJSON: string(body),
		MaxAttempts: q.maxAttempts,
	}
	if err := q.store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing synthesis for %s: %w", recordID, err)
	}
	return nil
}

// Worker processes synthesize_art jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	painter  Painter
	records  Records
	notifier notify.Notifier
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, painter Painter, records Records, notifier notify.Notifier, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Worker{
		store:    store,
		painter:  painter,
		records:  records,
		notifier: notifier,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled. Jobs a previous process left
// running are requeued first.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs([]string{JobType}); err != nil {
		w.logger.Error("requeueing interrupted artwork", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted artwork", "jobs", n)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("artwork worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single synthesize_art job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	recordID, err := w.processJob(ctx, job)
	if err != nil {
		retry := llm.IsRetryable(err)
		w.logger.Warn("artwork job failed", "job_id", job.ID, "record_id", recordID, "retry", retry, "error", err)
		final, failErr := w.store.FailJob(job.ID, err.Error(), retry)
		if failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
			return true, nil
		}
		if final && recordID != "" {
			msg := "Couldn't draw your new Cory. It keeps its default look."
			if errors.Is(err, llm.ErrUnconfigured) {
				msg = "Image generation is not configured. Your new Cory keeps its default look."
			}
			w.notifier.Notify(notify.Notice{Kind: notify.KindImageFallback, Message: msg, RecordID: recordID})
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	// A record removed by a cancelled exploration no longer needs art.
	if _, ok := w.records.Get(p.RecordID); !ok {
		w.logger.Debug("skipping artwork for removed record", "record_id", p.RecordID)
		return "", nil
	}

	ref, err := w.painter.SynthesizeImage(ctx, p.RecordID, p.Attributes)
	if err != nil {
		return p.RecordID, err
	}

	rec, ok, err := w.records.Update(p.RecordID, func(r *creature.Record) {
		r.ImageRef = ref
	})
	if err != nil {
		return p.RecordID, fmt.Errorf("updating record %s: %w", p.RecordID, err)
	}
	if !ok {
		// Removed while the sprite was being drawn.
		if _, err := w.store.DeleteImagesForRecord(p.RecordID); err != nil {
			w.logger.Warn("failed to delete orphaned sprite", "record_id", p.RecordID, "error", err)
		}
		return "", nil
	}

	w.notifier.Notify(notify.Notice{
		Kind:     notify.KindImageReady,
		Message:  fmt.Sprintf("%s has a brand new look!", rec.Name),
		RecordID: rec.ID,
	})
	return p.RecordID, nil
}
