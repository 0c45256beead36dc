// Package worker executes the per-job transcription state machine. One task
// runs per dispatched job; tasks for different jobs run concurrently, but a
// single job's lifecycle is strictly sequential.
package worker

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/voxhub/asr-gateway/internal/audio"
	"github.com/voxhub/asr-gateway/internal/dispatch"
	"github.com/voxhub/asr-gateway/internal/events"
	"github.com/voxhub/asr-gateway/internal/job"
	"github.com/voxhub/asr-gateway/internal/usage"
	"go.uber.org/zap"
)

// Engine is the external transcription backend.
type Engine interface {
	Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, error)
}

type Runner struct {
	jobs   *job.Store
	ledger *usage.Store
	engine Engine
	events events.Publisher
	log    *zap.Logger

	wordCost   float64
	maxRetries int
	backoff    time.Duration
}

func NewRunner(jobs *job.Store, ledger *usage.Store, eng Engine, ev events.Publisher, log *zap.Logger, wordCost float64, maxRetries int, backoff time.Duration) *Runner {
	if ev == nil {
		ev = events.Nop{}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Runner{
		jobs:       jobs,
		ledger:     ledger,
		engine:     eng,
		events:     ev,
		log:        log,
		wordCost:   wordCost,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Run drives one job to a terminal state. Transient failures are retried up
// to maxRetries with a fixed backoff; other failures are terminal on the
// first attempt. A nil return means the job reached a terminal state and
// the delivery can be acked; a non-nil return is an infrastructure failure
// (job row unreachable) and the delivery should be dead-lettered.
func (r *Runner) Run(ctx context.Context, task dispatch.TaskMessage) error {
	for attempt := 0; ; attempt++ {
		err := r.runOnce(ctx, task)
		if err == nil {
			return nil
		}
		var se *stateError
		if errors.As(err, &se) {
			return err
		}

		f := Classify(err)
		if !f.Retryable() || attempt >= r.maxRetries {
			r.log.Warn("job failed terminally",
				zap.String("job_id", task.JobID),
				zap.String("code", f.Code),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			return nil
		}

		r.log.Info("transient failure, retrying",
			zap.String("job_id", task.JobID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", r.backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff):
		}
	}
}

// stateError marks failures of the job store itself, as opposed to failures
// of the transcription work.
type stateError struct{ err error }

func (e *stateError) Error() string { return "worker: job state: " + e.err.Error() }
func (e *stateError) Unwrap() error { return e.err }

func (r *Runner) runOnce(ctx context.Context, task dispatch.TaskMessage) error {
	start := time.Now()

	// step 1: mark processing, record the declared mime
	fields := map[string]any{}
	if task.ContentType != "" {
		fields["audio_mime"] = task.ContentType
	}
	if err := r.jobs.Transition(ctx, task.JobID, job.StatusProcessing, fields); err != nil {
		if errors.Is(err, job.ErrIllegalTransition) {
			// redelivery of a job that already reached a terminal state
			return r.reconcileTerminal(ctx, task)
		}
		return &stateError{err}
	}
	r.events.Publish(ctx, task.JobID, map[string]any{"status": "processing"})

	current, err := r.jobs.Get(ctx, task.JobID)
	if err != nil {
		return &stateError{err}
	}

	// step 2: authoritative metadata. The admission estimate, when present,
	// is kept: the quota decision made on it is not revisited here.
	var durationSec *float64
	if meta, probeErr := audio.Probe(task.Audio); probeErr == nil {
		metaFields := map[string]any{
			"audio_sample_rate": meta.SampleRate,
			"audio_channels":    meta.Channels,
			"audio_format":      meta.Format,
		}
		if current.AudioDurationSec == nil {
			metaFields["audio_duration_sec"] = meta.DurationSec
			d := meta.DurationSec
			durationSec = &d
		} else {
			durationSec = current.AudioDurationSec
		}
		if err := r.jobs.DB().WithContext(ctx).Model(&job.Job{}).
			Where("id = ?", task.JobID).Updates(metaFields).Error; err != nil {
			return &stateError{err}
		}
	} else {
		durationSec = current.AudioDurationSec
	}

	// step 3: the engine call; failure handling below maps it to the
	// taxonomy and records terminal error state
	text, err := r.engine.Transcribe(ctx, task.Audio, task.ContentType, task.Language)
	if err != nil {
		return r.recordFailure(ctx, task, err, time.Since(start))
	}

	// step 4: terminal done
	wordsCount := len(strings.Fields(text))
	charsCount := utf8.RuneCountInString(text)
	processingTime := time.Since(start).Seconds()

	if err := r.jobs.Transition(ctx, task.JobID, job.StatusDone, map[string]any{
		"text":                 text,
		"words_count":          wordsCount,
		"chars_count":          charsCount,
		"processing_time_sec":  processingTime,
		"error_message":        nil,
		"error_code":           nil,
		"error_message_public": nil,
	}); err != nil {
		return &stateError{err}
	}

	// step 5: bill exactly once per job
	dur := 0.0
	if durationSec != nil {
		dur = *durationSec
	}
	cost := usage.Cost(dur, wordsCount, r.wordCost)
	if err := r.ledger.Upsert(ctx, &usage.Entry{
		JobID:            task.JobID,
		ApplicationID:    current.ApplicationID,
		UserID:           current.UserID,
		SessionKey:       current.SessionKey,
		PlanCode:         task.PlanCode,
		AudioDurationSec: dur,
		WordsCount:       wordsCount,
		CharsCount:       charsCount,
		CostUnits:        cost,
	}); err != nil {
		return &stateError{err}
	}

	// step 6: lifecycle event with the result summary
	r.events.Publish(ctx, task.JobID, map[string]any{
		"status":             "done",
		"text":               text,
		"words_count":        wordsCount,
		"chars_count":        charsCount,
		"audio_duration_sec": durationSec,
		"processing_seconds": processingTime,
		"cost_units":         cost,
		"plan":               task.PlanCode,
	})

	return nil
}

// reconcileTerminal handles a redelivered task whose job is already
// terminal. For a done job the ledger upsert is replayed from stored
// fields, so a crash between the done write and the billing write cannot
// lose the entry; double execution cannot double-charge either, the upsert
// is keyed by job id.
func (r *Runner) reconcileTerminal(ctx context.Context, task dispatch.TaskMessage) error {
	current, err := r.jobs.Get(ctx, task.JobID)
	if err != nil {
		return &stateError{err}
	}

	switch current.Status {
	case job.StatusDone:
		dur := 0.0
		if current.AudioDurationSec != nil {
			dur = *current.AudioDurationSec
		}
		if err := r.ledger.Upsert(ctx, &usage.Entry{
			JobID:            current.ID,
			ApplicationID:    current.ApplicationID,
			UserID:           current.UserID,
			SessionKey:       current.SessionKey,
			PlanCode:         current.PlanCode,
			AudioDurationSec: dur,
			WordsCount:       current.WordsCount,
			CharsCount:       current.CharsCount,
			CostUnits:        usage.Cost(dur, current.WordsCount, r.wordCost),
		}); err != nil {
			return &stateError{err}
		}
		return nil
	case job.StatusError:
		return nil
	default:
		// another executor holds the job; leave it alone
		r.log.Warn("redelivered task for in-flight job", zap.String("job_id", task.JobID))
		return nil
	}
}

// recordFailure moves the job to error with the public taxonomy pair and
// the internal detail, then returns the original error so Run can decide on
// a retry.
func (r *Runner) recordFailure(ctx context.Context, task dispatch.TaskMessage, cause error, elapsed time.Duration) error {
	f := Classify(cause)

	if err := r.jobs.Transition(ctx, task.JobID, job.StatusError, map[string]any{
		"error_message":        cause.Error(),
		"error_code":           f.Code,
		"error_message_public": f.PublicMessage,
		"processing_time_sec":  elapsed.Seconds(),
	}); err != nil {
		return &stateError{err}
	}

	// the event carries only the public pair, never the internal detail
	r.events.Publish(ctx, task.JobID, map[string]any{
		"status":     "error",
		"error_code": f.Code,
		"message":    f.PublicMessage,
	})

	return cause
}
