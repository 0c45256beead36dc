package job

import (
	"context"

	"github.com/voxhub/asr-gateway/internal/dispatch"
	"github.com/voxhub/asr-gateway/internal/events"
	"github.com/voxhub/asr-gateway/internal/identity"
	"github.com/voxhub/asr-gateway/internal/plan"
	"github.com/voxhub/asr-gateway/internal/quota"
	"go.uber.org/zap"
)

// Dispatcher hands an admitted job to the async worker pool.
type Dispatcher interface {
	PublishTask(ctx context.Context, task dispatch.TaskMessage) (string, error)
}

// Service is the admission path: quota gate, then the durable queued row,
// then dispatch. Rejections happen before any write, so a denied upload
// leaves no trace.
type Service struct {
	jobs       *Store
	guard      *quota.Guard
	dispatcher Dispatcher
	events     events.Publisher
	log        *zap.Logger

	defaultLanguage string
}

func NewService(jobs *Store, guard *quota.Guard, d Dispatcher, ev events.Publisher, log *zap.Logger, defaultLanguage string) *Service {
	if ev == nil {
		ev = events.Nop{}
	}
	return &Service{
		jobs:            jobs,
		guard:           guard,
		dispatcher:      d,
		events:          ev,
		log:             log,
		defaultLanguage: defaultLanguage,
	}
}

type SubmitParams struct {
	Identity     identity.Identity
	Plan         *plan.Plan
	Audio        []byte
	ContentType  string
	Language     string
	DeclaredSize int64
}

// Submit admits, persists and dispatches one upload. A non-nil Decision with
// Allowed=false is a quota rejection; the caller maps it to 403. A non-nil
// error after the row exists means dispatch failed: the queued row stays for
// the stale-queued sweeper, and the client gets a retryable failure.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*Job, *quota.Decision, error) {
	if err := p.Identity.Validate(); err != nil {
		return nil, nil, err
	}

	decision, err := s.guard.Admit(ctx, p.Identity, p.Plan, p.DeclaredSize, p.Audio)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Allowed {
		s.log.Info("upload rejected",
			zap.String("code", decision.Code),
			zap.String("plan", p.Plan.Code))
		return nil, &decision, nil
	}

	j, err := s.jobs.Create(ctx, CreateParams{
		Identity:         p.Identity,
		PlanCode:         p.Plan.Code,
		AudioMime:        p.ContentType,
		AudioDurationSec: decision.DurationSec,
	})
	if err != nil {
		return nil, nil, err
	}

	lang := p.Language
	if lang == "" {
		lang = s.defaultLanguage
	}

	taskID, err := s.dispatcher.PublishTask(ctx, dispatch.TaskMessage{
		JobID:       j.ID,
		ContentType: p.ContentType,
		Language:    lang,
		PlanCode:    p.Plan.Code,
		Audio:       p.Audio,
	})
	if err != nil {
		s.log.Error("dispatch failed, job left queued",
			zap.String("job_id", j.ID),
			zap.Error(err))
		return nil, nil, err
	}

	if err := s.jobs.SetTaskID(ctx, j.ID, taskID); err != nil {
		// the worker does not need the handle; losing it is not worth
		// failing a dispatched job
		s.log.Warn("task id not recorded", zap.String("job_id", j.ID), zap.Error(err))
	}
	j.TaskID = &taskID

	s.events.Publish(ctx, j.ID, map[string]any{"status": "queued"})

	s.log.Info("job queued",
		zap.String("job_id", j.ID),
		zap.String("plan", p.Plan.Code),
		zap.Int("audio_bytes", len(p.Audio)))

	return j, nil, nil
}
