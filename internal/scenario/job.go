package scenario

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/harithzain/simlab/internal/apperrors"
	"github.com/harithzain/simlab/internal/common"
)

// EnqueueTurn records an async turn submission. A repeated idempotency key for
// the same session returns the original job; the bool reports whether a new
// job row was created and needs publishing.
func (s *Service) EnqueueTurn(ctx context.Context, sessionID string, in TurnInput, idempotencyKey string) (*Job, bool, error) {
	if strings.TrimSpace(in.PlayerMessage) == "" {
		return nil, false, apperrors.Validation("player message is required")
	}
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, false, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, apperrors.Server("failed to generate job id", err)
	}
	job := &Job{
		ID:              id,
		SessionID:       sessionID,
		PlayerMessage:   strings.TrimSpace(in.PlayerMessage),
		ForceSummary:    in.ForceSummary,
		ForceAssessment: in.ForceAssessment,
		Locale:          strings.TrimSpace(in.Locale),
		AllowAutoEnd:    in.AllowAutoEnd,
		Status:          JobQueued,
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		job.IdempotencyKey = &key
	}

	stored, created, err := s.repo.CreateJobOrGetExisting(ctx, job)
	if err != nil {
		return nil, false, apperrors.Server("failed to create job", err)
	}
	return stored, created, nil
}

// GetJobStatus returns the job row for polling.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, apperrors.Validation("missing job id")
	}
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("job not found")
		}
		return nil, apperrors.Server("failed to load job", err)
	}
	return job, nil
}

// RunJob executes a queued turn job. Redelivered jobs that already reached a
// terminal state are acknowledged without re-running the turn. The returned
// error signals the consumer to route the delivery to retry or dead-letter.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("job not found, dropping delivery", zap.String("job_id", jobID))
			return nil
		}
		return err
	}
	if job.Status == JobSucceeded || job.Status == JobFailed {
		return nil
	}

	if err := s.repo.MarkJobRunning(ctx, job.ID); err != nil {
		return err
	}

	result, err := s.SubmitTurn(ctx, job.SessionID, TurnInput{
		PlayerMessage:   job.PlayerMessage,
		ForceSummary:    job.ForceSummary,
		ForceAssessment: job.ForceAssessment,
		AllowAutoEnd:    job.AllowAutoEnd,
		Locale:          job.Locale,
	})
	if err != nil {
		s.log.Error("turn job failed",
			zap.String("job_id", job.ID),
			zap.String("session_id", job.SessionID),
			zap.Error(err))
		if markErr := s.repo.MarkJobFailed(ctx, job.ID, err.Error()); markErr != nil {
			s.log.Error("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return err
	}

	count := result.Response.Checkpoints.TotalPlayerTurns
	if err := s.repo.MarkJobSucceeded(ctx, job.ID, count); err != nil {
		return err
	}
	s.log.Info("turn job succeeded",
		zap.String("job_id", job.ID),
		zap.String("session_id", job.SessionID),
		zap.Int("player_turn_count", count))
	return nil
}
