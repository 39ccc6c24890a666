package scenario

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// UpsertSession creates or fully replaces the session row keyed by session_id.
func (r *Repo) UpsertSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"scenario_id", "scenario_title", "scenario_setting", "tension_level",
				"learning_objectives", "supporting_facts",
				"npc_id", "npc_name", "npc_role", "npc_persona",
				"npc_goals", "npc_tactics", "npc_boundaries",
				"locale", "allow_auto_end", "updated_at",
			}),
		}).
		Create(s).Error
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListTurns returns all turns in ascending turn index order.
func (r *Repo) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	var turns []Turn
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index ASC").
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

func (r *Repo) ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	var cps []Checkpoint
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("player_turn_count ASC").
		Find(&cps).Error; err != nil {
		return nil, err
	}
	return cps, nil
}

// LatestCheckpoint returns the checkpoint with the highest player turn count,
// which is the authoritative one for session status.
func (r *Repo) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("player_turn_count DESC").
		First(&cp).Error; err != nil {
		return nil, err
	}
	return &cp, nil
}

// SessionUpdate captures the session columns touched by a turn or analysis.
type SessionUpdate struct {
	Locale          string
	AllowAutoEnd    bool
	LastSummaryRisk *string
	LastScore       *int
	Complete        bool
	CompleteReason  *string
}

// SaveTurnResult persists the player turn, the npc turn and the checkpoint as
// one atomic unit, updating the session row alongside. Turn inserts ignore
// index conflicts and the checkpoint upserts on (session_id, player_turn_count),
// so a concurrent double-submission cannot corrupt the stored ordering.
// Session completion is first-write-wins: completed_at is never overwritten.
func (r *Repo) SaveTurnResult(ctx context.Context, sessionID string, playerTurn, npcTurn Turn, cp Checkpoint, update SessionUpdate) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sets := map[string]any{
			"updated_at":     now,
			"allow_auto_end": update.AllowAutoEnd,
			"locale":         update.Locale,
		}
		if update.LastSummaryRisk != nil {
			sets["last_summary_risk"] = *update.LastSummaryRisk
		}
		if update.LastScore != nil {
			sets["last_score"] = *update.LastScore
		}
		if err := tx.Model(&Session{}).
			Where("session_id = ?", sessionID).
			Updates(sets).Error; err != nil {
			return err
		}
		if update.Complete {
			if err := tx.Model(&Session{}).
				Where("session_id = ? AND completed_at IS NULL", sessionID).
				Updates(map[string]any{
					"completed_at":      now,
					"completion_reason": update.CompleteReason,
				}).Error; err != nil {
				return err
			}
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&[]Turn{playerTurn, npcTurn}).Error; err != nil {
			return err
		}

		return upsertCheckpoint(tx, &cp)
	})
}

// SaveAnalysisResult persists a cadence-analysis checkpoint without touching
// turns.
func (r *Repo) SaveAnalysisResult(ctx context.Context, sessionID string, cp Checkpoint, update SessionUpdate) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sets := map[string]any{
			"updated_at":     now,
			"allow_auto_end": update.AllowAutoEnd,
			"locale":         update.Locale,
		}
		if update.LastScore != nil {
			sets["last_score"] = *update.LastScore
		}
		if err := tx.Model(&Session{}).
			Where("session_id = ?", sessionID).
			Updates(sets).Error; err != nil {
			return err
		}
		return upsertCheckpoint(tx, &cp)
	})
}

// SaveFinalReport marks the session complete (first-write-wins on
// completed_at) and overwrites the latest checkpoint with the report fields.
func (r *Repo) SaveFinalReport(ctx context.Context, sessionID string, playerTurnCount int, payload *ResponsePayload, reason *string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Session{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"updated_at":        now,
				"completion_reason": reason,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&Session{}).
			Where("session_id = ? AND completed_at IS NULL", sessionID).
			Update("completed_at", now).Error; err != nil {
			return err
		}

		// Struct update with Select so the json serializer applies and
		// false/nil values are still written.
		return tx.Model(&Checkpoint{}).
			Where("session_id = ? AND player_turn_count = ?", sessionID, playerTurnCount).
			Select("summary", "score", "final_report", "safety_alerts",
				"conversation_complete", "conversation_complete_reason",
				"raw_response", "updated_at").
			Updates(&Checkpoint{
				Summary:                    payload.Summary,
				Score:                      payload.Score,
				FinalReport:                payload.FinalReport,
				SafetyAlerts:               payload.SafetyAlerts,
				ConversationComplete:       true,
				ConversationCompleteReason: reason,
				RawResponse:                payload,
				UpdatedAt:                  now,
			}).Error
	})
}

func upsertCheckpoint(tx *gorm.DB, cp *Checkpoint) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "player_turn_count"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"summary_due", "assessment_due", "npc_reply",
			"summary", "score", "final_report", "safety_alerts",
			"conversation_complete", "conversation_complete_reason",
			"raw_response", "updated_at",
		}),
	}).Create(cp).Error
}

// Snippets

func (r *Repo) ListSnippets(ctx context.Context, sessionID string) ([]Snippet, error) {
	var snippets []Snippet
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index ASC").
		Find(&snippets).Error; err != nil {
		return nil, err
	}
	return snippets, nil
}

// ReplaceSnippets is a full delete+reinsert: snippets are regenerable.
func (r *Repo) ReplaceSnippets(ctx context.Context, sessionID string, snippets []Snippet) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).
			Delete(&Snippet{}).Error; err != nil {
			return err
		}
		if len(snippets) == 0 {
			return nil
		}
		return tx.Create(&snippets).Error
	})
}

// Capsules

// ReplaceCapsule enforces one capsule per session by deleting any prior row
// before inserting.
func (r *Repo) ReplaceCapsule(ctx context.Context, c *Capsule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", c.SessionID).
			Delete(&Capsule{}).Error; err != nil {
			return err
		}
		return tx.Create(c).Error
	})
}

func (r *Repo) GetCapsuleBySession(ctx context.Context, sessionID string) (*Capsule, error) {
	var c Capsule
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetCapsuleByToken(ctx context.Context, shareToken string) (*Capsule, error) {
	var c Capsule
	if err := r.db.WithContext(ctx).
		Where("share_token = ?", shareToken).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// BumpCapsuleViews is a deliberate read-modify-write: the counter is an
// analytics figure, not exactness-critical.
func (r *Repo) BumpCapsuleViews(ctx context.Context, shareToken string, current int) error {
	return r.db.WithContext(ctx).Model(&Capsule{}).
		Where("share_token = ?", shareToken).
		Update("view_count", current+1).Error
}

// Jobs

func (r *Repo) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) MarkJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, playerTurnCount int) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":                   JobSucceeded,
			"result_player_turn_count": playerTurnCount,
			"error":                    nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":                   JobFailed,
			"error":                    errMsg,
			"result_player_turn_count": nil,
		}).Error
}

func (r *Repo) getJobByIdempotencyKey(ctx context.Context, sessionID, key string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND idempotency_key = ?", sessionID, key).
		First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJobOrGetExisting tries to create a job; if (session_id,
// idempotency_key) already exists it returns the existing job instead. The
// bool reports whether a new job was created.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.getJobByIdempotencyKey(ctx, job.SessionID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
