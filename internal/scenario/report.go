package scenario

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/apperrors"
)

// ReportInput is a final report request.
type ReportInput struct {
	Force            bool   `json:"force"`
	CompletionReason string `json:"completionReason"`
	Locale           string `json:"locale"`
	Model            string `json:"model"`
}

// ReportResult is the stored final report payload.
type ReportResult struct {
	SessionID string           `json:"sessionId"`
	Response  *ResponsePayload `json:"response"`
}

const reportReminder = "Reminder: respond with a JSON object where `final_report` is a non-null object containing `overallAssessment` (string), `strengths` (string[]), `areasForGrowth` (string[]), and `recommendedPractice` (string[]). Do not return null, markdown, or extra commentary."

// forcedCompletionReason is the reason of record when the player ends the
// conversation and neither the model nor prior checkpoints supplied one.
const forcedCompletionReason = "Player ended the conversation."

// GenerateFinalReport produces the closing debrief over the whole transcript
// and marks the session complete. Completion is first-write-wins: repeat calls
// regenerate the report but never move the completion timestamp. An active
// session is rejected unless force is set.
func (s *Service) GenerateFinalReport(ctx context.Context, sessionID string, in ReportInput) (*ReportResult, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.LatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Conflict("no turns recorded for this session")
	}

	alreadyComplete := session.CompletedAt != nil || latest.ConversationComplete
	if !alreadyComplete && !in.Force {
		return nil, apperrors.Conflict("conversation is still active, pass force=true to override")
	}

	turns, err := s.repo.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load turns", err)
	}
	if len(turns) == 0 {
		return nil, apperrors.Conflict("cannot build report without any turns")
	}

	history := historyFromTurns(turns)
	playerTurns := countPlayerTurns(history)

	locale := strings.TrimSpace(in.Locale)
	if locale == "" {
		locale = session.Locale
	}

	provider, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	promptIn := PromptInput{
		Scenario:       session.Scenario(),
		Npc:            session.Npc(),
		SummaryDue:     true,
		AssessmentDue:  true,
		FinalReportDue: true,
		AllowAutoEnd:   true,
		Locale:         locale,
	}
	messages := Messages(
		SystemPrompt(promptIn),
		FormatInstruction(true, true, true, locale),
		Snapshot(session.Scenario(), history, true, true, true, true),
		history,
	)
	opts := ai.Options{
		Model:            s.cfg.ModelFor(in.Model, s.cfg.ReportModel),
		Temperature:      0.9,
		PresencePenalty:  0.6,
		FrequencyPenalty: 0.3,
	}

	raw, err := s.chatJSON(ctx, provider, messages, opts)
	if err != nil {
		return nil, apperrors.UpstreamModel("model call failed", err)
	}
	payload, parseErr := ParsePayload(raw)
	if parseErr != nil || payload.FinalReport == nil {
		s.log.Warn("final report missing from payload, retrying with reminder",
			zap.String("session_id", sessionID))
		reminderMessages := append(append([]ai.Message{}, messages...), ai.Message{Role: "user", Content: reportReminder})
		raw, err = s.chatJSON(ctx, provider, reminderMessages, opts)
		if err != nil {
			return nil, apperrors.UpstreamModel("model call failed", err)
		}
		payload, parseErr = ParsePayload(raw)
	}
	if parseErr != nil || payload.FinalReport == nil {
		return nil, apperrors.UpstreamModel("model failed to produce final report", parseErr)
	}

	reason := completionReason(in, payload, latest, session)
	payload.ConversationComplete = true
	payload.ConversationCompleteReason = reason
	payload.Checkpoints = CheckpointInfo{
		TotalPlayerTurns: playerTurns,
		SummaryDue:       true,
		AssessmentDue:    true,
	}

	if err := s.repo.SaveFinalReport(ctx, sessionID, latest.PlayerTurnCount, payload, reason); err != nil {
		return nil, apperrors.Server("failed to persist final report", err)
	}

	return &ReportResult{SessionID: sessionID, Response: payload}, nil
}

// completionReason resolves the reason of record: explicit override, then the
// fresh model output, then the stored checkpoint, then the session row, then
// the forced-end default.
func completionReason(in ReportInput, payload *ResponsePayload, latest *Checkpoint, session *Session) *string {
	if r := strings.TrimSpace(in.CompletionReason); r != "" {
		return &r
	}
	if payload.ConversationCompleteReason != nil {
		return payload.ConversationCompleteReason
	}
	if latest.ConversationCompleteReason != nil {
		return latest.ConversationCompleteReason
	}
	if session.CompletionReason != nil {
		return session.CompletionReason
	}
	if in.Force {
		r := forcedCompletionReason
		return &r
	}
	return nil
}
