package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/apperrors"
)

// AnalysisInput is a cadence-analysis request.
type AnalysisInput struct {
	Force        bool   `json:"force"`
	AllowAutoEnd *bool  `json:"allowAutoEnd"`
	Locale       string `json:"locale"`
	Model        string `json:"model"`
}

// AnalysisResult reports either a stored score checkpoint or an explicit skip
// when the cadence is not due.
type AnalysisResult struct {
	SessionID   string           `json:"sessionId"`
	Skipped     bool             `json:"skipped,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Checkpoints *CheckpointInfo  `json:"checkpoints,omitempty"`
	Response    *ResponsePayload `json:"response,omitempty"`
	Raw         string           `json:"raw,omitempty"`
}

// buildScoreMessages produces the stripped-down evaluator prompt: a strict
// two-key JSON contract over the last eight turns.
func buildScoreMessages(scenario ScenarioDescriptor, npc NpcProfile, history []ConversationTurn, locale string) []ai.Message {
	recent := history
	if len(recent) > 8 {
		recent = recent[len(recent)-8:]
	}
	lines := make([]string, 0, len(recent))
	for i, turn := range recent {
		speaker := "Player"
		if turn.Role == RoleNpc {
			speaker = npc.Name
		}
		lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, speaker, turn.Content))
	}
	transcript := strings.Join(lines, "\n")
	if transcript == "" {
		transcript = "(no conversation yet)"
	}

	system := strings.Join([]string{
		"You are a concise evaluator scoring an STI risk role-play.",
		"Output only strict JSON with keys confidence and riskScore (0-100 integers).",
		"Use confidence to show certainty in the current player's skills.",
		"Use riskScore to reflect the player's current exposure to risky behaviour.",
		"Do not add explanations, prose, markdown, or extra keys.",
	}, " ")

	title := scenario.Title
	if title == "" {
		title = scenario.ID
	}
	userParts := []string{"scenario: " + title}
	if scenario.Setting != "" {
		userParts = append(userParts, "setting: "+scenario.Setting)
	}
	if len(scenario.LearningObjectives) > 0 {
		userParts = append(userParts, "objectives: "+strings.Join(scenario.LearningObjectives, ", "))
	}
	if locale != "" {
		userParts = append(userParts, "locale: "+locale)
	}
	persona := npc.Persona
	if persona == "" {
		persona = npc.Role
	}
	userParts = append(userParts, "npc persona: "+persona, "recent turns:", transcript)

	return []ai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: strings.Join(userParts, "\n")},
	}
}

// parseScoreResponse parses the evaluator output. Missing or malformed fields
// fall back to 50; a document that is not a JSON object at all is an error.
func parseScoreResponse(raw string) (*ScoreSection, error) {
	trimmed := strings.TrimSpace(StripCodeFences(strings.TrimSpace(raw)))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty analytics content", ErrInvalidPayload)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &ScoreSection{
		Confidence: clampScoreDefault(decoded["confidence"], 50),
		RiskScore:  clampScoreDefault(decoded["riskScore"], 50),
		Notes:      "",
	}, nil
}

// RunAnalysis scores the session at the checkpoint cadence. When the cadence
// is not due and force is off it skips without calling the model. The stored
// checkpoint carries the score only; npc reply echoes the latest npc turn.
func (s *Service) RunAnalysis(ctx context.Context, sessionID string, in AnalysisInput) (*AnalysisResult, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.repo.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load turns", err)
	}
	if len(turns) == 0 {
		return nil, apperrors.Validation("no turns recorded for session")
	}

	history := historyFromTurns(turns)
	playerTurns := countPlayerTurns(history)
	scheduledDue := playerTurns > 0 && playerTurns%SummaryInterval == 0
	due := in.Force || scheduledDue

	if !due {
		return &AnalysisResult{
			SessionID: sessionID,
			Skipped:   true,
			Reason:    "Analysis not due",
			Checkpoints: &CheckpointInfo{
				TotalPlayerTurns: playerTurns,
				SummaryDue:       scheduledDue,
				AssessmentDue:    scheduledDue,
			},
		}, nil
	}

	allowAutoEnd := session.AllowAutoEnd
	if in.AllowAutoEnd != nil {
		allowAutoEnd = *in.AllowAutoEnd
	}
	locale := strings.TrimSpace(in.Locale)
	if locale == "" {
		locale = session.Locale
	}

	provider, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	messages := buildScoreMessages(session.Scenario(), session.Npc(), history, locale)
	opts := ai.Options{
		Model:       s.cfg.ModelFor(in.Model, s.cfg.AnalysisModel),
		Temperature: 0.2,
	}
	raw, err := s.chatJSON(ctx, provider, messages, opts)
	if err != nil {
		return nil, apperrors.UpstreamModel("model call failed", err)
	}
	score, parseErr := parseScoreResponse(raw)
	if parseErr != nil {
		s.log.Warn("analysis payload failed to parse",
			zap.String("session_id", sessionID),
			zap.Error(parseErr))
		return nil, apperrors.UpstreamModel("model returned invalid analytics", parseErr)
	}

	latestNpcReply := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleNpc {
			latestNpcReply = history[i].Content
			break
		}
	}

	payload := &ResponsePayload{
		NpcReply:     latestNpcReply,
		Score:        score,
		SafetyAlerts: []string{},
		Checkpoints: CheckpointInfo{
			TotalPlayerTurns: playerTurns,
			SummaryDue:       due,
			AssessmentDue:    due,
		},
	}

	cp := Checkpoint{
		SessionID:       sessionID,
		PlayerTurnCount: playerTurns,
		SummaryDue:      due,
		AssessmentDue:   due,
		NpcReply:        payload.NpcReply,
		Score:           score,
		SafetyAlerts:    payload.SafetyAlerts,
		RawResponse:     payload,
	}
	update := SessionUpdate{
		Locale:       locale,
		AllowAutoEnd: allowAutoEnd,
		LastScore:    &score.RiskScore,
	}
	if err := s.repo.SaveAnalysisResult(ctx, sessionID, cp, update); err != nil {
		return nil, apperrors.Server("failed to persist analysis", err)
	}

	return &AnalysisResult{
		SessionID: sessionID,
		Response:  payload,
		Raw:       raw,
	}, nil
}
