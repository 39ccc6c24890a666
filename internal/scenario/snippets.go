package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/apperrors"
)

// SnippetData is the wire form of one annotated dialogue moment.
type SnippetData struct {
	TurnIndex    int    `json:"turnIndex"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	Annotation   string `json:"annotation"`
	ImpactReason string `json:"impactReason"`
}

func snippetPrompt(session *Session, finalReport *FinalReportSection, score *ScoreSection) string {
	title := session.ScenarioTitle
	if title == "" {
		title = "Communication practice"
	}
	setting := session.ScenarioSetting
	if setting == "" {
		setting = "Conversation scenario"
	}

	var b strings.Builder
	b.WriteString("You are analyzing a conversation simulation where a player practiced navigating a sensitive scenario about sexual health and boundaries.\n\n")
	fmt.Fprintf(&b, "Scenario: %s\nSetting: %s\nNPC Role: %s\n\n", title, setting, session.NpcRole)
	b.WriteString(`Your task: Identify 3-5 impactful dialogue turns from the player's responses and provide annotations that highlight why these moments mattered.

Focus on turns where the player:
- Clearly validated consent or boundaries
- Showed empathy and active listening
- Corrected misinformation effectively
- Navigated a difficult moment with care
- Made a risky choice that needs coaching
- Demonstrated growth or learning

Format your response as JSON with an array of snippets:
{
  "snippets": [
    {
      "turnIndex": <number>,
      "role": "player",
      "content": "<exact player message>",
      "annotation": "<2-3 sentence explanation of why this moment matters>",
      "impactReason": "<brief label: e.g., 'validated consent', 'showed empathy', 'missed boundary cue'>"
    }
  ]
}`)
	if finalReport != nil {
		if encoded, err := json.MarshalIndent(finalReport, "", "  "); err == nil {
			fmt.Fprintf(&b, "\n\nFinal Report Context:\n%s", encoded)
		}
	}
	if score != nil {
		fmt.Fprintf(&b, "\n\nRisk Score: %d/100", score.RiskScore)
	}
	return b.String()
}

// GenerateSnippets asks the model to pick 3-5 impactful player moments from
// the transcript and replaces any previously stored set.
func (s *Service) GenerateSnippets(ctx context.Context, sessionID string) ([]Snippet, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.repo.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load turns", err)
	}
	if len(turns) == 0 {
		return nil, apperrors.NotFound("no turns found for this session")
	}

	var finalReport *FinalReportSection
	var score *ScoreSection
	if latest, err := s.repo.LatestCheckpoint(ctx, sessionID); err == nil {
		finalReport = latest.FinalReport
		score = latest.Score
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Server("failed to load checkpoints", err)
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := session.NpcName
		if t.Role == RolePlayer {
			speaker = "Player"
		}
		lines = append(lines, speaker+": "+t.Content)
	}

	provider, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	messages := []ai.Message{
		{Role: "system", Content: snippetPrompt(session, finalReport, score)},
		{Role: "user", Content: "Analyze this conversation and identify impactful moments:\n\n" + strings.Join(lines, "\n")},
	}
	opts := ai.Options{
		Model:       s.cfg.ModelFor("", s.cfg.ReportModel),
		Temperature: 0.7,
	}
	raw, err := s.chatJSON(ctx, provider, messages, opts)
	if err != nil {
		return nil, apperrors.UpstreamModel("failed to generate snippets", err)
	}

	var parsed struct {
		Snippets []SnippetData `json:"snippets"`
	}
	cleaned := StripCodeFences(strings.TrimSpace(raw))
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		if err2 := json.Unmarshal([]byte(EscapeLooseNewlines(cleaned)), &parsed); err2 != nil {
			return nil, apperrors.UpstreamModel("model returned invalid snippets", err)
		}
	}
	if len(parsed.Snippets) == 0 {
		return nil, apperrors.UpstreamModel("no snippets generated", nil)
	}

	rows := make([]Snippet, 0, len(parsed.Snippets))
	for _, sn := range parsed.Snippets {
		role := RolePlayer
		if sn.Role == RoleNpc {
			role = RoleNpc
		}
		rows = append(rows, Snippet{
			SessionID:    sessionID,
			TurnIndex:    sn.TurnIndex,
			Role:         role,
			Content:      strings.TrimSpace(sn.Content),
			Annotation:   strings.TrimSpace(sn.Annotation),
			ImpactReason: strings.TrimSpace(sn.ImpactReason),
		})
	}
	if err := s.repo.ReplaceSnippets(ctx, sessionID, rows); err != nil {
		return nil, apperrors.Server("failed to persist snippets", err)
	}
	return rows, nil
}

// ListSnippets returns the stored set in turn order.
func (s *Service) ListSnippets(ctx context.Context, sessionID string) ([]Snippet, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	snippets, err := s.repo.ListSnippets(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load snippets", err)
	}
	return snippets, nil
}
