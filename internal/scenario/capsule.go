package scenario

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/apperrors"
)

// CapsuleInput configures capsule creation.
type CapsuleInput struct {
	ExpiryDays int `json:"expiryDays"`
}

// CapsuleResult is the owner-facing capsule view.
type CapsuleResult struct {
	SessionID              string              `json:"sessionId"`
	ShareToken             string              `json:"shareToken,omitempty"`
	ShareURL               string              `json:"shareUrl"`
	NarrativeSummary       string              `json:"narrativeSummary"`
	SuggestedNextScenarios []SuggestedScenario `json:"suggestedNextScenarios"`
	ToneMetrics            *ToneMetrics        `json:"toneMetrics"`
	ExpiresAt              time.Time           `json:"expiresAt"`
	ViewCount              int                 `json:"viewCount"`
}

// CapsuleSessionInfo is the public display subset of a session.
type CapsuleSessionInfo struct {
	ScenarioTitle   string     `json:"scenarioTitle"`
	ScenarioSetting string     `json:"scenarioSetting"`
	NpcName         string     `json:"npcName"`
	NpcRole         string     `json:"npcRole"`
	CompletedAt     *time.Time `json:"completedAt"`
}

// PublicCapsule is the anonymous share view: no session id, no share token.
type PublicCapsule struct {
	SessionInfo            *CapsuleSessionInfo `json:"sessionInfo"`
	NarrativeSummary       string              `json:"narrativeSummary"`
	SuggestedNextScenarios []SuggestedScenario `json:"suggestedNextScenarios"`
	Snippets               []SnippetData       `json:"snippets"`
	ToneMetrics            *ToneMetrics        `json:"toneMetrics"`
	ExpiresAt              time.Time           `json:"expiresAt"`
	CompletedAt            *time.Time          `json:"completedAt"`
}

// newShareToken returns 32 random bytes as unpadded url-safe base64.
func newShareToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Service) shareURL(token string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/simulator/capsule/" + token
}

func capsulePrompt(session *Session) string {
	title := session.ScenarioTitle
	if title == "" {
		title = "Communication practice"
	}
	setting := session.ScenarioSetting
	if setting == "" {
		setting = "Conversation scenario"
	}
	completion := "Session completed"
	if session.CompletionReason != nil && *session.CompletionReason != "" {
		completion = *session.CompletionReason
	}

	var b strings.Builder
	b.WriteString("You are creating a narrative summary capsule for a completed conversation simulation session.\n\n")
	b.WriteString("Session Details:\n")
	fmt.Fprintf(&b, "- Scenario: %s\n- Setting: %s\n- NPC: %s (%s)\n- Completion: %s\n\n",
		title, setting, session.NpcName, session.NpcRole, completion)
	b.WriteString(`Your task: Create a story-like narrative that:
1. Explains why this scenario mattered
2. Highlights how the learner responded (use snippets and final report)
3. Acknowledges growth and areas for improvement
4. Ends with encouraging next steps

Write in a warm, coaching tone (2-3 paragraphs). Use second person ("you").

Also suggest 3 relevant next scenarios the learner should try, formatted as:
{
  "narrativeSummary": "<your narrative here>",
  "suggestedNextScenarios": [
    {
      "scenarioId": "<scenario-id>",
      "title": "<scenario title>",
      "reason": "<1 sentence why this is a good next step>"
    }
  ]
}`)
	return b.String()
}

// CreateCapsule builds the shareable summary for a completed session. Any
// prior capsule for the session is replaced, which invalidates its old link.
// When no snippets exist yet they are generated first.
func (s *Service) CreateCapsule(ctx context.Context, sessionID string, in CapsuleInput) (*CapsuleResult, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CompletedAt == nil {
		return nil, apperrors.Conflict("session must be completed before creating capsule")
	}

	expiryDays := in.ExpiryDays
	if expiryDays <= 0 {
		expiryDays = s.cfg.CapsuleExpiryDays
	}
	if expiryDays <= 0 {
		expiryDays = 30
	}

	snippets, err := s.repo.ListSnippets(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load snippets", err)
	}
	if len(snippets) == 0 {
		if generated, genErr := s.GenerateSnippets(ctx, sessionID); genErr != nil {
			// Capsule still works without them, the narrative just loses
			// its key-moment bullets.
			s.log.Warn("failed to auto-generate snippets for capsule",
				zap.String("session_id", sessionID),
				zap.Error(genErr))
		} else {
			snippets = generated
		}
	}

	var finalReport *FinalReportSection
	var score *ScoreSection
	if latest, err := s.repo.LatestCheckpoint(ctx, sessionID); err == nil {
		finalReport = latest.FinalReport
		score = latest.Score
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Server("failed to load checkpoints", err)
	}

	snippetLines := make([]string, 0, len(snippets))
	for _, sn := range snippets {
		snippetLines = append(snippetLines, fmt.Sprintf("- %s\n  -> %s", sn.Content, sn.Annotation))
	}
	reportJSON := "null"
	if finalReport != nil {
		if encoded, err := json.MarshalIndent(finalReport, "", "  "); err == nil {
			reportJSON = string(encoded)
		}
	}
	riskScore, confidence := 50, 50
	if score != nil {
		riskScore, confidence = score.RiskScore, score.Confidence
	}
	userPrompt := fmt.Sprintf(
		"Create a narrative capsule for this session.\n\nKey moments:\n%s\n\nFinal Report:\n%s\n\nRisk Score: %d/100\nConfidence: %d/100",
		strings.Join(snippetLines, "\n"), reportJSON, riskScore, confidence,
	)

	provider, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	messages := []ai.Message{
		{Role: "system", Content: capsulePrompt(session)},
		{Role: "user", Content: userPrompt},
	}
	opts := ai.Options{
		Model:       s.cfg.ScenarioModel,
		Temperature: 0.8,
	}
	raw, err := s.chatJSON(ctx, provider, messages, opts)
	if err != nil {
		return nil, apperrors.UpstreamModel("failed to generate capsule narrative", err)
	}

	var parsed struct {
		NarrativeSummary       string              `json:"narrativeSummary"`
		SuggestedNextScenarios []SuggestedScenario `json:"suggestedNextScenarios"`
	}
	cleaned := StripCodeFences(strings.TrimSpace(raw))
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		if err2 := json.Unmarshal([]byte(EscapeLooseNewlines(cleaned)), &parsed); err2 != nil {
			return nil, apperrors.UpstreamModel("model returned invalid capsule narrative", err)
		}
	}
	if strings.TrimSpace(parsed.NarrativeSummary) == "" {
		return nil, apperrors.UpstreamModel("model returned empty capsule narrative", nil)
	}
	if parsed.SuggestedNextScenarios == nil {
		parsed.SuggestedNextScenarios = []SuggestedScenario{}
	}

	token, err := newShareToken()
	if err != nil {
		return nil, apperrors.Server("failed to generate share token", err)
	}

	var tone *ToneMetrics
	if score != nil {
		tone = &ToneMetrics{
			Confidence: score.Confidence,
			RiskScore:  score.RiskScore,
			Notes:      score.Notes,
		}
	}

	capsule := &Capsule{
		SessionID:              sessionID,
		ShareToken:             token,
		NarrativeSummary:       strings.TrimSpace(parsed.NarrativeSummary),
		SuggestedNextScenarios: parsed.SuggestedNextScenarios,
		ToneMetrics:            tone,
		ExpiresAt:              time.Now().AddDate(0, 0, expiryDays),
	}
	if err := s.repo.ReplaceCapsule(ctx, capsule); err != nil {
		return nil, apperrors.Server("failed to persist capsule", err)
	}

	return &CapsuleResult{
		SessionID:              sessionID,
		ShareToken:             token,
		ShareURL:               s.shareURL(token),
		NarrativeSummary:       capsule.NarrativeSummary,
		SuggestedNextScenarios: capsule.SuggestedNextScenarios,
		ToneMetrics:            tone,
		ExpiresAt:              capsule.ExpiresAt,
	}, nil
}

// GetCapsule returns the owner view of the session's capsule.
func (s *Service) GetCapsule(ctx context.Context, sessionID string) (*CapsuleResult, error) {
	capsule, err := s.repo.GetCapsuleBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("capsule not found")
		}
		return nil, apperrors.Server("failed to load capsule", err)
	}
	if time.Now().After(capsule.ExpiresAt) {
		return nil, apperrors.Expired("capsule has expired")
	}
	return &CapsuleResult{
		SessionID:              capsule.SessionID,
		ShareURL:               s.shareURL(capsule.ShareToken),
		NarrativeSummary:       capsule.NarrativeSummary,
		SuggestedNextScenarios: capsule.SuggestedNextScenarios,
		ToneMetrics:            capsule.ToneMetrics,
		ExpiresAt:              capsule.ExpiresAt,
		ViewCount:              capsule.ViewCount,
	}, nil
}

// ViewCapsule resolves a public share link. Each successful view bumps the
// counter; the increment is best-effort and not transactional with the read.
func (s *Service) ViewCapsule(ctx context.Context, shareToken string) (*PublicCapsule, error) {
	if strings.TrimSpace(shareToken) == "" {
		return nil, apperrors.Validation("missing share token")
	}
	capsule, err := s.repo.GetCapsuleByToken(ctx, shareToken)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("capsule not found")
		}
		return nil, apperrors.Server("failed to load capsule", err)
	}
	if time.Now().After(capsule.ExpiresAt) {
		return nil, apperrors.Expired("capsule has expired")
	}

	if err := s.repo.BumpCapsuleViews(ctx, shareToken, capsule.ViewCount); err != nil {
		s.log.Warn("failed to bump capsule view count",
			zap.String("share_token", shareToken),
			zap.Error(err))
	}

	out := &PublicCapsule{
		NarrativeSummary:       capsule.NarrativeSummary,
		SuggestedNextScenarios: capsule.SuggestedNextScenarios,
		Snippets:               []SnippetData{},
		ToneMetrics:            capsule.ToneMetrics,
		ExpiresAt:              capsule.ExpiresAt,
	}

	if session, err := s.repo.GetSession(ctx, capsule.SessionID); err == nil {
		out.SessionInfo = &CapsuleSessionInfo{
			ScenarioTitle:   session.ScenarioTitle,
			ScenarioSetting: session.ScenarioSetting,
			NpcName:         session.NpcName,
			NpcRole:         session.NpcRole,
			CompletedAt:     session.CompletedAt,
		}
		out.CompletedAt = session.CompletedAt
	}
	if snippets, err := s.repo.ListSnippets(ctx, capsule.SessionID); err == nil {
		for _, sn := range snippets {
			out.Snippets = append(out.Snippets, SnippetData{
				TurnIndex:    sn.TurnIndex,
				Role:         sn.Role,
				Content:      sn.Content,
				Annotation:   sn.Annotation,
				ImpactReason: sn.ImpactReason,
			})
		}
	}
	return out, nil
}
