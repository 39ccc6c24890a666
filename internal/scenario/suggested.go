package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/apperrors"
)

const (
	maxSuggestionContextTurns = 8
	maxSuggestionLength       = 160
)

// SuggestedQuestions is a contrasting pair of next moves for the player.
type SuggestedQuestions struct {
	Positive string `json:"positive"`
	Negative string `json:"negative"`
}

// SuggestedResult ties the pair to the npc turn it answers.
type SuggestedResult struct {
	SessionID    string             `json:"sessionId"`
	NpcTurnIndex int                `json:"npcTurnIndex"`
	Suggestions  SuggestedQuestions `json:"suggestions"`
}

// truncateSuggestion bounds the suggestion length in characters, cutting on a
// rune boundary so multi-byte text stays valid UTF-8.
func truncateSuggestion(value string) string {
	trimmed := strings.TrimSpace(value)
	if utf8.RuneCountInString(trimmed) <= maxSuggestionLength {
		return trimmed
	}
	runes := []rune(trimmed)
	return strings.TrimRight(string(runes[:maxSuggestionLength]), " ")
}

// SuggestReplies generates one rapport-building and one boundary-setting
// follow-up question grounded on the latest npc message.
func (s *Service) SuggestReplies(ctx context.Context, sessionID string) (*SuggestedResult, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.repo.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load turns", err)
	}
	if len(turns) == 0 {
		return nil, apperrors.Conflict("no turns recorded for session")
	}
	if len(turns) > maxSuggestionContextTurns {
		turns = turns[len(turns)-maxSuggestionContextTurns:]
	}

	var lastNpc *Turn
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleNpc {
			lastNpc = &turns[i]
			break
		}
	}
	if lastNpc == nil {
		return nil, apperrors.Conflict("missing npc response to base suggestions on")
	}

	npcName := session.NpcName
	if npcName == "" {
		npcName = "NPC"
	}
	transcriptLines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "Player"
		if t.Role == RoleNpc {
			speaker = npcName
		}
		transcriptLines = append(transcriptLines, speaker+": "+t.Content)
	}

	descriptor := []string{npcName}
	if session.NpcRole != "" {
		descriptor[0] = fmt.Sprintf("%s (%s)", npcName, session.NpcRole)
	}
	if session.NpcPersona != "" {
		descriptor = append(descriptor, "Persona notes: "+session.NpcPersona)
	}
	if session.ScenarioTitle != "" {
		descriptor = append(descriptor, "Scenario: "+session.ScenarioTitle)
	}
	if session.ScenarioSetting != "" {
		descriptor = append(descriptor, "Setting: "+session.ScenarioSetting)
	}

	languageLabel := strings.ToLower(LanguageDisplayName(session.Locale))
	promptParts := []string{
		strings.Join(descriptor, "\n"),
		"",
		fmt.Sprintf("Latest NPC message (turn %d):", lastNpc.TurnIndex),
		lastNpc.Content,
		"",
		"Recent conversation transcript:",
		strings.Join(transcriptLines, "\n"),
		"",
		fmt.Sprintf("Craft two contrasting follow-up questions the player could ask next, written in %s.", languageLabel),
		"- Option A (positive) should build rapport, show empathy, or keep the conversation open while staying safe.",
		"- Option B (negative) should set boundaries, question unhealthy assumptions, or challenge unsafe pressure firmly.",
		"- Both options must be phrased as clear questions, stay under 160 characters, and remain contextually relevant.",
		"- Keep language concise, natural, and actionable for the player.",
	}
	if directive := localeDirective(session.Locale, "", false); directive != "" {
		promptParts = append(promptParts, "- "+directive)
	}
	promptParts = append(promptParts,
		"",
		`Return a strict JSON object with keys "positive" and "negative". Example:`,
		`{ "positive": "How do you think we can keep things comfortable for both of us?", "negative": "Why are you pushing this when I already said I'm not ready?" }`,
	)

	provider, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	messages := []ai.Message{
		{Role: "system", Content: "You are a communication coach helping a player respond to a simulated conversation about healthy relationships. Provide contrasting question suggestions that respect safety."},
		{Role: "user", Content: strings.Join(promptParts, "\n")},
	}
	opts := ai.Options{
		Model:       s.cfg.ModelFor("", s.cfg.SuggestionModel),
		Temperature: 0.6,
		MaxTokens:   350,
	}
	raw, err := s.chatJSON(ctx, provider, messages, opts)
	if err != nil {
		return nil, apperrors.UpstreamModel("model call failed", err)
	}

	var parsed SuggestedQuestions
	cleaned := StripCodeFences(strings.TrimSpace(raw))
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, apperrors.UpstreamModel("model returned invalid suggestions", err)
	}
	positive := truncateSuggestion(parsed.Positive)
	negative := truncateSuggestion(parsed.Negative)
	if positive == "" || negative == "" {
		return nil, apperrors.UpstreamModel("incomplete suggestions generated", nil)
	}

	return &SuggestedResult{
		SessionID:    sessionID,
		NpcTurnIndex: lastNpc.TurnIndex,
		Suggestions:  SuggestedQuestions{Positive: positive, Negative: negative},
	}, nil
}
