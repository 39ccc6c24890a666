package scenario

import (
	"strings"
	"testing"

	"github.com/harithzain/simlab/internal/langmix"
)

func TestLanguageDirectiveExclusive(t *testing.T) {
	got := LanguageDirective(langmix.Proportions{EN: 97, MS: 3})
	if got != "Use English exclusively in your reply." {
		t.Fatalf("exclusive directive: %q", got)
	}
	got = LanguageDirective(langmix.Proportions{ZH: 100})
	if got != "Use Simplified Chinese exclusively in your reply." {
		t.Fatalf("chinese exclusive directive: %q", got)
	}
}

func TestLanguageDirectivePrimary(t *testing.T) {
	// Only one language clears the 5% floor but stays under 95%.
	got := LanguageDirective(langmix.Proportions{EN: 94, MS: 4, ZH: 2})
	if got != "Use English primarily in your reply." {
		t.Fatalf("primary directive: %q", got)
	}
}

func TestLanguageDirectiveCodeSwitch(t *testing.T) {
	got := LanguageDirective(langmix.Proportions{EN: 57, MS: 43})
	if !strings.Contains(got, "English as the structural base") {
		t.Fatalf("majority language must anchor the base: %q", got)
	}
	if !strings.Contains(got, "6 English") || !strings.Contains(got, "4 Malay") {
		t.Fatalf("per-10-word ratio: %q", got)
	}

	// A small secondary share still gets a rounded per-10-word allocation.
	got = LanguageDirective(langmix.Proportions{EN: 84, MS: 16})
	if !strings.Contains(got, "8 English") || !strings.Contains(got, "2 Malay") {
		t.Fatalf("rounded ratio: %q", got)
	}
}

func TestLanguageDirectiveGenericProportions(t *testing.T) {
	// Three languages present, no pair at 15%+ for the top two: 80/14/6.
	got := LanguageDirective(langmix.Proportions{EN: 80, MS: 14, ZH: 6})
	if !strings.Contains(got, "Match the player's language proportions") {
		t.Fatalf("generic directive: %q", got)
	}
	if !strings.Contains(got, "English 80%") || !strings.Contains(got, "Malay 14%") {
		t.Fatalf("generic directive shares: %q", got)
	}
}

func TestLanguageDisplayName(t *testing.T) {
	cases := map[string]string{
		"zh":      "Simplified Chinese",
		"zh-Hans": "Simplified Chinese",
		"ms":      "Malay",
		"ms-MY":   "Malay",
		"en":      "English",
		"":        "English",
		"fr":      "English",
	}
	for in, want := range cases {
		if got := LanguageDisplayName(in); got != want {
			t.Fatalf("LanguageDisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSystemPromptTogglesSections(t *testing.T) {
	base := PromptInput{
		Scenario: ScenarioDescriptor{ID: "sc-1", Title: "Test run"},
		Npc:      NpcProfile{ID: "n-1", Name: "Aiman", Role: "schoolmate"},
	}

	idle := SystemPrompt(base)
	if !strings.Contains(idle, "set summary to null") || !strings.Contains(idle, "set score to null") {
		t.Fatalf("idle prompt must suppress optional sections")
	}
	if strings.Contains(idle, "RISK SCORING FRAMEWORK") {
		t.Fatalf("idle prompt must not carry the scoring framework")
	}

	due := base
	due.SummaryDue = true
	due.AssessmentDue = true
	withDues := SystemPrompt(due)
	if !strings.Contains(withDues, "checkpoint summary") {
		t.Fatalf("due prompt missing summary instruction")
	}
	if !strings.Contains(withDues, "RISK SCORING FRAMEWORK") {
		t.Fatalf("due prompt missing scoring framework")
	}

	report := due
	report.FinalReportDue = true
	report.Locale = "ms"
	withReport := SystemPrompt(report)
	if !strings.Contains(withReport, "Write the final report in Malay") {
		t.Fatalf("report prompt must pin the report language")
	}
}

func TestFormatInstructionSchemas(t *testing.T) {
	idle := FormatInstruction(false, false, false, "en")
	if !strings.Contains(idle, `"summary": null;`) || !strings.Contains(idle, `"score": null;`) {
		t.Fatalf("idle schema must null optional sections:\n%s", idle)
	}
	if strings.Contains(idle, "SCORING FIELD REQUIREMENTS") {
		t.Fatalf("idle schema must not include scoring guidance")
	}

	due := FormatInstruction(true, true, false, "en")
	if !strings.Contains(due, "riskLevel") || !strings.Contains(due, "riskScore") {
		t.Fatalf("due schema missing section types:\n%s", due)
	}
	if !strings.Contains(due, "SCORING FIELD REQUIREMENTS") {
		t.Fatalf("due schema missing scoring guidance")
	}

	report := FormatInstruction(true, true, true, "zh")
	if !strings.Contains(report, "overallAssessment") {
		t.Fatalf("report schema missing final report type")
	}
	if !strings.Contains(report, "in Simplified Chinese") {
		t.Fatalf("report schema must pin the report language")
	}
}

func TestSnapshotShowsControlsAndRecentTurns(t *testing.T) {
	history := make([]ConversationTurn, 0, 12)
	for i := 0; i < 12; i++ {
		role := RolePlayer
		if i%2 == 1 {
			role = RoleNpc
		}
		history = append(history, ConversationTurn{Role: role, Content: strings.Repeat("x", i+1)})
	}

	snapshot := Snapshot(ScenarioDescriptor{ID: "sc-1", SupportingFacts: []string{"condoms reduce risk"}}, history, true, false, false, true)
	if !strings.Contains(snapshot, "Summary required this turn: YES.") {
		t.Fatalf("snapshot controls:\n%s", snapshot)
	}
	if !strings.Contains(snapshot, "condoms reduce risk") {
		t.Fatalf("snapshot must carry supporting facts")
	}
	// Only the last 8 turns appear.
	if strings.Count(snapshot, "Player: ")+strings.Count(snapshot, "NPC: ") != 8 {
		t.Fatalf("snapshot must trim to 8 turns:\n%s", snapshot)
	}
}

func TestMessagesMapsNpcTurnsToAssistant(t *testing.T) {
	history := []ConversationTurn{
		{Role: RolePlayer, Content: "hi"},
		{Role: RoleNpc, Content: "hello"},
	}
	msgs := Messages("sys", "format", "snap", history)
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "system" || msgs[2].Role != "user" {
		t.Fatalf("prefix roles: %+v", msgs[:3])
	}
	if msgs[3].Role != "user" || msgs[4].Role != "assistant" {
		t.Fatalf("history roles: %+v", msgs[3:])
	}
}

func TestStreamingMessagesStayConversational(t *testing.T) {
	msgs := StreamingMessages(
		ScenarioDescriptor{ID: "sc-1", Title: "Test"},
		NpcProfile{ID: "n-1", Name: "Aiman", Role: "schoolmate"},
		nil,
		"hey",
		"en",
		langmix.Proportions{EN: 100},
	)
	if len(msgs) != 2 {
		t.Fatalf("expected system+user, got %d messages", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "No summaries, no JSON") {
		t.Fatalf("streaming system prompt must forbid structured output")
	}
	if !strings.Contains(msgs[1].Content, "Player: hey") {
		t.Fatalf("streaming user prompt must include the new player message")
	}
}
