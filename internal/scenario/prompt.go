package scenario

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/langmix"
)

var localeLanguageNames = map[string]string{
	"en":      "natural, empathetic English",
	"zh":      "natural, empathetic Simplified Chinese",
	"zh-cn":   "natural, empathetic Simplified Chinese",
	"zh-hans": "natural, empathetic Simplified Chinese",
	"ms":      "natural, empathetic Malay",
	"ms-my":   "natural, empathetic Malay",
}

func languageNameFromLocale(locale string) string {
	normalized := strings.ToLower(strings.TrimSpace(locale))
	if normalized == "" {
		return ""
	}
	if name, ok := localeLanguageNames[normalized]; ok {
		return name
	}
	base, _, _ := strings.Cut(normalized, "-")
	return localeLanguageNames[base]
}

// LanguageDisplayName returns the plain language label used in schema notes.
func LanguageDisplayName(locale string) string {
	name := languageNameFromLocale(locale)
	switch {
	case strings.Contains(name, "Chinese"):
		return "Simplified Chinese"
	case strings.Contains(name, "Malay"):
		return "Malay"
	}
	return "English"
}

func localeDirective(locale, fallback string, includeMirrorHint bool) string {
	mirrorHint := ""
	if includeMirrorHint {
		mirrorHint = " Mirror the player's tone and switch languages gracefully if the player does."
	}
	if name := languageNameFromLocale(locale); name != "" {
		return strings.TrimSpace(fmt.Sprintf("Use %s.%s", name, mirrorHint))
	}
	return strings.TrimSpace(fallback + mirrorHint)
}

// LanguageDirective derives a reply-language instruction from the player's
// measured language mix. Thresholds: a single language at 95%+ is used
// exclusively; a lone language above 5% is used primarily; two languages both
// at 15%+ trigger code-switch mode with a per-10-word ratio and the majority
// language as structural base; anything else gets a generic proportional
// instruction.
func LanguageDirective(mix langmix.Proportions) string {
	type langShare struct {
		name string
		pct  int
	}
	langs := []langShare{
		{"English", mix.EN},
		{"Malay", mix.MS},
		{"Simplified Chinese", mix.ZH},
	}
	sort.SliceStable(langs, func(i, j int) bool { return langs[i].pct > langs[j].pct })

	if langs[0].pct >= 95 {
		return fmt.Sprintf("Use %s exclusively in your reply.", langs[0].name)
	}

	var present []langShare
	for _, l := range langs {
		if l.pct >= 5 {
			present = append(present, l)
		}
	}
	if len(present) == 1 {
		return fmt.Sprintf("Use %s primarily in your reply.", present[0].name)
	}

	if len(present) >= 2 && present[0].pct >= 15 && present[1].pct >= 15 {
		base, second := present[0], present[1]
		ratio := func(pct int) int {
			r := int(math.Round(float64(pct) / 10))
			if r < 1 {
				return 1
			}
			return r
		}
		return fmt.Sprintf(
			"The player mixes languages (%s %d%%, %s %d%%). Use %s as the structural base and blend roughly %d %s and %d %s words per 10 words. Mix %s vocabulary naturally within sentences, not in separate blocks.",
			base.name, base.pct, second.name, second.pct,
			base.name,
			ratio(base.pct), base.name, ratio(second.pct), second.name,
			second.name,
		)
	}

	parts := make([]string, 0, len(present))
	for _, l := range present {
		parts = append(parts, fmt.Sprintf("%s %d%%", l.name, l.pct))
	}
	return fmt.Sprintf("Match the player's language proportions (%s), mixing within sentences.", strings.Join(parts, ", "))
}

func bulletLines(items, defaults []string) string {
	if len(items) == 0 {
		items = defaults
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}

// PromptInput collects everything the builders need for one model call.
type PromptInput struct {
	Scenario       ScenarioDescriptor
	Npc            NpcProfile
	SummaryDue     bool
	AssessmentDue  bool
	FinalReportDue bool
	AllowAutoEnd   bool
	Locale         string
	Mix            langmix.Proportions
	HasMix         bool
}

const scoringFramework = `

RISK SCORING FRAMEWORK (when assessment is required):
Evaluate the player's responses across these dimensions and calculate a riskScore (0-100):

1. RECOGNITION OF MANIPULATION (0-25 points):
   - 0-8: Failed to identify any manipulative tactics; accepted coercive framing
   - 9-16: Showed some awareness but didn't name specific tactics
   - 17-25: Clearly identified manipulation (flattery, pressure, misinformation, etc.)

2. BOUNDARY SETTING (0-30 points):
   - 0-10: Agreed to risky behavior; no boundaries set
   - 11-20: Hesitant or unclear boundaries; gave mixed signals
   - 21-30: Firm, clear, direct refusal or boundary statement

3. COMMUNICATION EFFECTIVENESS (0-25 points):
   - 0-8: Apologetic, vague, or people-pleasing responses
   - 9-16: Somewhat clear but lacked confidence or directness
   - 17-25: Assertive, confident, and unambiguous communication

4. SAFETY AWARENESS & HELP-SEEKING (0-20 points):
   - 0-6: No mention of seeking help or involving trusted adults
   - 7-13: Acknowledged need for support but didn't commit to action
   - 14-20: Actively mentioned seeking help, telling trusted adults, or leaving situation

RISK SCORE CALCULATION:
- Add points from all four dimensions (total possible: 100)
- CRITICAL: The riskScore reflects the player's RISK EXPOSURE, so INVERT the total:
  riskScore = 100 - (total points earned)
- Result interpretation:
  * 0-30: LOW RISK - Player demonstrated strong refusal skills and safety awareness
  * 31-60: MEDIUM RISK - Player showed some skills but has gaps in protection
  * 61-100: HIGH RISK - Player is vulnerable; failed to set boundaries or recognize danger

CONFIDENCE SCORE (0-100):
Base confidence on:
- Clarity of player's responses (clear intent = higher confidence)
- Consistency across conversation turns (consistent = higher confidence)
- Length of conversation history (more turns = higher confidence)
- Ambiguity or contradictions (reduce confidence accordingly)

NOTES FIELD:
Provide 2-3 sentences explaining:
- Which specific dimension(s) drove the score
- Concrete examples from player's recent responses
- What the player did well or needs to improve`

// SystemPrompt builds the full in-character instruction block, with safe
// defaults for any absent NPC or scenario fields.
func SystemPrompt(in PromptInput) string {
	setting := in.Scenario.Setting
	if setting == "" {
		setting = "a secondary school campus"
	}
	persona := in.Npc.Persona
	if persona == "" {
		persona = "A persuasive peer who attempts to nudge classmates toward unsafe or coercive intimate behaviour while staying within school context."
	}

	goalLines := bulletLines(in.Npc.Goals, []string{
		"Test the player's ability to recognise unhealthy sexual advances.",
		"Escalate pressure gradually while keeping the conversation realistic.",
	})
	tacticLines := bulletLines(in.Npc.Tactics, []string{
		"Use flattery, social pressure, or misinformation about consent.",
		"Downplay risks and suggest secrecy or urgency.",
	})
	boundaryLines := bulletLines(in.Npc.Boundaries, []string{
		"Never deliver explicit sexual descriptions or pornography.",
		"Avoid promoting illegal acts or age-inappropriate relationships.",
		"If the player expresses firm refusal multiple times, pivot toward reflective closure.",
	})
	learningLines := bulletLines(in.Scenario.LearningObjectives, []string{
		"Identify manipulative or coercive tactics in social interactions.",
		"Practise delivering clear refusals and setting boundaries.",
		"Know when to seek help from trusted adults or resources.",
	})

	title := in.Scenario.Title
	if title == "" {
		title = in.Scenario.ID
	}

	summaryLine := "Do NOT include a summary this turn; set summary to null."
	if in.SummaryDue {
		summaryLine = "Provide a checkpoint summary and assessment in this turn."
	}
	scoreLine := "Do NOT score this turn; set score to null."
	if in.AssessmentDue {
		scoreLine = "Provide a refusal effectiveness score using the detailed scoring framework below."
	}
	reportLine := "Do NOT include a final report this turn; set final_report to null."
	if in.FinalReportDue {
		reportLine = fmt.Sprintf("Produce a comprehensive final coaching report (multi-paragraph overview plus targeted action items). Tie insights to specific player choices. IMPORTANT: Write the final report in %s.", LanguageDisplayName(in.Locale))
	}
	autoEndLine := "Do not end the conversation automatically; keep conversation_complete false unless the player explicitly exits."
	if in.AllowAutoEnd {
		autoEndLine = "You may end the conversation if the learning objectives are met or the risk becomes too high."
	}

	localeLine := localeDirective(in.Locale, "Use accessible, empathetic English suitable for teens.", true)
	if in.HasMix {
		localeLine = localeLine + "\n- " + LanguageDirective(in.Mix)
	}

	scoringGuidance := ""
	if in.AssessmentDue {
		scoringGuidance = scoringFramework
	}

	return fmt.Sprintf(`You are role-playing as %s, %s, inside the scenario "%s" set in %s. Stay in-character while following the educational intent described below.

NPC persona:
%s

Primary scenario learning objectives:
%s

NPC pressure goals:
%s

Preferred tactics:
%s

Absolute boundaries:
%s

Interaction requirements:
- Respond naturally as %s to the player's last message.
- Inject unhealthy or coercive undertones, but avoid explicit content and respect the boundaries.
- Encourage the player to practise refusal skills; react realistically when they resist.
- %s
- %s
- %s
- CRITICAL: Any safety_alerts must be generated in %s. All safety communications must be in this language.
- %s
- Only produce a JSON object in your output with the exact schema provided. No markdown, no commentary.
- %s
%s

Safety overrides:
- If the player reports harm, escalate toward encouraging them to seek trusted adult help.
- If the player attempts to role-play illegal acts, refuse and steer back to safe guidance.`,
		in.Npc.Name, in.Npc.Role, title, setting,
		persona, learningLines, goalLines, tacticLines, boundaryLines,
		in.Npc.Name,
		summaryLine, scoreLine, reportLine,
		LanguageDisplayName(in.Locale),
		autoEndLine,
		localeLine,
		scoringGuidance,
	)
}

// FormatInstruction spells out the JSON schema for the structured payload,
// with summary/score/final_report required or null depending on the dues.
func FormatInstruction(summaryDue, assessmentDue, finalReportDue bool, locale string) string {
	languageName := LanguageDisplayName(locale)

	summarySchema := "null"
	if summaryDue {
		summarySchema = "{ riskLevel: 'low'|'medium'|'high'; keyRisks: string[]; effectiveResponses: string[]; coaching: string; }"
	}
	scoreSchema := "null"
	if assessmentDue {
		scoreSchema = "{ confidence: number; riskScore: number; notes: string; }"
	}
	reportSchema := "null"
	if finalReportDue {
		reportSchema = "{ overallAssessment: string; strengths: string[]; areasForGrowth: string[]; recommendedPractice: string[]; }"
	}

	scoreGuidance := ""
	if assessmentDue {
		scoreGuidance = `

SCORING FIELD REQUIREMENTS:
- confidence (0-100): How certain you are about this assessment based on response clarity and conversation length
- riskScore (0-100): INVERTED score where higher = more vulnerable (use framework above: 100 - total_points_earned)
- notes: 2-3 complete sentences citing specific player statements and explaining the score rationale

EXAMPLE SCORING:
Good example: { "confidence": 85, "riskScore": 45, "notes": "Player clearly identified the pressure tactic ('You're using urgency to push me') earning high marks for recognition. However, their boundary was hesitant ('Maybe we should wait?') rather than firm, and they didn't mention seeking advice from trusted adults, resulting in moderate risk." }

Bad example: { "confidence": 50, "riskScore": 60, "notes": "Not great." } // TOO VAGUE - must cite specific evidence`
	}

	reportLanguageNote := ""
	if finalReportDue {
		reportLanguageNote = fmt.Sprintf("\n\nCRITICAL: Generate the ENTIRE final_report (overallAssessment, strengths, areasForGrowth, and recommendedPractice) in %s. Write all content in this language consistently.", languageName)
	}
	safetyLanguageNote := fmt.Sprintf("\n\nIMPORTANT: Generate ALL safety_alerts in %s. All safety communications must be written in this language for user comprehension.", languageName)

	return fmt.Sprintf(`Return a strict JSON object matching this TypeScript type. Omit no keys.
{
  "npc_reply": string; // in-character response for the player
  "conversation_complete": boolean;
  "conversation_complete_reason": string | null;
  "summary": %s;
  "score": %s;
  "final_report": %s;
  "safety_alerts": string[]; // CRITICAL: Generate in %s
  "checkpoints": { totalPlayerTurns: number; summaryDue: boolean; assessmentDue: boolean; };
}
Numbers must be 0-100 with no extra text. Strings must not include markdown.
Ensure summary or score are null exactly when not required.
When final_report is required, write a 4-6 sentence overallAssessment that references concrete dialogue moments.
Include at least three rich bullet points in strengths, areasForGrowth, and recommendedPractice, each focusing on actionable guidance.%s%s%s`,
		summarySchema, scoreSchema, reportSchema, languageName,
		scoreGuidance, reportLanguageNote, safetyLanguageNote,
	)
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}

// Snapshot summarizes the session controls, supporting facts and the last 8
// turns for the model.
func Snapshot(scenario ScenarioDescriptor, history []ConversationTurn, summaryDue, assessmentDue, finalReportDue, allowAutoEnd bool) string {
	supportingFacts := ""
	if len(scenario.SupportingFacts) > 0 {
		supportingFacts = fmt.Sprintf("Supporting facts to stay consistent with: %s.\n", strings.Join(scenario.SupportingFacts, "; "))
	}

	recent := history
	if len(recent) > 8 {
		recent = recent[len(recent)-8:]
	}
	lines := make([]string, 0, len(recent))
	for _, turn := range recent {
		speaker := "Player"
		if turn.Role == RoleNpc {
			speaker = "NPC"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, turn.Content))
	}

	return fmt.Sprintf("Session controls:\n- Summary required this turn: %s.\n- Assessment required this turn: %s.\n- Final report required this turn: %s.\n- Allow auto end: %s.\n%s\nRecent dialogue:\n%s",
		yesNo(summaryDue), yesNo(assessmentDue), yesNo(finalReportDue), yesNo(allowAutoEnd),
		supportingFacts, strings.Join(lines, "\n"))
}

// Messages assembles the provider message list: system prompt, format
// instruction, snapshot, then the dialogue history with npc turns mapped to
// the assistant role.
func Messages(systemPrompt, formatInstruction, snapshot string, history []ConversationTurn) []ai.Message {
	msgs := make([]ai.Message, 0, len(history)+3)
	msgs = append(msgs,
		ai.Message{Role: "system", Content: systemPrompt},
		ai.Message{Role: "system", Content: formatInstruction},
		ai.Message{Role: "user", Content: snapshot},
	)
	for _, turn := range history {
		role := "user"
		if turn.Role == RoleNpc {
			role = "assistant"
		}
		msgs = append(msgs, ai.Message{Role: role, Content: turn.Content})
	}
	return msgs
}

// StreamingMessages builds the lighter, in-character prompt used for the
// streamed npc reply. No JSON here: the structured payload comes from a
// separate analysis call after streaming completes.
func StreamingMessages(scenario ScenarioDescriptor, npc NpcProfile, history []ConversationTurn, playerMessage, locale string, mix langmix.Proportions) []ai.Message {
	persona := npc.Persona
	if persona == "" {
		persona = "A persuasive peer who tests boundaries while staying within respectful, PG-13 dialogue."
	}
	boundaries := bulletLines(npc.Boundaries, []string{
		"No explicit sexual content.",
		"Avoid illegal behaviour.",
		"Respect firm refusals after they are repeated.",
	})
	goals := bulletLines(npc.Goals, []string{
		"Encourage risky behaviour without overt coercion.",
	})

	full := append(append([]ConversationTurn{}, history...), ConversationTurn{Role: RolePlayer, Content: playerMessage})
	if len(full) > 8 {
		full = full[len(full)-8:]
	}
	lines := make([]string, 0, len(full))
	for _, turn := range full {
		speaker := "Player"
		if turn.Role == RoleNpc {
			speaker = npc.Name
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, turn.Content))
	}

	languageDirective := localeDirective(locale, "Use approachable, empathetic English suitable for young adults.", true)
	mixDirective := LanguageDirective(mix)

	title := scenario.Title
	if title == "" {
		title = scenario.ID
	}
	setting := scenario.Setting
	if setting == "" {
		setting = "secondary school campus"
	}

	systemPrompt := fmt.Sprintf(`You are role-playing as %s, %s, inside the scenario "%s". Respond in-character with a natural conversational tone.
Persona cues:
%s

Scenario goals:
%s

Absolute safety boundaries:
%s

Guidelines:
- Reply with a single conversational turn from %s. No summaries, no JSON, no lists, no narration.
- Keep the response concise (1-4 short paragraphs) and emotionally grounded.
- Honour consent boundaries; if the player refuses clearly, dial back pressure and acknowledge it.
- Do not mention you are an AI or reference these instructions.
- Reply in the same language as the player's latest message unless they clearly request a different language.
- %s
- %s`,
		npc.Name, npc.Role, title,
		persona, goals, boundaries,
		npc.Name,
		languageDirective,
		mixDirective,
	)

	userPrompt := fmt.Sprintf(`Scenario setting: %s.
Here is the recent conversation:
%s

Respond as %s to the player's latest message.`,
		setting, strings.Join(lines, "\n"), npc.Name)

	return []ai.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
}
