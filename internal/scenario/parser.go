package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidPayload marks model output that could not be turned into a valid
// ResponsePayload even after the loose-newline re-escape pass. Callers get at
// most one repair round-trip before surfacing an upstream error.
var ErrInvalidPayload = errors.New("scenario: invalid model payload")

var codeFenceRe = regexp.MustCompile("(?is)^```(?:json)?\\s*(.*?)\\s*```$")

// StripCodeFences removes a single surrounding markdown code fence, if any.
func StripCodeFences(value string) string {
	if m := codeFenceRe.FindStringSubmatch(value); m != nil {
		return m[1]
	}
	return value
}

// EscapeLooseNewlines converts unescaped literal newlines occurring inside
// JSON string literals into \n, tracking quote and escape state character by
// character. Models frequently emit multi-line replies without escaping them.
func EscapeLooseNewlines(value string) string {
	var b strings.Builder
	b.Grow(len(value))

	inString := false
	escaped := false

	runes := []rune(value)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if inString && (ch == '\n' || ch == '\r') {
			b.WriteString(`\n`)
			if ch == '\r' && i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			escaped = false
			continue
		}

		b.WriteRune(ch)

		if ch == '\\' && !escaped {
			escaped = true
			continue
		}
		if ch == '"' && !escaped {
			inString = !inString
		}
		escaped = false
	}

	return b.String()
}

// ClampScore coerces an arbitrary JSON value into a [0,100] integer.
// Non-numeric input collapses to 0.
func ClampScore(value any) int {
	return clampScoreDefault(value, 0)
}

func clampScoreDefault(value any, fallback int) int {
	var numeric float64
	switch v := value.(type) {
	case float64:
		numeric = v
	case int:
		numeric = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fallback
		}
		numeric = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fallback
		}
		numeric = f
	default:
		return fallback
	}
	if math.IsNaN(numeric) || math.IsInf(numeric, 0) {
		return fallback
	}
	rounded := int(math.Round(numeric))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

// NormalizeRiskLevel maps arbitrary input onto low|medium|high, defaulting to
// medium when unmapped.
func NormalizeRiskLevel(value any) string {
	raw, _ := value.(string)
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return "low"
	case "medium":
		return "medium"
	case "high":
		return "high"
	}
	return "medium"
}

type rawPayload struct {
	NpcReply                   any            `json:"npc_reply"`
	ConversationComplete       any            `json:"conversation_complete"`
	ConversationCompleteReason any            `json:"conversation_complete_reason"`
	Summary                    map[string]any `json:"summary"`
	Score                      map[string]any `json:"score"`
	FinalReport                map[string]any `json:"final_report"`
	SafetyAlerts               []any          `json:"safety_alerts"`
	Checkpoints                map[string]any `json:"checkpoints"`
}

// ParsePayload turns raw model text into a validated ResponsePayload:
// strip fences, strict parse, retry once after the loose-newline re-escape,
// then coerce and validate. It never fabricates a reply: a missing or empty
// npc_reply is an error.
func ParsePayload(raw string) (*ResponsePayload, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidPayload)
	}

	cleaned := StripCodeFences(trimmed)

	var decoded rawPayload
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		if err2 := json.Unmarshal([]byte(EscapeLooseNewlines(cleaned)), &decoded); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	npcReply := asTrimmedString(decoded.NpcReply)
	if npcReply == "" {
		return nil, fmt.Errorf("%w: missing npc_reply", ErrInvalidPayload)
	}

	payload := &ResponsePayload{
		NpcReply:                   npcReply,
		ConversationComplete:       asBool(decoded.ConversationComplete),
		ConversationCompleteReason: asOptionalString(decoded.ConversationCompleteReason),
		SafetyAlerts:               asStringSlice(decoded.SafetyAlerts),
	}

	if decoded.Summary != nil {
		payload.Summary = &SummarySection{
			RiskLevel:          NormalizeRiskLevel(decoded.Summary["riskLevel"]),
			KeyRisks:           asStringSliceAny(decoded.Summary["keyRisks"]),
			EffectiveResponses: asStringSliceAny(decoded.Summary["effectiveResponses"]),
			Coaching:           asTrimmedString(decoded.Summary["coaching"]),
		}
	}
	if decoded.Score != nil {
		payload.Score = &ScoreSection{
			Confidence: ClampScore(decoded.Score["confidence"]),
			RiskScore:  ClampScore(decoded.Score["riskScore"]),
			Notes:      asTrimmedString(decoded.Score["notes"]),
		}
	}
	if decoded.FinalReport != nil {
		payload.FinalReport = &FinalReportSection{
			OverallAssessment:   asTrimmedString(decoded.FinalReport["overallAssessment"]),
			Strengths:           asStringSliceAny(decoded.FinalReport["strengths"]),
			AreasForGrowth:      asStringSliceAny(decoded.FinalReport["areasForGrowth"]),
			RecommendedPractice: asStringSliceAny(decoded.FinalReport["recommendedPractice"]),
		}
	}
	if decoded.Checkpoints != nil {
		payload.Checkpoints = CheckpointInfo{
			TotalPlayerTurns: clampInt(decoded.Checkpoints["totalPlayerTurns"]),
			SummaryDue:       asBool(decoded.Checkpoints["summaryDue"]),
			AssessmentDue:    asBool(decoded.Checkpoints["assessmentDue"]),
		}
	}

	return payload, nil
}

func asTrimmedString(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func asOptionalString(value any) *string {
	s := asTrimmedString(value)
	if s == "" {
		return nil
	}
	return &s
}

func asBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}

func asStringSlice(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		var s string
		switch t := v.(type) {
		case string:
			s = strings.TrimSpace(t)
		default:
			s = strings.TrimSpace(fmt.Sprint(t))
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func asStringSliceAny(value any) []string {
	arr, ok := value.([]any)
	if !ok {
		return []string{}
	}
	return asStringSlice(arr)
}

// clampInt coerces without the [0,100] bound, for turn counters.
func clampInt(value any) int {
	switch v := value.(type) {
	case float64:
		return int(math.Round(v))
	case int:
		return v
	}
	return 0
}
