package scenario

import (
	"errors"
	"testing"
)

func TestParsePayloadStripsCodeFences(t *testing.T) {
	fenced := "```json\n{\"npc_reply\": \"Hello there\", \"safety_alerts\": []}\n```"
	payload, err := ParsePayload(fenced)
	if err != nil {
		t.Fatalf("parse fenced: %v", err)
	}
	if payload.NpcReply != "Hello there" {
		t.Fatalf("npc reply %q", payload.NpcReply)
	}

	bare, err := ParsePayload(`{"npc_reply": "Hello there"}`)
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	if bare.NpcReply != payload.NpcReply {
		t.Fatalf("fenced and bare forms must parse identically")
	}
}

func TestParsePayloadRepairsLooseNewlines(t *testing.T) {
	raw := "{\"npc_reply\": \"line one\nline two\"}"
	payload, err := ParsePayload(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.NpcReply != "line one\nline two" {
		t.Fatalf("npc reply %q", payload.NpcReply)
	}
}

func TestParsePayloadRejectsMissingReply(t *testing.T) {
	for _, raw := range []string{"", "   ", `{"summary": null}`, `{"npc_reply": "  "}`, "not json at all"} {
		_, err := ParsePayload(raw)
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("input %q: expected ErrInvalidPayload, got %v", raw, err)
		}
	}
}

func TestParsePayloadCoercesSections(t *testing.T) {
	raw := `{
		"npc_reply": "ok",
		"conversation_complete": "true",
		"conversation_complete_reason": "Player left",
		"summary": {"riskLevel": "HIGH", "keyRisks": ["x", 3], "effectiveResponses": [], "coaching": " keep going "},
		"score": {"confidence": "87.6", "riskScore": 150, "notes": "over"},
		"safety_alerts": ["alert one", ""]
	}`
	payload, err := ParsePayload(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !payload.ConversationComplete {
		t.Fatalf("string true must coerce")
	}
	if payload.ConversationCompleteReason == nil || *payload.ConversationCompleteReason != "Player left" {
		t.Fatalf("reason %v", payload.ConversationCompleteReason)
	}
	if payload.Summary.RiskLevel != "high" {
		t.Fatalf("risk level %q", payload.Summary.RiskLevel)
	}
	if payload.Summary.Coaching != "keep going" {
		t.Fatalf("coaching %q", payload.Summary.Coaching)
	}
	if payload.Score.Confidence != 88 {
		t.Fatalf("confidence %d", payload.Score.Confidence)
	}
	if payload.Score.RiskScore != 100 {
		t.Fatalf("risk score must clamp to 100, got %d", payload.Score.RiskScore)
	}
	if len(payload.SafetyAlerts) != 1 || payload.SafetyAlerts[0] != "alert one" {
		t.Fatalf("safety alerts %v", payload.SafetyAlerts)
	}
}

func TestClampScore(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{42.4, 42},
		{42.5, 43},
		{-7, 0},
		{250, 100},
		{"55", 55},
		{"nope", 0},
		{nil, 0},
		{true, 0},
	}
	for _, tc := range cases {
		if got := ClampScore(tc.in); got != tc.want {
			t.Fatalf("ClampScore(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRiskLevel(t *testing.T) {
	cases := map[any]string{
		"low":      "low",
		" MEDIUM ": "medium",
		"High":     "high",
		"extreme":  "medium",
		nil:        "medium",
	}
	for in, want := range cases {
		if got := NormalizeRiskLevel(in); got != want {
			t.Fatalf("NormalizeRiskLevel(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestEscapeLooseNewlinesLeavesEscapedAlone(t *testing.T) {
	in := `{"a": "already\nescaped"}`
	if got := EscapeLooseNewlines(in); got != in {
		t.Fatalf("escaped input must be untouched, got %q", got)
	}

	crlf := "{\"a\": \"one\r\ntwo\"}"
	want := `{"a": "one\ntwo"}`
	if got := EscapeLooseNewlines(crlf); got != want {
		t.Fatalf("crlf collapse: got %q want %q", got, want)
	}

	outside := "{\n\"a\": \"b\"\n}"
	if got := EscapeLooseNewlines(outside); got != outside {
		t.Fatalf("newlines outside strings must be untouched, got %q", got)
	}
}
