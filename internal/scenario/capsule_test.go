package scenario

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/harithzain/simlab/internal/apperrors"
)

const snippetsReply = `{
  "snippets": [
    {"turnIndex": 0, "role": "player", "content": "I am not comfortable with that.", "annotation": "A direct refusal delivered without hostility.", "impactReason": "validated consent"},
    {"turnIndex": 2, "role": "player", "content": "Can we slow down?", "annotation": "Checked in before escalating.", "impactReason": "showed empathy"},
    {"turnIndex": 4, "role": "player", "content": "I already said no.", "annotation": "Repeated the boundary under pressure.", "impactReason": "held boundary"}
  ]
}`

const capsuleReply = `{
  "narrativeSummary": "You walked into a tense conversation and held your ground without losing warmth.",
  "suggestedNextScenarios": [
    {"scenarioId": "sc-clinic-01", "title": "Asking about testing", "reason": "Builds on the confidence you showed here."}
  ]
}`

func completeSession(t *testing.T, svc *Service, sessionID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.SubmitTurn(ctx, sessionID, TurnInput{PlayerMessage: "Hi"}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if _, err := svc.GenerateFinalReport(ctx, sessionID, ReportInput{Force: true}); err != nil {
		t.Fatalf("final report: %v", err)
	}
}

func TestCreateCapsuleRequiresCompletion(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess := createTestSession(t, svc)

	_, err := svc.CreateCapsule(context.Background(), sess.SessionID, CapsuleInput{})
	if !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict for active session, got %v", err)
	}
}

func TestCapsuleLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t, plainReply, reportReply, snippetsReply, capsuleReply)
	sess := createTestSession(t, svc)
	ctx := context.Background()
	completeSession(t, svc, sess.SessionID)

	created, err := svc.CreateCapsule(ctx, sess.SessionID, CapsuleInput{})
	if err != nil {
		t.Fatalf("create capsule: %v", err)
	}
	if created.ShareToken == "" {
		t.Fatalf("missing share token")
	}
	if !strings.HasSuffix(created.ShareURL, "/simulator/capsule/"+created.ShareToken) {
		t.Fatalf("unexpected share url %q", created.ShareURL)
	}
	if created.NarrativeSummary == "" || len(created.SuggestedNextScenarios) != 1 {
		t.Fatalf("capsule content: %+v", created)
	}
	wantExpiry := time.Now().AddDate(0, 0, 30)
	if d := created.ExpiresAt.Sub(wantExpiry); d < -time.Minute || d > time.Minute {
		t.Fatalf("expiry %v not ~30 days out", created.ExpiresAt)
	}
	if created.ToneMetrics == nil || created.ToneMetrics.RiskScore != 20 {
		t.Fatalf("tone metrics: %+v", created.ToneMetrics)
	}

	owner, err := svc.GetCapsule(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get capsule: %v", err)
	}
	if owner.ViewCount != 0 {
		t.Fatalf("fresh capsule views %d", owner.ViewCount)
	}

	public, err := svc.ViewCapsule(ctx, created.ShareToken)
	if err != nil {
		t.Fatalf("view capsule: %v", err)
	}
	if public.SessionInfo == nil || public.SessionInfo.NpcName != "Aiman" {
		t.Fatalf("public session info: %+v", public.SessionInfo)
	}
	if len(public.Snippets) != 3 {
		t.Fatalf("public snippets: %d", len(public.Snippets))
	}
	if public.CompletedAt == nil {
		t.Fatalf("public view must expose completion time")
	}

	second, err := svc.ViewCapsule(ctx, created.ShareToken)
	if err != nil {
		t.Fatalf("second view: %v", err)
	}
	_ = second
	owner, err = svc.GetCapsule(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get capsule after views: %v", err)
	}
	if owner.ViewCount != 2 {
		t.Fatalf("expected 2 views, got %d", owner.ViewCount)
	}
}

func TestViewCapsuleUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ViewCapsule(context.Background(), "no-such-token")
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestViewCapsuleExpired(t *testing.T) {
	svc, _, db := newTestService(t)
	sess := createTestSession(t, svc)

	capsule := &Capsule{
		SessionID:        sess.SessionID,
		ShareToken:       "expired-token",
		NarrativeSummary: "old",
		ExpiresAt:        time.Now().Add(-time.Hour),
	}
	if err := db.Create(capsule).Error; err != nil {
		t.Fatalf("seed capsule: %v", err)
	}

	_, err := svc.ViewCapsule(context.Background(), "expired-token")
	if !apperrors.IsKind(err, apperrors.KindExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	_, err = svc.GetCapsule(context.Background(), sess.SessionID)
	if !apperrors.IsKind(err, apperrors.KindExpired) {
		t.Fatalf("expected expired for owner view, got %v", err)
	}
}

func TestGenerateSnippetsReplacesPriorSet(t *testing.T) {
	svc, _, db := newTestService(t, plainReply, snippetsReply, snippetsReply)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}); err != nil {
		t.Fatalf("turn: %v", err)
	}

	first, err := svc.GenerateSnippets(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("generate snippets: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 snippets, got %d", len(first))
	}
	if _, err := svc.GenerateSnippets(ctx, sess.SessionID); err != nil {
		t.Fatalf("regenerate snippets: %v", err)
	}

	var count int64
	if err := db.Model(&Snippet{}).Where("session_id = ?", sess.SessionID).Count(&count).Error; err != nil {
		t.Fatalf("count snippets: %v", err)
	}
	if count != 3 {
		t.Fatalf("regeneration must replace, found %d rows", count)
	}
}

func TestSuggestRepliesNeedsNpcTurn(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess := createTestSession(t, svc)

	_, err := svc.SuggestReplies(context.Background(), sess.SessionID)
	if !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict without turns, got %v", err)
	}
}

func TestSuggestRepliesPair(t *testing.T) {
	long := strings.Repeat("x", 200)
	svc, prov, _ := newTestService(t,
		plainReply,
		`{"positive": "How can we keep this comfortable for both of us?", "negative": "`+long+`"}`,
	)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}); err != nil {
		t.Fatalf("turn: %v", err)
	}

	result, err := svc.SuggestReplies(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if result.NpcTurnIndex != 1 {
		t.Fatalf("npc turn index %d", result.NpcTurnIndex)
	}
	if result.Suggestions.Positive == "" {
		t.Fatalf("missing positive suggestion")
	}
	if len(result.Suggestions.Negative) > 160 {
		t.Fatalf("negative suggestion not truncated: %d chars", len(result.Suggestions.Negative))
	}

	lastOpts := prov.opts[len(prov.opts)-1]
	if lastOpts.MaxTokens != 350 || lastOpts.Temperature != 0.6 {
		t.Fatalf("suggestion options: %+v", lastOpts)
	}
}

func TestSuggestRepliesTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("你", 200)
	svc, _, _ := newTestService(t,
		plainReply,
		`{"positive": "我们可以慢慢来吗？", "negative": "`+long+`"}`,
	)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "嗨"}); err != nil {
		t.Fatalf("turn: %v", err)
	}

	result, err := svc.SuggestReplies(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	neg := result.Suggestions.Negative
	if !utf8.ValidString(neg) {
		t.Fatalf("truncation produced invalid utf-8: %q", neg)
	}
	if got := utf8.RuneCountInString(neg); got != 160 {
		t.Fatalf("expected 160 characters, got %d", got)
	}
}
