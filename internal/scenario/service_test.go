package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/apperrors"
	"github.com/harithzain/simlab/internal/config"
)

// scriptedProvider replays canned responses and records every call.
type scriptedProvider struct {
	replies []string
	calls   [][]ai.Message
	opts    []ai.Options
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []ai.Message, opts ai.Options) (string, error) {
	_ = ctx
	p.calls = append(p.calls, append([]ai.Message(nil), messages...))
	p.opts = append(p.opts, opts)
	if len(p.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Turn{}, &Checkpoint{}, &Snippet{}, &Capsule{}, &Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, replies ...string) (*Service, *scriptedProvider, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)

	prov := &scriptedProvider{replies: replies}
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context) (ai.Provider, error) {
		return prov, nil
	})

	cfg := &config.Config{
		BaseURL:             "http://localhost:8080",
		AIProvider:          "fake",
		ScenarioModel:       "test-model",
		AnalysisModel:       "test-model",
		ReportModel:         "test-model",
		SuggestionModel:     "test-model",
		ModelTimeoutSeconds: 5,
		CapsuleExpiryDays:   30,
	}
	return NewService(NewRepo(db), reg, cfg, nil), prov, db
}

func createTestSession(t *testing.T, svc *Service) *Session {
	t.Helper()
	sess, err := svc.CreateSession(context.Background(), CreateSessionInput{
		Scenario: ScenarioDescriptor{
			ID:      "sc-campus-01",
			Title:   "Saying no at the sleepover",
			Setting: "a friend's house after school",
		},
		Npc: NpcProfile{ID: "npc-aiman", Name: "Aiman", Role: "older schoolmate"},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

const plainReply = `{"npc_reply":"Hey, glad you came over.","conversation_complete":false,"conversation_complete_reason":null,"summary":null,"score":null,"final_report":null,"safety_alerts":[]}`

const checkpointReply = `{
  "npc_reply": "Okay okay, no pressure.",
  "conversation_complete": false,
  "conversation_complete_reason": null,
  "summary": {"riskLevel": "low", "keyRisks": ["peer pressure"], "effectiveResponses": ["clear refusal"], "coaching": "Keep naming your limits early."},
  "score": {"confidence": 70, "riskScore": 25, "notes": "held the boundary"},
  "final_report": null,
  "safety_alerts": []
}`

const reportReply = `{
  "npc_reply": "Thanks for talking it through.",
  "conversation_complete": true,
  "conversation_complete_reason": null,
  "summary": {"riskLevel": "low", "keyRisks": [], "effectiveResponses": ["stayed calm"], "coaching": "Well handled."},
  "score": {"confidence": 80, "riskScore": 20, "notes": ""},
  "final_report": {"overallAssessment": "Confident, boundary-aware communication.", "strengths": ["direct refusals"], "areasForGrowth": ["ask more questions"], "recommendedPractice": ["try a higher-tension scenario"]},
  "safety_alerts": []
}`

func TestSubmitTurnCadence(t *testing.T) {
	svc, _, db := newTestService(t, plainReply, plainReply, checkpointReply)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	r1, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"})
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	cp := r1.Response.Checkpoints
	if cp.TotalPlayerTurns != 1 || cp.SummaryDue || cp.AssessmentDue {
		t.Fatalf("turn 1 checkpoints: %+v", cp)
	}
	if r1.PlayerTurnIndex != 0 || r1.NpcTurnIndex != 1 {
		t.Fatalf("turn 1 indexes: player=%d npc=%d", r1.PlayerTurnIndex, r1.NpcTurnIndex)
	}
	if r1.AnalysisDue {
		t.Fatalf("turn 1 should not flag analysis")
	}

	if _, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "What do you want to do?"}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	r3, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "I am not comfortable with that."})
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	cp = r3.Response.Checkpoints
	if cp.TotalPlayerTurns != 3 || !cp.SummaryDue || !cp.AssessmentDue {
		t.Fatalf("turn 3 checkpoints: %+v", cp)
	}
	if r3.Response.Summary == nil || r3.Response.Summary.RiskLevel != "low" {
		t.Fatalf("turn 3 missing summary: %+v", r3.Response.Summary)
	}
	if !r3.AnalysisDue {
		t.Fatalf("turn 3 should flag analysis")
	}

	var turns []Turn
	if err := db.Where("session_id = ?", sess.SessionID).Order("turn_index ASC").Find(&turns).Error; err != nil {
		t.Fatalf("query turns: %v", err)
	}
	if len(turns) != 6 {
		t.Fatalf("expected 6 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if turn.TurnIndex != i {
			t.Fatalf("turn %d has index %d", i, turn.TurnIndex)
		}
		wantRole := RolePlayer
		if i%2 == 1 {
			wantRole = RoleNpc
		}
		if turn.Role != wantRole {
			t.Fatalf("turn %d role %q, want %q", i, turn.Role, wantRole)
		}
	}

	var stored Session
	if err := db.Where("session_id = ?", sess.SessionID).First(&stored).Error; err != nil {
		t.Fatalf("query session: %v", err)
	}
	if stored.LastScore == nil || *stored.LastScore != 25 {
		t.Fatalf("last score not updated: %v", stored.LastScore)
	}
	if stored.LastSummaryRisk != "low" {
		t.Fatalf("last summary risk %q", stored.LastSummaryRisk)
	}
	if stored.CompletedAt != nil {
		t.Fatalf("session should still be active")
	}
}

func TestSubmitTurnRepairsInvalidPayloadOnce(t *testing.T) {
	svc, prov, _ := newTestService(t, "sorry, I can't do JSON today", plainReply)
	sess := createTestSession(t, svc)

	result, err := svc.SubmitTurn(context.Background(), sess.SessionID, TurnInput{PlayerMessage: "Hi"})
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if result.Response.NpcReply != "Hey, glad you came over." {
		t.Fatalf("unexpected reply: %q", result.Response.NpcReply)
	}
	if len(prov.calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(prov.calls))
	}
	last := prov.calls[1][len(prov.calls[1])-1]
	if last.Role != "user" || !strings.Contains(last.Content, "Reminder") {
		t.Fatalf("repair call should end with the reminder, got role=%q content=%q", last.Role, last.Content)
	}
}

func TestSubmitTurnFailsWithoutPersistingWhenRepairFails(t *testing.T) {
	svc, _, db := newTestService(t, "garbage", "still garbage")
	sess := createTestSession(t, svc)

	_, err := svc.SubmitTurn(context.Background(), sess.SessionID, TurnInput{PlayerMessage: "Hi"})
	if !apperrors.IsKind(err, apperrors.KindUpstreamModel) {
		t.Fatalf("expected upstream model error, got %v", err)
	}

	var count int64
	if err := db.Model(&Turn{}).Where("session_id = ?", sess.SessionID).Count(&count).Error; err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed turn must persist nothing, found %d turns", count)
	}
}

func TestSubmitTurnUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.SubmitTurn(context.Background(), "nope", TurnInput{PlayerMessage: "Hi"})
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitTurnEmptyMessage(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess := createTestSession(t, svc)
	_, err := svc.SubmitTurn(context.Background(), sess.SessionID, TurnInput{PlayerMessage: "   "})
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFinalReportRequiresCompletionOrForce(t *testing.T) {
	svc, _, _ := newTestService(t, plainReply)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	_, err := svc.GenerateFinalReport(ctx, sess.SessionID, ReportInput{})
	if !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict for active session, got %v", err)
	}
}

func TestFinalReportForcedCompletionIsFirstWriteWins(t *testing.T) {
	svc, _, db := newTestService(t, plainReply, reportReply, reportReply)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}); err != nil {
		t.Fatalf("turn: %v", err)
	}

	result, err := svc.GenerateFinalReport(ctx, sess.SessionID, ReportInput{Force: true})
	if err != nil {
		t.Fatalf("final report: %v", err)
	}
	if result.Response.FinalReport == nil {
		t.Fatalf("missing final report section")
	}
	if !result.Response.ConversationComplete {
		t.Fatalf("report must mark the conversation complete")
	}
	if result.Response.ConversationCompleteReason == nil ||
		*result.Response.ConversationCompleteReason != "Player ended the conversation." {
		t.Fatalf("unexpected completion reason: %v", result.Response.ConversationCompleteReason)
	}

	var first Session
	if err := db.Where("session_id = ?", sess.SessionID).First(&first).Error; err != nil {
		t.Fatalf("query session: %v", err)
	}
	if first.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := svc.GenerateFinalReport(ctx, sess.SessionID, ReportInput{Force: true}); err != nil {
		t.Fatalf("second final report: %v", err)
	}

	var second Session
	if err := db.Where("session_id = ?", sess.SessionID).First(&second).Error; err != nil {
		t.Fatalf("query session: %v", err)
	}
	if second.CompletedAt == nil || !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("completed_at must not move: first=%v second=%v", first.CompletedAt, second.CompletedAt)
	}
}

func TestRunAnalysisSkipsWhenNotDue(t *testing.T) {
	svc, prov, _ := newTestService(t, plainReply)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	callsBefore := len(prov.calls)

	result, err := svc.RunAnalysis(ctx, sess.SessionID, AnalysisInput{})
	if err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if !result.Skipped || result.Reason != "Analysis not due" {
		t.Fatalf("expected skip, got %+v", result)
	}
	if result.Checkpoints == nil || result.Checkpoints.TotalPlayerTurns != 1 {
		t.Fatalf("skip checkpoints: %+v", result.Checkpoints)
	}
	if len(prov.calls) != callsBefore {
		t.Fatalf("skipped analysis must not call the model")
	}
}

func TestRunAnalysisForcedStoresScore(t *testing.T) {
	svc, prov, db := newTestService(t, plainReply, `{"confidence": 81, "riskScore": 33}`)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}); err != nil {
		t.Fatalf("turn: %v", err)
	}

	result, err := svc.RunAnalysis(ctx, sess.SessionID, AnalysisInput{Force: true})
	if err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if result.Skipped {
		t.Fatalf("forced analysis must run")
	}
	score := result.Response.Score
	if score == nil || score.Confidence != 81 || score.RiskScore != 33 {
		t.Fatalf("unexpected score: %+v", score)
	}
	if result.Response.NpcReply != "Hey, glad you came over." {
		t.Fatalf("analysis should echo the latest npc turn, got %q", result.Response.NpcReply)
	}

	lastOpts := prov.opts[len(prov.opts)-1]
	if lastOpts.Temperature != 0.2 {
		t.Fatalf("analysis temperature %v", lastOpts.Temperature)
	}

	var stored Session
	if err := db.Where("session_id = ?", sess.SessionID).First(&stored).Error; err != nil {
		t.Fatalf("query session: %v", err)
	}
	if stored.LastScore == nil || *stored.LastScore != 33 {
		t.Fatalf("last score not updated: %v", stored.LastScore)
	}
}

func TestEnqueueTurnIdempotency(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	job1, created, err := svc.EnqueueTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}, "key-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created {
		t.Fatalf("first enqueue must create")
	}

	job2, created, err := svc.EnqueueTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}, "key-1")
	if err != nil {
		t.Fatalf("repeat enqueue: %v", err)
	}
	if created {
		t.Fatalf("repeat enqueue must not create")
	}
	if job2.ID != job1.ID {
		t.Fatalf("expected same job, got %s and %s", job1.ID, job2.ID)
	}
}

func TestRunJobExecutesTurn(t *testing.T) {
	svc, _, db := newTestService(t, plainReply)
	sess := createTestSession(t, svc)
	ctx := context.Background()

	job, _, err := svc.EnqueueTurn(ctx, sess.SessionID, TurnInput{PlayerMessage: "Hi"}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := svc.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("run job: %v", err)
	}

	var stored Job
	if err := db.First(&stored, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("query job: %v", err)
	}
	if stored.Status != JobSucceeded {
		t.Fatalf("job status %q", stored.Status)
	}
	if stored.ResultPlayerTurnCount == nil || *stored.ResultPlayerTurnCount != 1 {
		t.Fatalf("result player turn count: %v", stored.ResultPlayerTurnCount)
	}

	// Redelivery of a finished job is a no-op.
	if err := svc.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("rerun job: %v", err)
	}
}
