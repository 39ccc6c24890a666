package scenario

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/apperrors"
	"github.com/harithzain/simlab/internal/config"
	"github.com/harithzain/simlab/internal/langmix"
)

// Service orchestrates the turn state machine: prompt assembly, the model
// call, parse/repair, atomic persistence and checkpoint scheduling.
type Service struct {
	repo     *Repo
	registry *ai.Registry
	cfg      *config.Config
	log      *zap.Logger
}

func NewService(repo *Repo, registry *ai.Registry, cfg *config.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, registry: registry, cfg: cfg, log: log}
}

const repairReminder = "Reminder: respond with a single strict JSON object matching the schema exactly. `npc_reply` must be a non-empty string, numbers must be 0-100 integers, and optional sections must be null when not required. Do not return markdown or extra commentary."

func (s *Service) provider(ctx context.Context) (ai.Provider, error) {
	p, err := s.registry.Get(ctx, s.cfg.AIProvider)
	if err != nil {
		return nil, apperrors.UpstreamModel("ai provider unavailable", err)
	}
	return p, nil
}

func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.cfg.ModelTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// chatJSON performs a chat call in JSON mode, downgrading exactly once when
// the backend rejects the structured-output option.
func (s *Service) chatJSON(ctx context.Context, provider ai.Provider, messages []ai.Message, opts ai.Options) (string, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	opts.JSONObject = true
	out, err := provider.Chat(cctx, messages, opts)
	if err != nil && errors.Is(err, ai.ErrUnsupportedOption) {
		s.log.Info("json mode rejected, retrying without structured output",
			zap.String("model", opts.Model))
		opts.JSONObject = false
		out, err = provider.Chat(cctx, messages, opts)
	}
	return out, err
}

// CreateSessionInput is the session upsert request.
type CreateSessionInput struct {
	SessionID    string             `json:"sessionId"`
	Scenario     ScenarioDescriptor `json:"scenario"`
	Npc          NpcProfile         `json:"npc"`
	AllowAutoEnd *bool              `json:"allowAutoEnd"`
	Locale       string             `json:"locale"`
}

func trimStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeTension(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return "low"
	case "medium":
		return "medium"
	case "high":
		return "high"
	}
	return ""
}

// CreateSession creates or replaces a session keyed by session id.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*Session, error) {
	if strings.TrimSpace(in.Scenario.ID) == "" {
		return nil, apperrors.Validation("invalid scenario descriptor")
	}
	if strings.TrimSpace(in.Npc.ID) == "" ||
		strings.TrimSpace(in.Npc.Name) == "" ||
		strings.TrimSpace(in.Npc.Role) == "" {
		return nil, apperrors.Validation("invalid npc profile")
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	allowAutoEnd := true
	if in.AllowAutoEnd != nil {
		allowAutoEnd = *in.AllowAutoEnd
	}

	session := &Session{
		SessionID:          sessionID,
		ScenarioID:         strings.TrimSpace(in.Scenario.ID),
		ScenarioTitle:      strings.TrimSpace(in.Scenario.Title),
		ScenarioSetting:    strings.TrimSpace(in.Scenario.Setting),
		TensionLevel:       normalizeTension(in.Scenario.TensionLevel),
		LearningObjectives: trimStrings(in.Scenario.LearningObjectives),
		SupportingFacts:    trimStrings(in.Scenario.SupportingFacts),
		NpcID:              strings.TrimSpace(in.Npc.ID),
		NpcName:            strings.TrimSpace(in.Npc.Name),
		NpcRole:            strings.TrimSpace(in.Npc.Role),
		NpcPersona:         strings.TrimSpace(in.Npc.Persona),
		NpcGoals:           trimStrings(in.Npc.Goals),
		NpcTactics:         trimStrings(in.Npc.Tactics),
		NpcBoundaries:      trimStrings(in.Npc.Boundaries),
		Locale:             strings.TrimSpace(in.Locale),
		AllowAutoEnd:       allowAutoEnd,
	}
	if err := s.repo.UpsertSession(ctx, session); err != nil {
		return nil, apperrors.Server("failed to save session", err)
	}
	return session, nil
}

// SessionDetail bundles the session with its full turn and checkpoint record.
type SessionDetail struct {
	Session          *Session     `json:"session"`
	Turns            []Turn       `json:"turns"`
	Checkpoints      []Checkpoint `json:"checkpoints"`
	LatestCheckpoint *Checkpoint  `json:"latest_checkpoint"`
}

func (s *Service) GetSessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.repo.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load turns", err)
	}
	cps, err := s.repo.ListCheckpoints(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load checkpoints", err)
	}
	detail := &SessionDetail{Session: session, Turns: turns, Checkpoints: cps}
	if len(cps) > 0 {
		detail.LatestCheckpoint = &cps[len(cps)-1]
	}
	return detail, nil
}

func (s *Service) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	turns, err := s.repo.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load turns", err)
	}
	return turns, nil
}

func (s *Service) getSession(ctx context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.Validation("missing session id")
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("session not found")
		}
		return nil, apperrors.Server("failed to load session", err)
	}
	return session, nil
}

// TurnInput is a player turn submission.
type TurnInput struct {
	PlayerMessage   string `json:"playerMessage"`
	ForceSummary    bool   `json:"forceSummary"`
	ForceAssessment bool   `json:"forceAssessment"`
	AllowAutoEnd    *bool  `json:"allowAutoEnd"`
	Locale          string `json:"locale"`
	Model           string `json:"model"`
}

// TurnResult is the terminal event of a submitted turn.
type TurnResult struct {
	SessionID       string           `json:"sessionId"`
	PlayerTurnIndex int              `json:"playerTurnIndex"`
	NpcTurnIndex    int              `json:"npcTurnIndex"`
	Response        *ResponsePayload `json:"response"`
	AnalysisDue     bool             `json:"analysisDue"`
}

// turnPlan is the per-submission bookkeeping computed before any model call.
type turnPlan struct {
	session         *Session
	turns           []Turn
	history         []ConversationTurn
	playerMessage   string
	playerTurnCount int
	summaryDue      bool
	assessmentDue   bool
	allowAutoEnd    bool
	locale          string
	mix             langmix.Proportions
	model           string
}

func historyFromTurns(turns []Turn) []ConversationTurn {
	history := make([]ConversationTurn, 0, len(turns))
	for _, t := range turns {
		role := RolePlayer
		if t.Role == RoleNpc {
			role = RoleNpc
		}
		history = append(history, ConversationTurn{Role: role, Content: t.Content})
	}
	return history
}

func countPlayerTurns(history []ConversationTurn) int {
	n := 0
	for _, t := range history {
		if t.Role == RolePlayer {
			n++
		}
	}
	return n
}

// planTurn loads the session and derives cadence, locale and mix for one
// submission. Turn-index math reads already-committed turns; concurrent
// double-submission is bounded by the unique turn and checkpoint keys rather
// than a lock.
func (s *Service) planTurn(ctx context.Context, sessionID string, in TurnInput) (*turnPlan, error) {
	msg := strings.TrimSpace(in.PlayerMessage)
	if msg == "" {
		return nil, apperrors.Validation("player message is required")
	}
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.repo.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Server("failed to load turns", err)
	}

	history := historyFromTurns(turns)
	playerTurnCount := countPlayerTurns(history) + 1
	summaryDue := in.ForceSummary || playerTurnCount%SummaryInterval == 0
	assessmentDue := in.ForceAssessment || summaryDue

	allowAutoEnd := session.AllowAutoEnd
	if in.AllowAutoEnd != nil {
		allowAutoEnd = *in.AllowAutoEnd
	}

	fallbackLocale := strings.TrimSpace(in.Locale)
	if fallbackLocale == "" {
		fallbackLocale = session.Locale
	}

	return &turnPlan{
		session:         session,
		turns:           turns,
		history:         history,
		playerMessage:   msg,
		playerTurnCount: playerTurnCount,
		summaryDue:      summaryDue,
		assessmentDue:   assessmentDue,
		allowAutoEnd:    allowAutoEnd,
		locale:          langmix.DetectLocale(msg, fallbackLocale),
		mix:             langmix.Detect(msg),
		model:           s.cfg.ModelFor(in.Model, s.cfg.ScenarioModel),
	}, nil
}

// generatePayload runs the full structured-output pipeline for a turn:
// prompt, JSON-mode call with single capability downgrade, parse, and at most
// one repair round-trip.
func (s *Service) generatePayload(ctx context.Context, provider ai.Provider, plan *turnPlan, history []ConversationTurn, finalReportDue bool) (*ResponsePayload, error) {
	in := PromptInput{
		Scenario:       plan.session.Scenario(),
		Npc:            plan.session.Npc(),
		SummaryDue:     plan.summaryDue,
		AssessmentDue:  plan.assessmentDue,
		FinalReportDue: finalReportDue,
		AllowAutoEnd:   plan.allowAutoEnd,
		Locale:         plan.locale,
		Mix:            plan.mix,
		HasMix:         true,
	}
	messages := Messages(
		SystemPrompt(in),
		FormatInstruction(plan.summaryDue, plan.assessmentDue, finalReportDue, plan.locale),
		Snapshot(plan.session.Scenario(), history, plan.summaryDue, plan.assessmentDue, finalReportDue, plan.allowAutoEnd),
		history,
	)
	opts := ai.Options{
		Model:            plan.model,
		Temperature:      0.9,
		PresencePenalty:  0.6,
		FrequencyPenalty: 0.3,
	}

	raw, err := s.chatJSON(ctx, provider, messages, opts)
	if err != nil {
		return nil, apperrors.UpstreamModel("model call failed", err)
	}
	payload, parseErr := ParsePayload(raw)
	if parseErr == nil {
		return payload, nil
	}

	// One repair round-trip, never more.
	s.log.Warn("model payload failed to parse, attempting repair",
		zap.String("session_id", plan.session.SessionID),
		zap.Error(parseErr))
	repairMessages := append(append([]ai.Message{}, messages...), ai.Message{Role: "user", Content: repairReminder})
	raw, err = s.chatJSON(ctx, provider, repairMessages, opts)
	if err != nil {
		return nil, apperrors.UpstreamModel("model call failed", err)
	}
	payload, parseErr = ParsePayload(raw)
	if parseErr != nil {
		return nil, apperrors.UpstreamModel("model returned invalid response", parseErr)
	}
	return payload, nil
}

// persistTurn writes the player turn, npc turn and checkpoint atomically and
// returns the assigned turn indexes.
func (s *Service) persistTurn(ctx context.Context, plan *turnPlan, payload *ResponsePayload) (playerTurnIndex, npcTurnIndex int, err error) {
	nextTurnIndex := 0
	if len(plan.turns) > 0 {
		nextTurnIndex = plan.turns[len(plan.turns)-1].TurnIndex + 1
	}
	playerTurnIndex = nextTurnIndex
	npcTurnIndex = nextTurnIndex + 1

	sessionID := plan.session.SessionID
	update := SessionUpdate{
		Locale:       plan.locale,
		AllowAutoEnd: plan.allowAutoEnd,
	}
	if payload.Summary != nil {
		update.LastSummaryRisk = &payload.Summary.RiskLevel
	}
	if payload.Score != nil {
		update.LastScore = &payload.Score.RiskScore
	}
	if payload.ConversationComplete {
		update.Complete = true
		update.CompleteReason = payload.ConversationCompleteReason
	}

	cp := Checkpoint{
		SessionID:                  sessionID,
		PlayerTurnCount:            plan.playerTurnCount,
		SummaryDue:                 plan.summaryDue,
		AssessmentDue:              plan.assessmentDue,
		NpcReply:                   payload.NpcReply,
		Summary:                    payload.Summary,
		Score:                      payload.Score,
		FinalReport:                payload.FinalReport,
		SafetyAlerts:               payload.SafetyAlerts,
		ConversationComplete:       payload.ConversationComplete,
		ConversationCompleteReason: payload.ConversationCompleteReason,
		RawResponse:                payload,
	}

	playerTurn := Turn{SessionID: sessionID, TurnIndex: playerTurnIndex, Role: RolePlayer, Content: plan.playerMessage}
	npcTurn := Turn{SessionID: sessionID, TurnIndex: npcTurnIndex, Role: RoleNpc, Content: payload.NpcReply}

	if err := s.repo.SaveTurnResult(ctx, sessionID, playerTurn, npcTurn, cp, update); err != nil {
		return 0, 0, apperrors.Server("failed to persist turn", err)
	}
	return playerTurnIndex, npcTurnIndex, nil
}

// SubmitTurn runs a full synchronous turn: one structured model call that
// produces the npc reply and any due checkpoint sections, persisted as one
// atomic unit. Nothing is persisted on failure.
func (s *Service) SubmitTurn(ctx context.Context, sessionID string, in TurnInput) (*TurnResult, error) {
	plan, err := s.planTurn(ctx, sessionID, in)
	if err != nil {
		return nil, err
	}
	provider, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	historyForModel := append(append([]ConversationTurn{}, plan.history...),
		ConversationTurn{Role: RolePlayer, Content: plan.playerMessage})

	payload, err := s.generatePayload(ctx, provider, plan, historyForModel, false)
	if err != nil {
		return nil, err
	}
	payload.FinalReport = nil
	payload.Checkpoints = CheckpointInfo{
		TotalPlayerTurns: plan.playerTurnCount,
		SummaryDue:       plan.summaryDue,
		AssessmentDue:    plan.assessmentDue,
	}

	playerIdx, npcIdx, err := s.persistTurn(ctx, plan, payload)
	if err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:       sessionID,
		PlayerTurnIndex: playerIdx,
		NpcTurnIndex:    npcIdx,
		Response:        payload,
		AnalysisDue:     plan.assessmentDue,
	}, nil
}

// SubmitTurnStream streams the npc reply token by token, then runs the
// structured analysis call and persists everything as one atomic unit.
// Exactly one of the result or error channels yields a value after the token
// channel closes; an empty or failed generation persists nothing.
func (s *Service) SubmitTurnStream(ctx context.Context, sessionID string, in TurnInput) (<-chan string, <-chan *TurnResult, <-chan error) {
	tokens := make(chan string, 16)
	results := make(chan *TurnResult, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(results)
		defer close(errs)

		plan, err := s.planTurn(ctx, sessionID, in)
		if err != nil {
			errs <- err
			return
		}
		provider, err := s.provider(ctx)
		if err != nil {
			errs <- err
			return
		}
		sp, ok := provider.(ai.StreamProvider)
		if !ok {
			errs <- apperrors.Server("provider does not support streaming", nil)
			return
		}

		streamMessages := StreamingMessages(
			plan.session.Scenario(), plan.session.Npc(),
			plan.history, plan.playerMessage, plan.locale, plan.mix,
		)
		opts := ai.Options{
			Model:            plan.model,
			Temperature:      0.9,
			PresencePenalty:  0.6,
			FrequencyPenalty: 0.3,
		}

		sctx, cancel := s.callCtx(ctx)
		defer cancel()

		chunks, streamErrs := sp.StreamChat(sctx, streamMessages, opts)

		var b strings.Builder
		for c := range chunks {
			b.WriteString(c)
			select {
			case tokens <- c:
			case <-ctx.Done():
				// Client gone: abandon generation, persist nothing.
				errs <- apperrors.Server("client disconnected", ctx.Err())
				return
			}
		}
		select {
		case err := <-streamErrs:
			if err != nil {
				errs <- apperrors.UpstreamModel("model call failed", err)
				return
			}
		default:
		}

		npcReply := strings.TrimSpace(b.String())
		if npcReply == "" {
			errs <- apperrors.UpstreamModel("model returned empty response", nil)
			return
		}

		historyWithNpc := append(append([]ConversationTurn{}, plan.history...),
			ConversationTurn{Role: RolePlayer, Content: plan.playerMessage},
			ConversationTurn{Role: RoleNpc, Content: npcReply},
		)
		payload, err := s.generatePayload(ctx, provider, plan, historyWithNpc, false)
		if err != nil {
			errs <- err
			return
		}
		payload.NpcReply = npcReply
		payload.FinalReport = nil
		payload.Checkpoints = CheckpointInfo{
			TotalPlayerTurns: plan.playerTurnCount,
			SummaryDue:       plan.summaryDue,
			AssessmentDue:    plan.assessmentDue,
		}

		playerIdx, npcIdx, err := s.persistTurn(ctx, plan, payload)
		if err != nil {
			errs <- err
			return
		}

		results <- &TurnResult{
			SessionID:       sessionID,
			PlayerTurnIndex: playerIdx,
			NpcTurnIndex:    npcIdx,
			Response:        payload,
			AnalysisDue:     plan.assessmentDue,
		}
	}()

	return tokens, results, errs
}
