package scenario

import "time"

const (
	RolePlayer = "player"
	RoleNpc    = "npc"
)

// SummaryInterval is the checkpoint cadence: every Nth player turn a
// summary and assessment are due.
const SummaryInterval = 3

// ScenarioDescriptor is the caller-supplied scenario definition.
type ScenarioDescriptor struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title,omitempty"`
	Setting            string   `json:"setting,omitempty"`
	LearningObjectives []string `json:"learningObjectives,omitempty"`
	SupportingFacts    []string `json:"supportingFacts,omitempty"`
	TensionLevel       string   `json:"tensionLevel,omitempty"`
}

// NpcProfile describes the character the model plays.
type NpcProfile struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Persona    string   `json:"persona,omitempty"`
	Goals      []string `json:"goals,omitempty"`
	Tactics    []string `json:"tactics,omitempty"`
	Boundaries []string `json:"boundaries,omitempty"`
}

// ConversationTurn is one line of dialogue as seen by the prompt builder.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SummarySection is the periodic checkpoint summary.
type SummarySection struct {
	RiskLevel          string   `json:"riskLevel"`
	KeyRisks           []string `json:"keyRisks"`
	EffectiveResponses []string `json:"effectiveResponses"`
	Coaching           string   `json:"coaching"`
}

// ScoreSection holds the bounded assessment integers.
type ScoreSection struct {
	Confidence int    `json:"confidence"`
	RiskScore  int    `json:"riskScore"`
	Notes      string `json:"notes"`
}

// FinalReportSection is the end-of-session synthesis.
type FinalReportSection struct {
	OverallAssessment   string   `json:"overallAssessment"`
	Strengths           []string `json:"strengths"`
	AreasForGrowth      []string `json:"areasForGrowth"`
	RecommendedPractice []string `json:"recommendedPractice"`
}

// CheckpointInfo reports cadence bookkeeping back to the client.
type CheckpointInfo struct {
	TotalPlayerTurns int  `json:"totalPlayerTurns"`
	SummaryDue       bool `json:"summaryDue"`
	AssessmentDue    bool `json:"assessmentDue"`
}

// ResponsePayload is the validated structured output of a model turn. The
// optional sections are nil exactly when not requested for that turn.
type ResponsePayload struct {
	NpcReply                   string              `json:"npc_reply"`
	ConversationComplete       bool                `json:"conversation_complete"`
	ConversationCompleteReason *string             `json:"conversation_complete_reason"`
	Summary                    *SummarySection     `json:"summary"`
	Score                      *ScoreSection       `json:"score"`
	FinalReport                *FinalReportSection `json:"final_report"`
	SafetyAlerts               []string            `json:"safety_alerts"`
	Checkpoints                CheckpointInfo      `json:"checkpoints"`
}

// SuggestedScenario is one recommended follow-up scenario inside a capsule.
type SuggestedScenario struct {
	ScenarioID string `json:"scenarioId"`
	Title      string `json:"title"`
	Reason     string `json:"reason"`
}

// ToneMetrics snapshots the last assessment for the shared capsule.
type ToneMetrics struct {
	Confidence int    `json:"confidence"`
	RiskScore  int    `json:"riskScore"`
	Notes      string `json:"notes"`
}

type Session struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`

	ScenarioID         string   `gorm:"type:varchar(64);not null" json:"scenario_id"`
	ScenarioTitle      string   `gorm:"type:varchar(255)" json:"scenario_title"`
	ScenarioSetting    string   `gorm:"type:text" json:"scenario_setting"`
	TensionLevel       string   `gorm:"type:varchar(16)" json:"tension_level"`
	LearningObjectives []string `gorm:"serializer:json;type:text" json:"learning_objectives"`
	SupportingFacts    []string `gorm:"serializer:json;type:text" json:"supporting_facts"`

	NpcID         string   `gorm:"type:varchar(64);not null" json:"npc_id"`
	NpcName       string   `gorm:"type:varchar(128);not null" json:"npc_name"`
	NpcRole       string   `gorm:"type:varchar(128);not null" json:"npc_role"`
	NpcPersona    string   `gorm:"type:text" json:"npc_persona"`
	NpcGoals      []string `gorm:"serializer:json;type:text" json:"npc_goals"`
	NpcTactics    []string `gorm:"serializer:json;type:text" json:"npc_tactics"`
	NpcBoundaries []string `gorm:"serializer:json;type:text" json:"npc_boundaries"`

	Locale       string `gorm:"type:varchar(16)" json:"locale"`
	AllowAutoEnd bool   `gorm:"not null;default:true" json:"allow_auto_end"`

	LastSummaryRisk string `gorm:"type:varchar(16)" json:"last_summary_risk"`
	LastScore       *int   `json:"last_score"`

	// CompletedAt is write-once: the first completion wins.
	CompletedAt      *time.Time `json:"completed_at"`
	CompletionReason *string    `gorm:"type:text" json:"completion_reason"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "scenario_sessions" }

// Scenario rebuilds the descriptor from the stored columns.
func (s *Session) Scenario() ScenarioDescriptor {
	return ScenarioDescriptor{
		ID:                 s.ScenarioID,
		Title:              s.ScenarioTitle,
		Setting:            s.ScenarioSetting,
		LearningObjectives: s.LearningObjectives,
		SupportingFacts:    s.SupportingFacts,
		TensionLevel:       s.TensionLevel,
	}
}

// Npc rebuilds the NPC profile from the stored columns.
func (s *Session) Npc() NpcProfile {
	return NpcProfile{
		ID:         s.NpcID,
		Name:       s.NpcName,
		Role:       s.NpcRole,
		Persona:    s.NpcPersona,
		Goals:      s.NpcGoals,
		Tactics:    s.NpcTactics,
		Boundaries: s.NpcBoundaries,
	}
}

type Turn struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_scenario_turn,priority:1" json:"session_id"`
	TurnIndex int       `gorm:"not null;uniqueIndex:uniq_scenario_turn,priority:2" json:"turn_index"`
	Role      string    `gorm:"type:varchar(8);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (Turn) TableName() string { return "scenario_turns" }

// Checkpoint is the structured-analysis record for one player-turn count.
// Only the row with the highest player_turn_count is authoritative for the
// session's completion status.
type Checkpoint struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID       string `gorm:"type:varchar(64);not null;uniqueIndex:uniq_scenario_checkpoint,priority:1" json:"session_id"`
	PlayerTurnCount int    `gorm:"not null;uniqueIndex:uniq_scenario_checkpoint,priority:2" json:"player_turn_count"`

	SummaryDue    bool `gorm:"not null" json:"summary_due"`
	AssessmentDue bool `gorm:"not null" json:"assessment_due"`

	NpcReply     string              `gorm:"type:text" json:"npc_reply"`
	Summary      *SummarySection     `gorm:"serializer:json;type:text" json:"summary"`
	Score        *ScoreSection       `gorm:"serializer:json;type:text" json:"score"`
	FinalReport  *FinalReportSection `gorm:"serializer:json;type:text" json:"final_report"`
	SafetyAlerts []string            `gorm:"serializer:json;type:text" json:"safety_alerts"`

	ConversationComplete       bool    `gorm:"not null" json:"conversation_complete"`
	ConversationCompleteReason *string `gorm:"type:text" json:"conversation_complete_reason"`

	RawResponse *ResponsePayload `gorm:"serializer:json;type:text" json:"raw_response"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Checkpoint) TableName() string { return "scenario_checkpoints" }

type Capsule struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID  string `gorm:"type:varchar(64);index;not null" json:"session_id"`
	ShareToken string `gorm:"type:varchar(64);uniqueIndex;not null" json:"share_token"`

	NarrativeSummary       string              `gorm:"type:text" json:"narrative_summary"`
	SuggestedNextScenarios []SuggestedScenario `gorm:"serializer:json;type:text" json:"suggested_next_scenarios"`
	ToneMetrics            *ToneMetrics        `gorm:"serializer:json;type:text" json:"tone_metrics"`

	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	ViewCount int       `gorm:"not null;default:0" json:"view_count"`
	CreatedAt time.Time `json:"created_at"`
}

func (Capsule) TableName() string { return "scenario_capsules" }

type Snippet struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	TurnIndex    int       `gorm:"not null" json:"turn_index"`
	Role         string    `gorm:"type:varchar(8);not null" json:"role"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	Annotation   string    `gorm:"type:text" json:"annotation"`
	ImpactReason string    `gorm:"type:varchar(255)" json:"impact_reason"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Snippet) TableName() string { return "scenario_snippets" }

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is an async turn submission handled by the worker.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	SessionID     string `gorm:"type:varchar(64);index:uniq_scenario_job_idempo,unique,priority:1;not null" json:"session_id"`
	PlayerMessage string `gorm:"type:text;not null" json:"player_message"`

	ForceSummary    bool    `gorm:"not null" json:"force_summary"`
	ForceAssessment bool    `gorm:"not null" json:"force_assessment"`
	Locale          string  `gorm:"type:varchar(16)" json:"locale"`
	AllowAutoEnd    *bool   `json:"allow_auto_end"`
	IdempotencyKey  *string `gorm:"type:varchar(128);index:uniq_scenario_job_idempo,unique,priority:2" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	ResultPlayerTurnCount *int `json:"result_player_turn_count"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "scenario_jobs" }
