package model

import "time"

// Deal is a sales or renewal opportunity mirrored from the CRM.
// Deals are created on first observation and mutated on every later sync;
// they are never deleted, only marked closed.
type Deal struct {
	ID        string `json:"id"`
	CRMID     string `json:"crm_id"`
	AccountID string `json:"account_id,omitempty"`

	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	PipelineID string  `json:"pipeline_id,omitempty"`
	StageID    string  `json:"stage_id,omitempty"`

	CreatedDate *time.Time `json:"created_date,omitempty"`
	CloseDate   *time.Time `json:"close_date,omitempty"`
	ClosedDate  *time.Time `json:"closed_date,omitempty"`

	OwnerEmail string `json:"owner_email,omitempty"`
	IsClosed   bool   `json:"is_closed"`
	IsWon      bool   `json:"is_won"`

	DaysInPipeline     int `json:"days_in_pipeline"`
	DaysInCurrentStage int `json:"days_in_current_stage"`
	StagesVisited      int `json:"stages_visited"`

	ThreadingScore int `json:"threading_score"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// StageEntry is one append-only record of a deal's pipeline-stage
// transition. FromStageID is empty for the first observation of a deal.
// Entries are immutable once written.
type StageEntry struct {
	ID                  string    `json:"id"`
	DealID              string    `json:"deal_id"`
	FromStageID         string    `json:"from_stage_id,omitempty"`
	ToStageID           string    `json:"to_stage_id"`
	DaysInPreviousStage int       `json:"days_in_previous_stage"`
	CreatedAt           time.Time `json:"created_at"`
}

// ContactRole is the inferred organizational role of a deal contact.
type ContactRole string

const (
	RoleExecutiveSponsor ContactRole = "executive_sponsor"
	RoleDecisionMaker    ContactRole = "decision_maker"
	RoleInfluencer       ContactRole = "influencer"
	RoleChampion         ContactRole = "champion"
	RoleUser             ContactRole = "user"
)

// DealContact is a person associated with a deal, unique per (deal, email).
type DealContact struct {
	ID     string      `json:"id"`
	DealID string      `json:"deal_id"`
	Email  string      `json:"email"`
	Name   string      `json:"name,omitempty"`
	Title  string      `json:"title,omitempty"`
	Role   ContactRole `json:"role"`
}
