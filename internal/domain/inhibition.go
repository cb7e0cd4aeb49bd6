package domain

import (
	"time"

	"github.com/google/uuid"
)

type InhibitionState string

const (
	StateMonitoring InhibitionState = "MONITORING"
	StateQualifying InhibitionState = "QUALIFYING"
	StateReframing  InhibitionState = "REFRAMING"
	StateAborted    InhibitionState = "ABORTED"
	StateCompleted  InhibitionState = "COMPLETED"
)

func (s InhibitionState) Terminal() bool {
	return s == StateAborted || s == StateCompleted
}

type ActionKind string

const (
	ActionContinue   ActionKind = "continue"
	ActionQualify    ActionKind = "qualify"
	ActionSubstitute ActionKind = "substitute"
	ActionHalt       ActionKind = "halt"
)

type Action struct {
	Kind ActionKind `json:"kind"`
	Text string     `json:"text,omitempty"`
	// Trigger and Correction are set on substitute so the adapter can swap
	// the claim it made for the corrected one.
	Trigger    *Assertion  `json:"trigger,omitempty"`
	Correction *Correction `json:"correction,omitempty"`
}

type InhibitionEvent struct {
	SessionID uuid.UUID        `json:"session_id"`
	Sample    DissonanceSample `json:"sample"`
	Aggregate float64          `json:"aggregate"`
	Action    Action           `json:"action"`
	Before    InhibitionState  `json:"state_before"`
	After     InhibitionState  `json:"state_after"`
	// Emitted holds the claims that reached the output at this step.
	Emitted   []Assertion `json:"emitted,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type Outcome string

const (
	OutcomeCompleted  Outcome = "COMPLETED"
	OutcomeAborted    Outcome = "ABORTED"
	OutcomeIncomplete Outcome = "INCOMPLETE"
)

// SessionReport is what a finished session hands to consolidation.
type SessionReport struct {
	SessionID       uuid.UUID         `json:"session_id"`
	Outcome         Outcome           `json:"outcome"`
	SnapshotVersion uint64            `json:"snapshot_version"`
	Events          []InhibitionEvent `json:"events"`
	Accepted        bool              `json:"accepted"`
	// Rejected lists claims the consumer flagged as wrong after the fact.
	Rejected []Assertion `json:"rejected,omitempty"`
}
