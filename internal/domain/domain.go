package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type BountyStatus string

const (
	BountyOpen      BountyStatus = "open"
	BountyAssigned  BountyStatus = "assigned"
	BountyInReview  BountyStatus = "in_review"
	BountyCompleted BountyStatus = "completed"
	BountyCancelled BountyStatus = "cancelled"
)

// HasAssignee reports whether a bounty in status s must carry an assignee.
func (s BountyStatus) HasAssignee() bool {
	return s == BountyAssigned || s == BountyInReview || s == BountyCompleted
}

func (s BountyStatus) Terminal() bool {
	return s == BountyCompleted || s == BountyCancelled
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationAccepted ApplicationStatus = "accepted"
	ApplicationRejected ApplicationStatus = "rejected"
)

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
	SubmissionDisputed SubmissionStatus = "disputed"
)

type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "open"
	DisputeResolved  DisputeStatus = "resolved"
	DisputeDismissed DisputeStatus = "dismissed"
)

// Resolution is the binding outcome chosen when a dispute is closed.
type Resolution string

const (
	ResolvedDeveloper Resolution = "resolved_developer"
	ResolvedCreator   Resolution = "resolved_creator"
)

func (r Resolution) Valid() bool {
	return r == ResolvedDeveloper || r == ResolvedCreator
}

type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

type Bounty struct {
	ID          string       `json:"id" db:"id"`
	CreatorID   string       `json:"creator_id" db:"creator_id"`
	AssigneeID  *string      `json:"assignee_id,omitempty" db:"assignee_id"`
	Title       string       `json:"title" db:"title"`
	Description string       `json:"description,omitempty" db:"description"`
	Amount      int64        `json:"amount" db:"amount"`
	Currency    string       `json:"currency" db:"currency"`
	Status      BountyStatus `json:"status" db:"status" enum:"open,assigned,in_review,completed,cancelled"`
	Deadline    string       `json:"deadline" db:"deadline" format:"date-time"`
	CreatedAt   string       `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt   string       `json:"updated_at" db:"updated_at" format:"date-time"`
}

type Application struct {
	ID             string            `json:"id" db:"id"`
	BountyID       string            `json:"bounty_id" db:"bounty_id"`
	ApplicantID    string            `json:"applicant_id" db:"applicant_id"`
	Pitch          string            `json:"pitch" db:"pitch"`
	EstimatedHours int               `json:"estimated_hours" db:"estimated_hours"`
	Status         ApplicationStatus `json:"status" db:"status" enum:"pending,accepted,rejected"`
	CreatedAt      string            `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" db:"updated_at" format:"date-time"`
}

// Submission is work handed in for an assigned bounty. Seq numbers the
// submissions of one bounty from 1 in the order they were made.
type Submission struct {
	ID              string           `json:"id" db:"id"`
	BountyID        string           `json:"bounty_id" db:"bounty_id"`
	Seq             int              `json:"seq" db:"seq"`
	DeveloperID     string           `json:"developer_id" db:"developer_id"`
	PRURL           string           `json:"pr_url" db:"pr_url"`
	Links           StringList       `json:"links,omitempty" db:"links_json"`
	Notes           string           `json:"notes,omitempty" db:"notes"`
	Status          SubmissionStatus `json:"status" db:"status" enum:"pending,approved,rejected,disputed"`
	RejectionReason *string          `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       string           `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt       string           `json:"updated_at" db:"updated_at" format:"date-time"`
}

type Dispute struct {
	ID           string        `json:"id" db:"id"`
	SubmissionID string        `json:"submission_id" db:"submission_id"`
	BountyID     string        `json:"bounty_id" db:"bounty_id"`
	RaisedBy     string        `json:"raised_by" db:"raised_by"`
	Reason       string        `json:"reason" db:"reason"`
	Evidence     StringList    `json:"evidence,omitempty" db:"evidence_json"`
	Status       DisputeStatus `json:"status" db:"status" enum:"open,resolved,dismissed"`
	Resolution   *Resolution   `json:"resolution,omitempty" db:"resolution"`
	ResolvedBy   *string       `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt   *string       `json:"resolved_at,omitempty" db:"resolved_at" format:"date-time"`
	CreatedAt    string        `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt    string        `json:"updated_at" db:"updated_at" format:"date-time"`
}

type ExtensionRequest struct {
	ID                string          `json:"id" db:"id"`
	BountyID          string          `json:"bounty_id" db:"bounty_id"`
	DeveloperID       string          `json:"developer_id" db:"developer_id"`
	RequestedDeadline string          `json:"requested_deadline" db:"requested_deadline" format:"date-time"`
	Reason            string          `json:"reason,omitempty" db:"reason"`
	Status            ExtensionStatus `json:"status" db:"status" enum:"pending,approved,rejected"`
	DecidedBy         *string         `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt         string          `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt         string          `json:"updated_at" db:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id" db:"id"`
	TS         string `json:"ts" db:"ts" format:"date-time"`
	Type       string `json:"type" db:"type"`
	EntityKind string `json:"entity_kind" db:"entity_kind"`
	EntityID   string `json:"entity_id" db:"entity_id"`
	BountyID   string `json:"bounty_id" db:"bounty_id"`
	ActorID    string `json:"actor_id" db:"actor_id"`
	Payload    string `json:"payload_json" db:"payload_json"`
}

// PayoutFailure records a payout hook invocation that failed after its
// triggering transition committed.
type PayoutFailure struct {
	ID         int64   `json:"id" db:"id"`
	BountyID   string  `json:"bounty_id" db:"bounty_id"`
	PayeeID    string  `json:"payee_id" db:"payee_id"`
	Amount     int64   `json:"amount" db:"amount"`
	Error      string  `json:"error" db:"error"`
	Attempts   int     `json:"attempts" db:"attempts"`
	CreatedAt  string  `json:"created_at" db:"created_at" format:"date-time"`
	ResolvedAt *string `json:"resolved_at,omitempty" db:"resolved_at" format:"date-time"`
}

// StringList is a list of strings persisted as a JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("string list: unsupported source %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*l = out
	return nil
}
