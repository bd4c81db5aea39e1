package server

import (
	"time"

	"bountyline/internal/domain"
)

// Request payloads. Fields are optional at the schema level so that missing
// values reach the lifecycle validation and come back as field errors.

type CreateBountyBody struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Currency    string    `json:"currency,omitempty" example:"USDC"`
	Deadline    time.Time `json:"deadline,omitempty"`
}

type AssignBody struct {
	AssigneeID string `json:"assignee_id,omitempty"`
}

type ApplyBody struct {
	Pitch          string `json:"pitch,omitempty"`
	EstimatedHours int    `json:"estimated_hours,omitempty"`
}

type SubmitWorkBody struct {
	PRURL string   `json:"pr_url,omitempty"`
	Links []string `json:"links,omitempty"`
	Notes string   `json:"notes,omitempty"`
}

type RejectSubmissionBody struct {
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type OpenDisputeBody struct {
	Reason   string   `json:"reason,omitempty"`
	Evidence []string `json:"evidence,omitempty"`
}

type ResolveDisputeBody struct {
	Resolution domain.Resolution `json:"resolution,omitempty" enum:"resolved_developer,resolved_creator"`
}

type RequestExtensionBody struct {
	NewDeadline time.Time `json:"new_deadline,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

type DecideExtensionBody struct {
	Approve bool `json:"approve,omitempty"`
}

// Response payloads

type BountyList struct {
	Bounties []domain.Bounty `json:"bounties"`
}

type ApplicationList struct {
	Applications []domain.Application `json:"applications"`
}

type EventList struct {
	Events []domain.Event `json:"events"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
