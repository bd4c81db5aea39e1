// Package auth holds the authorization guards of the bounty lifecycle. The
// predicates are pure: they look only at the principal and entities already
// loaded by the caller.
package auth

import (
	"fmt"

	"bountyline/internal/domain"
)

// Principal is the authenticated caller as resolved by the transport layer.
type Principal struct {
	ID string
}

// ForbiddenError indicates the principal lacks the relationship an action
// requires.
type ForbiddenError struct {
	Action   string
	Relation string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s requires %s", e.Action, e.Relation)
}

func (e ForbiddenError) Unwrap() error { return domain.ErrForbidden }

func IsCreator(p Principal, b domain.Bounty) bool {
	return p.ID != "" && p.ID == b.CreatorID
}

// IsAssignee is false while the bounty has no assignee.
func IsAssignee(p Principal, b domain.Bounty) bool {
	return p.ID != "" && b.AssigneeID != nil && *b.AssigneeID == p.ID
}

func IsSubmissionOwner(p Principal, s domain.Submission) bool {
	return p.ID != "" && p.ID == s.DeveloperID
}

func CanViewSubmission(p Principal, s domain.Submission, b domain.Bounty) bool {
	return IsSubmissionOwner(p, s) || IsCreator(p, b)
}

func RequireCreator(p Principal, b domain.Bounty, action string) error {
	if !IsCreator(p, b) {
		return ForbiddenError{Action: action, Relation: "bounty creator"}
	}
	return nil
}

func RequireAssignee(p Principal, b domain.Bounty, action string) error {
	if !IsAssignee(p, b) {
		return ForbiddenError{Action: action, Relation: "bounty assignee"}
	}
	return nil
}

func RequireSubmissionOwner(p Principal, s domain.Submission, action string) error {
	if !IsSubmissionOwner(p, s) {
		return ForbiddenError{Action: action, Relation: "submission owner"}
	}
	return nil
}

func RequireViewSubmission(p Principal, s domain.Submission, b domain.Bounty) error {
	if !CanViewSubmission(p, s, b) {
		return ForbiddenError{Action: "view submission", Relation: "submission owner or bounty creator"}
	}
	return nil
}

// RequireNotCreator rejects creators acting on their own bounty, e.g. applying
// to it.
func RequireNotCreator(p Principal, b domain.Bounty, action string) error {
	if p.ID == "" || IsCreator(p, b) {
		return ForbiddenError{Action: action, Relation: "a principal other than the creator"}
	}
	return nil
}
