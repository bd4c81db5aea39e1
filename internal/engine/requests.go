package engine

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"bountyline/internal/domain"
	"bountyline/internal/engine/auth"
)

// Operation names one lifecycle trigger.
type Operation string

const (
	OpCreateBounty      Operation = "create_bounty"
	OpCancelBounty      Operation = "cancel_bounty"
	OpApply             Operation = "apply"
	OpAcceptApplication Operation = "accept_application"
	OpRejectApplication Operation = "reject_application"
	OpAssignDirect      Operation = "assign_direct"
	OpSubmitWork        Operation = "submit_work"
	OpApproveSubmission Operation = "approve_submission"
	OpRejectSubmission  Operation = "reject_submission"
	OpOpenDispute       Operation = "open_dispute"
	OpResolveDispute    Operation = "resolve_dispute"
	OpRequestExtension  Operation = "request_extension"
	OpDecideExtension   Operation = "decide_extension"
)

// Request is one of the operation request variants below. The set is closed:
// only types in this package implement it.
type Request interface {
	Operation() Operation
	// Validate checks the payload shape. It runs before any entity is loaded
	// or any guard is evaluated.
	Validate() error
	request()
}

type CreateBountyRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	Deadline    time.Time `json:"deadline"`
}

type CancelBountyRequest struct {
	BountyID string `json:"bounty_id"`
}

type ApplyRequest struct {
	BountyID       string `json:"bounty_id"`
	Pitch          string `json:"pitch"`
	EstimatedHours int    `json:"estimated_hours"`
}

type AcceptApplicationRequest struct {
	ApplicationID string `json:"application_id"`
}

type RejectApplicationRequest struct {
	ApplicationID string `json:"application_id"`
}

// AssignRequest assigns a bounty without going through an application.
type AssignRequest struct {
	BountyID   string `json:"bounty_id"`
	AssigneeID string `json:"assignee_id"`
}

type SubmitWorkRequest struct {
	BountyID string   `json:"bounty_id"`
	PRURL    string   `json:"pr_url"`
	Links    []string `json:"links,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

type ApproveSubmissionRequest struct {
	SubmissionID string `json:"submission_id"`
}

type RejectSubmissionRequest struct {
	SubmissionID string `json:"submission_id"`
	Reason       string `json:"rejection_reason"`
}

type OpenDisputeRequest struct {
	SubmissionID string   `json:"submission_id"`
	Reason       string   `json:"reason"`
	Evidence     []string `json:"evidence,omitempty"`
}

type ResolveDisputeRequest struct {
	DisputeID  string            `json:"dispute_id"`
	Resolution domain.Resolution `json:"resolution"`
}

type RequestExtensionRequest struct {
	BountyID    string    `json:"bounty_id"`
	NewDeadline time.Time `json:"new_deadline"`
	Reason      string    `json:"reason,omitempty"`
}

type DecideExtensionRequest struct {
	ExtensionID string `json:"extension_id"`
	Approve     bool   `json:"approve"`
}

func (CreateBountyRequest) Operation() Operation      { return OpCreateBounty }
func (CancelBountyRequest) Operation() Operation      { return OpCancelBounty }
func (ApplyRequest) Operation() Operation             { return OpApply }
func (AcceptApplicationRequest) Operation() Operation { return OpAcceptApplication }
func (RejectApplicationRequest) Operation() Operation { return OpRejectApplication }
func (AssignRequest) Operation() Operation            { return OpAssignDirect }
func (SubmitWorkRequest) Operation() Operation        { return OpSubmitWork }
func (ApproveSubmissionRequest) Operation() Operation { return OpApproveSubmission }
func (RejectSubmissionRequest) Operation() Operation  { return OpRejectSubmission }
func (OpenDisputeRequest) Operation() Operation       { return OpOpenDispute }
func (ResolveDisputeRequest) Operation() Operation    { return OpResolveDispute }
func (RequestExtensionRequest) Operation() Operation  { return OpRequestExtension }
func (DecideExtensionRequest) Operation() Operation   { return OpDecideExtension }

func (CreateBountyRequest) request()      {}
func (CancelBountyRequest) request()      {}
func (ApplyRequest) request()             {}
func (AcceptApplicationRequest) request() {}
func (RejectApplicationRequest) request() {}
func (AssignRequest) request()            {}
func (SubmitWorkRequest) request()        {}
func (ApproveSubmissionRequest) request() {}
func (RejectSubmissionRequest) request()  {}
func (OpenDisputeRequest) request()       {}
func (ResolveDisputeRequest) request()    {}
func (RequestExtensionRequest) request()  {}
func (DecideExtensionRequest) request()   {}

func (r CreateBountyRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fieldErr("title", "is required")
	}
	if r.Amount <= 0 {
		return fieldErr("amount", "must be positive")
	}
	if r.Currency != "" && !validCurrency(r.Currency) {
		return fieldErr("currency", "must be 3 to 10 upper-case letters")
	}
	if r.Deadline.IsZero() {
		return fieldErr("deadline", "is required")
	}
	return nil
}

func (r CancelBountyRequest) Validate() error { return requireID("bounty_id", r.BountyID) }

func (r ApplyRequest) Validate() error {
	if err := requireID("bounty_id", r.BountyID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Pitch) == "" {
		return fieldErr("pitch", "is required")
	}
	if r.EstimatedHours <= 0 {
		return fieldErr("estimated_hours", "must be positive")
	}
	return nil
}

func (r AcceptApplicationRequest) Validate() error {
	return requireID("application_id", r.ApplicationID)
}

func (r RejectApplicationRequest) Validate() error {
	return requireID("application_id", r.ApplicationID)
}

func (r AssignRequest) Validate() error {
	if err := requireID("bounty_id", r.BountyID); err != nil {
		return err
	}
	return requireID("assignee_id", r.AssigneeID)
}

func (r SubmitWorkRequest) Validate() error {
	if err := requireID("bounty_id", r.BountyID); err != nil {
		return err
	}
	if !validURL(r.PRURL) {
		return fieldErr("pr_url", "must be an absolute http(s) URL")
	}
	for _, l := range r.Links {
		if !validURL(l) {
			return fieldErr("links", fmt.Sprintf("%q is not an absolute http(s) URL", l))
		}
	}
	return nil
}

func (r ApproveSubmissionRequest) Validate() error {
	return requireID("submission_id", r.SubmissionID)
}

func (r RejectSubmissionRequest) Validate() error {
	if err := requireID("submission_id", r.SubmissionID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Reason) == "" {
		return fieldErr("rejection_reason", "is required")
	}
	return nil
}

func (r OpenDisputeRequest) Validate() error {
	if err := requireID("submission_id", r.SubmissionID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Reason) == "" {
		return fieldErr("reason", "is required")
	}
	for _, l := range r.Evidence {
		if !validURL(l) {
			return fieldErr("evidence", fmt.Sprintf("%q is not an absolute http(s) URL", l))
		}
	}
	return nil
}

func (r ResolveDisputeRequest) Validate() error {
	if err := requireID("dispute_id", r.DisputeID); err != nil {
		return err
	}
	if !r.Resolution.Valid() {
		return fieldErr("resolution", "must be resolved_developer or resolved_creator")
	}
	return nil
}

func (r RequestExtensionRequest) Validate() error {
	if err := requireID("bounty_id", r.BountyID); err != nil {
		return err
	}
	if r.NewDeadline.IsZero() {
		return fieldErr("new_deadline", "is required")
	}
	return nil
}

func (r DecideExtensionRequest) Validate() error {
	return requireID("extension_id", r.ExtensionID)
}

// Execute dispatches req to its operation and returns the resulting entity
// snapshot. Pointers to request values are accepted too.
func (e Engine) Execute(ctx context.Context, p auth.Principal, req Request) (any, error) {
	if v := reflect.ValueOf(req); v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fieldErr("request", "is required")
		}
		req = v.Elem().Interface().(Request)
	}
	switch r := req.(type) {
	case CreateBountyRequest:
		return e.CreateBounty(ctx, p, r)
	case CancelBountyRequest:
		return e.CancelBounty(ctx, p, r)
	case ApplyRequest:
		return e.Apply(ctx, p, r)
	case AcceptApplicationRequest:
		return e.AcceptApplication(ctx, p, r)
	case RejectApplicationRequest:
		return e.RejectApplication(ctx, p, r)
	case AssignRequest:
		return e.AssignDirect(ctx, p, r)
	case SubmitWorkRequest:
		return e.SubmitWork(ctx, p, r)
	case ApproveSubmissionRequest:
		return e.ApproveSubmission(ctx, p, r)
	case RejectSubmissionRequest:
		return e.RejectSubmission(ctx, p, r)
	case OpenDisputeRequest:
		return e.OpenDispute(ctx, p, r)
	case ResolveDisputeRequest:
		return e.ResolveDispute(ctx, p, r)
	case RequestExtensionRequest:
		return e.RequestExtension(ctx, p, r)
	case DecideExtensionRequest:
		return e.DecideExtension(ctx, p, r)
	}
	return nil, fieldErr("request", fmt.Sprintf("unsupported request %T", req))
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fieldErr(field, "is required")
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validCurrency(c string) bool {
	if len(c) < 3 || len(c) > 10 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
