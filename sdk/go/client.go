package bountylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bountyline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Bounty represents the API bounty model.
type Bounty struct {
	ID          string  `json:"id"`
	CreatorID   string  `json:"creator_id"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	Deadline    string  `json:"deadline"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type Application struct {
	ID             string `json:"id"`
	BountyID       string `json:"bounty_id"`
	ApplicantID    string `json:"applicant_id"`
	Pitch          string `json:"pitch"`
	EstimatedHours int    `json:"estimated_hours"`
	Status         string `json:"status"`
}

type Submission struct {
	ID              string   `json:"id"`
	BountyID        string   `json:"bounty_id"`
	Seq             int      `json:"seq"`
	DeveloperID     string   `json:"developer_id"`
	PRURL           string   `json:"pr_url"`
	Links           []string `json:"links,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Status          string   `json:"status"`
	RejectionReason *string  `json:"rejection_reason,omitempty"`
}

type Dispute struct {
	ID           string   `json:"id"`
	SubmissionID string   `json:"submission_id"`
	BountyID     string   `json:"bounty_id"`
	RaisedBy     string   `json:"raised_by"`
	Reason       string   `json:"reason"`
	Evidence     []string `json:"evidence,omitempty"`
	Status       string   `json:"status"`
	Resolution   *string  `json:"resolution,omitempty"`
}

type ExtensionRequest struct {
	ID                string `json:"id"`
	BountyID          string `json:"bounty_id"`
	DeveloperID       string `json:"developer_id"`
	RequestedDeadline string `json:"requested_deadline"`
	Reason            string `json:"reason,omitempty"`
	Status            string `json:"status"`
}

// Event represents a bounty history entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	BountyID   string `json:"bounty_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses. Code carries the error kind of the
// envelope, such as "invalid_state" or "conflict".
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// NewBounty holds the fields of a bounty to create.
type NewBounty struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	Deadline    time.Time `json:"deadline"`
}

func (c *Client) CreateBounty(ctx context.Context, b NewBounty) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, "bounties", b, &resp)
	return resp, err
}

func (c *Client) GetBounty(ctx context.Context, id string) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodGet, "bounties/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListBounties lists bounties, optionally filtered by status.
func (c *Client) ListBounties(ctx context.Context, status string) ([]Bounty, error) {
	endpoint := "bounties"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Bounties []Bounty `json:"bounties"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Bounties, err
}

func (c *Client) CancelBounty(ctx context.Context, id string) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, "bounties/"+url.PathEscape(id)+"/cancel", nil, &resp)
	return resp, err
}

func (c *Client) AssignBounty(ctx context.Context, id, assigneeID string) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, "bounties/"+url.PathEscape(id)+"/assign", map[string]any{"assignee_id": assigneeID}, &resp)
	return resp, err
}

func (c *Client) Apply(ctx context.Context, bountyID, pitch string, estimatedHours int) (Application, error) {
	body := map[string]any{"pitch": pitch, "estimated_hours": estimatedHours}
	var resp Application
	err := c.do(ctx, http.MethodPost, "bounties/"+url.PathEscape(bountyID)+"/applications", body, &resp)
	return resp, err
}

// AcceptApplication returns the bounty, now assigned to the applicant.
func (c *Client) AcceptApplication(ctx context.Context, applicationID string) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, "applications/"+url.PathEscape(applicationID)+"/accept", nil, &resp)
	return resp, err
}

func (c *Client) RejectApplication(ctx context.Context, applicationID string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, "applications/"+url.PathEscape(applicationID)+"/reject", nil, &resp)
	return resp, err
}

func (c *Client) SubmitWork(ctx context.Context, bountyID, prURL string, links []string, notes string) (Submission, error) {
	body := map[string]any{"pr_url": prURL, "links": links, "notes": notes}
	var resp Submission
	err := c.do(ctx, http.MethodPost, "bounties/"+url.PathEscape(bountyID)+"/submissions", body, &resp)
	return resp, err
}

func (c *Client) ApproveSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, "submissions/"+url.PathEscape(submissionID)+"/approve", nil, &resp)
	return resp, err
}

func (c *Client) RejectSubmission(ctx context.Context, submissionID, reason string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, "submissions/"+url.PathEscape(submissionID)+"/reject", map[string]any{"rejection_reason": reason}, &resp)
	return resp, err
}

func (c *Client) OpenDispute(ctx context.Context, submissionID, reason string, evidence []string) (Dispute, error) {
	body := map[string]any{"reason": reason, "evidence": evidence}
	var resp Dispute
	err := c.do(ctx, http.MethodPost, "submissions/"+url.PathEscape(submissionID)+"/disputes", body, &resp)
	return resp, err
}

// ResolveDispute closes a dispute with "resolved_developer" or
// "resolved_creator".
func (c *Client) ResolveDispute(ctx context.Context, disputeID, resolution string) (Dispute, error) {
	var resp Dispute
	err := c.do(ctx, http.MethodPost, "disputes/"+url.PathEscape(disputeID)+"/resolve", map[string]any{"resolution": resolution}, &resp)
	return resp, err
}

func (c *Client) RequestExtension(ctx context.Context, bountyID string, newDeadline time.Time, reason string) (ExtensionRequest, error) {
	body := map[string]any{"new_deadline": newDeadline.UTC().Format(time.RFC3339), "reason": reason}
	var resp ExtensionRequest
	err := c.do(ctx, http.MethodPost, "bounties/"+url.PathEscape(bountyID)+"/extensions", body, &resp)
	return resp, err
}

func (c *Client) DecideExtension(ctx context.Context, extensionID string, approve bool) (ExtensionRequest, error) {
	var resp ExtensionRequest
	err := c.do(ctx, http.MethodPost, "extensions/"+url.PathEscape(extensionID)+"/decide", map[string]any{"approve": approve}, &resp)
	return resp, err
}

// History returns the event log of a bounty.
func (c *Client) History(ctx context.Context, bountyID string) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "bounties/"+url.PathEscape(bountyID)+"/history", nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body == nil && method == http.MethodPost {
		body = map[string]any{}
	}
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil && env.Error.Code != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
