package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultWebhookTimeout    = 5 * time.Second
	defaultWebhookMaxElapsed = 30 * time.Second
)

// Webhook POSTs a JSON body to URL for every completed bounty. Network errors
// and 5xx responses are retried with exponential backoff; other non-2xx
// responses fail immediately.
type Webhook struct {
	URL        string
	Client     *http.Client
	MaxElapsed time.Duration
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{
		URL:        url,
		Client:     &http.Client{Timeout: timeout},
		MaxElapsed: defaultWebhookMaxElapsed,
	}
}

type webhookBody struct {
	Type     string `json:"type"`
	BountyID string `json:"bounty_id"`
	PayeeID  string `json:"payee_id"`
	Amount   int64  `json:"amount"`
}

// statusError is a non-2xx webhook response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (w *Webhook) OnBountyCompleted(ctx context.Context, bountyID, payeeID string, amount int64) error {
	data, err := json.Marshal(webhookBody{Type: "bounty.completed", BountyID: bountyID, PayeeID: payeeID, Amount: amount})
	if err != nil {
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = w.MaxElapsed
	op := func() error {
		err := w.post(ctx, bountyID, data)
		var se *statusError
		if err != nil && errors.As(err, &se) && se.code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("payout webhook %s: %w", w.URL, err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, bountyID string, data []byte) error {
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bountyline-Event", "bounty.completed")
	// Receivers dedupe on this; reconciliation may deliver more than once.
	req.Header.Set("Idempotency-Key", bountyID)
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &statusError{code: res.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return nil
}
