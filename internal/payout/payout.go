// Package payout holds the downstream effect fired after a bounty completes.
// Triggers run only after the completing transition has committed; a failed
// trigger never undoes the transition and is left to the Reconciler.
package payout

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Trigger receives "payment due" notifications.
type Trigger interface {
	OnBountyCompleted(ctx context.Context, bountyID, payeeID string, amount int64) error
}

// Func adapts a plain function to Trigger.
type Func func(ctx context.Context, bountyID, payeeID string, amount int64) error

func (f Func) OnBountyCompleted(ctx context.Context, bountyID, payeeID string, amount int64) error {
	return f(ctx, bountyID, payeeID, amount)
}

// Log only records the completion. It is the trigger used when nothing else
// is configured.
type Log struct {
	Logger logrus.FieldLogger
}

func (l Log) OnBountyCompleted(_ context.Context, bountyID, payeeID string, amount int64) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.WithFields(logrus.Fields{
		"bounty_id": bountyID,
		"payee_id":  payeeID,
		"amount":    amount,
	}).Info("payout due")
	return nil
}

// Multi invokes every trigger in order and joins their errors.
type Multi []Trigger

func (m Multi) OnBountyCompleted(ctx context.Context, bountyID, payeeID string, amount int64) error {
	var errs []error
	for _, t := range m {
		if err := t.OnBountyCompleted(ctx, bountyID, payeeID, amount); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
