package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
)

func run(t *testing.T, workspace string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append([]string{"--workspace", workspace}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParseDeadline(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := parseDeadline("72h", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(72*time.Hour), got)

	got, err = parseDeadline("2024-02-01T12:00:00Z", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), got)

	_, err = parseDeadline("next week", now)
	require.Error(t, err)
}

func TestCLIRunsBountyLifecycle(t *testing.T) {
	ws := t.TempDir()
	_, err := run(t, ws, "init-config")
	require.NoError(t, err)
	_, err = run(t, ws, "init-config")
	require.Error(t, err)
	out, err := run(t, ws, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "applied 0001_lifecycle.sql")

	out, err = run(t, ws, "--json", "--as", "C1", "bounty", "create", "--title", "Fix flaky test", "--amount", "500", "--deadline", "72h")
	require.NoError(t, err)
	var b domain.Bounty
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	require.Equal(t, domain.BountyOpen, b.Status)

	out, err = run(t, ws, "--json", "--as", "D1", "apply", b.ID, "--pitch", "I wrote the original suite", "--hours", "4")
	require.NoError(t, err)
	var a domain.Application
	require.NoError(t, json.Unmarshal([]byte(out), &a))

	_, err = run(t, ws, "--as", "C1", "application", "accept", a.ID)
	require.NoError(t, err)

	out, err = run(t, ws, "--json", "--as", "D1", "submit", b.ID, "--pr", "https://github.com/acme/repo/pull/9")
	require.NoError(t, err)
	var s domain.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &s))

	_, err = run(t, ws, "--as", "C1", "submission", "approve", s.ID)
	require.NoError(t, err)

	out, err = run(t, ws, "bounty", "list", "--status", "completed")
	require.NoError(t, err)
	require.True(t, strings.Contains(out, b.ID), out)

	out, err = run(t, ws, "--as", "C1", "history", b.ID)
	require.NoError(t, err)
	require.Contains(t, out, "submission.approved")

	out, err = run(t, ws, "payout", "reconcile")
	require.NoError(t, err)
	require.Contains(t, out, "retried 0")
}

func TestCLIErrorsCarryKinds(t *testing.T) {
	ws := t.TempDir()
	_, err := run(t, ws, "bounty", "cancel", "B1")
	require.ErrorContains(t, err, "--as is required")

	_, err = run(t, ws, "--as", "C1", "bounty", "cancel", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, 3, exitCode(err))

	_, err = run(t, ws, "--as", "C1", "bounty", "create", "--title", "x", "--deadline", "1h")
	var fe *engine.FieldError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "amount", fe.Field)
	require.Equal(t, 2, exitCode(err))
}
