package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"bountyline/internal/config"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.Log{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	l.WithField("bounty_id", "b1").Debug("transition applied")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "b1", line["bounty_id"])
	require.Equal(t, "transition applied", line["msg"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.Log{Level: "loud"}, nil)
	require.Error(t, err)
}
