package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringListRoundTripsThroughColumn(t *testing.T) {
	v, err := StringList{"https://x/a", "https://x/b"}.Value()
	require.NoError(t, err)
	require.Equal(t, `["https://x/a","https://x/b"]`, v)

	var l StringList
	require.NoError(t, l.Scan([]byte(`["https://x/a"]`)))
	require.Equal(t, StringList{"https://x/a"}, l)

	require.NoError(t, l.Scan(nil))
	require.Nil(t, l)

	empty, err := StringList(nil).Value()
	require.NoError(t, err)
	require.Equal(t, "[]", empty)

	require.Error(t, l.Scan(42))
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindInvalidState, KindOf(fmt.Errorf("%w: bounty b1 is open", ErrInvalidState)))
	require.Equal(t, KindConflict, KindOf(fmt.Errorf("wrapped: %w", ErrConflict)))
	require.Equal(t, KindStorage, KindOf(errors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
	require.True(t, Classified(fmt.Errorf("%w", ErrNotFound)))
	require.False(t, Classified(errors.New("raw")))
}

func TestBountyStatusAssigneeRule(t *testing.T) {
	for _, s := range []BountyStatus{BountyAssigned, BountyInReview, BountyCompleted} {
		require.True(t, s.HasAssignee(), s)
	}
	for _, s := range []BountyStatus{BountyOpen, BountyCancelled} {
		require.False(t, s.HasAssignee(), s)
	}
}
