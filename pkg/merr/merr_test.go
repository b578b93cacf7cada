package merr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(KindNotFound, "node-1 not registered")
	require.True(t, Is(err, KindNotFound))
	require.False(t, Is(err, KindTimeout))
}

func TestIsWalksWrappedChain(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindUnavailable, cause, "peer unreachable")

	wrapped := fmt.Errorf("submit: %w", err)
	require.True(t, Is(wrapped, KindUnavailable))
	require.True(t, errors.Is(wrapped, cause))
}

func TestErrorsIsAgainstSentinels(t *testing.T) {
	err := New(KindDuplicate, "txn already begun")
	require.True(t, errors.Is(err, Duplicate))
	require.False(t, errors.Is(err, NotFound))
}

func TestWithRemediationPreservesKindAndMessage(t *testing.T) {
	err := New(KindNotLeader, "redirect to leader").WithRemediation("retry against the current leader")
	require.Equal(t, KindNotLeader, err.Kind)
	require.Equal(t, "retry against the current leader", err.Remediation)
	require.True(t, Is(err, KindNotLeader))
}

func TestWithLeaderHint(t *testing.T) {
	err := New(KindNotLeader, "redirect").WithLeaderHint("node-2")
	require.Equal(t, "node-2", err.LeaderHint)
}

func TestErrorStringFormat(t *testing.T) {
	require.Equal(t, "not_found: shard-3 missing", New(KindNotFound, "shard-3 missing").Error())
	require.Equal(t, "timeout", New(KindTimeout, "").Error())
}
