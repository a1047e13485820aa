package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "unavailable", StateUnavailable.String())
	assert.Equal(t, "follower", StateFollower.String())
	assert.Equal(t, "candidate", StateCandidate.String())
	assert.Equal(t, "leader", StateLeader.String())
	assert.Equal(t, "invalid", State(99).String())
}

func TestStateAllowedMovesTable(t *testing.T) {
	assert.True(t, stateAllowedMoves[StateUnavailable][StateFollower])
	assert.False(t, stateAllowedMoves[StateUnavailable][StateLeader])
	assert.True(t, stateAllowedMoves[StateCandidate][StateLeader])
	assert.True(t, stateAllowedMoves[StateLeader][StateFollower])
}
