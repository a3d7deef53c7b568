package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "turntimer-backend/internal/errors"
)

func validSettings() Settings {
	return Settings{PlayerCount: 2, InitialTime: 600000, Mode: ModeCasual}
}

func TestValidateSettings(t *testing.T) {
	cases := []struct {
		name string
		s    Settings
		ok   bool
	}{
		{"valid", Settings{PlayerCount: 4, InitialTime: 60000}, true},
		{"too few players", Settings{PlayerCount: 1, InitialTime: 60000}, false},
		{"too many players", Settings{PlayerCount: 9, InitialTime: 60000}, false},
		{"zero time", Settings{PlayerCount: 2, InitialTime: 0}, false},
		{"time over cap", Settings{PlayerCount: 2, InitialTime: MaxInitialTime + 1}, false},
		{"too many thresholds", Settings{PlayerCount: 2, InitialTime: 1000, WarningThresholds: make([]int64, MaxWarningThresholds+1)}, false},
		{"negative threshold", Settings{PlayerCount: 2, InitialTime: 1000, WarningThresholds: []int64{-1}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSettings(tc.s)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidSettings)
			}
		})
	}
}

func TestClaimAndUnclaim(t *testing.T) {
	s := New("ABC123", "game", validSettings(), 1000)

	token, err := s.Claim(1, "alice", 1000)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, "alice", s.OwnerID, "first claimant becomes owner")

	// re-claiming the same slot by the same controller succeeds idempotently.
	token2, err := s.Claim(1, "alice", 1001)
	require.NoError(t, err)
	assert.NotEqual(t, token, token2, "reclaiming mints a fresh token")

	_, err = s.Claim(1, "bob", 1002)
	assert.ErrorIs(t, err, apperr.ErrPlayerAlreadyClaimed)

	s.Unclaim("alice", 1003)
	assert.Empty(t, s.Player(1).ClaimedBy)
	assert.Empty(t, s.Player(1).ReconnectToken)
}

func TestClaimRejectsASecondSlotForAnAlreadyClaimedController(t *testing.T) {
	s := New("ABC123", "game", Settings{PlayerCount: 3, InitialTime: 600000, Mode: ModeCasual}, 1000)

	_, err := s.Claim(1, "alice", 1000)
	require.NoError(t, err)

	_, err = s.Claim(2, "alice", 1001)
	assert.ErrorIs(t, err, apperr.ErrPlayerAlreadyClaimed, "one controller may hold at most one slot (invariant 3)")
	assert.Empty(t, s.Player(2).ClaimedBy)

	// the original slot is untouched by the rejected second claim.
	assert.Equal(t, "alice", s.Player(1).ClaimedBy)
}

func TestReconnectRotatesTokenAndRejectsStaleOrExpired(t *testing.T) {
	s := New("ABC123", "game", validSettings(), 1000)
	token, err := s.Claim(1, "alice", 1000)
	require.NoError(t, err)

	newToken, err := s.Reconnect(1, token, "alice-new-conn", 1500)
	require.NoError(t, err)
	assert.NotEqual(t, token, newToken)
	assert.Equal(t, "alice-new-conn", s.Player(1).ClaimedBy)

	_, err = s.Reconnect(1, token, "someone-else", 1600)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken, "the rotated-out token must no longer work")

	// the rotated token's expiry counts from the reconnect at 1500.
	_, err = s.Reconnect(1, newToken, "alice-new-conn", 1500+ReconnectTokenTTLMs+1)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken, "an expired token must be rejected")
}

func TestStartRequiresOwnerUnlessAnyoneMayStart(t *testing.T) {
	s := New("ABC123", "game", validSettings(), 0)
	_, _ = s.Claim(1, "alice", 0)
	_, _ = s.Claim(2, "bob", 0)

	err := s.Start("bob", 0)
	assert.True(t, apperr.KindOf(err) == apperr.KindNotAuthorized)

	require.NoError(t, s.Start("alice", 0))
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, 1, s.ActivePlayer)

	err = s.Start("alice", 0)
	assert.ErrorIs(t, err, apperr.ErrWrongStateForOp, "cannot start twice")
}

func TestStartAnyoneMayStart(t *testing.T) {
	settings := validSettings()
	settings.AnyoneMayStart = true
	s := New("ABC123", "game", settings, 0)
	_, _ = s.Claim(1, "alice", 0)
	_, _ = s.Claim(2, "bob", 0)

	assert.NoError(t, s.Start("bob", 0))
}

func TestFindNextActiveSkipsEliminatedAndHandlesAllEliminated(t *testing.T) {
	s := New("ABC123", "game", Settings{PlayerCount: 3, InitialTime: 1000}, 0)
	s.Player(2).IsEliminated = true

	assert.Equal(t, 3, s.FindNextActive(1))
	assert.Equal(t, 1, s.FindNextActive(3))

	s.Player(1).IsEliminated = true
	s.Player(3).IsEliminated = true
	assert.Equal(t, 0, s.FindNextActive(1), "no active players left")
}

func TestEliminateAdvancesTurn(t *testing.T) {
	s := New("ABC123", "game", Settings{PlayerCount: 3, InitialTime: 1000}, 0)
	_, _ = s.Claim(1, "alice", 0)
	require.NoError(t, s.Start("alice", 0))
	require.Equal(t, 1, s.ActivePlayer)

	require.NoError(t, s.Eliminate(1, "alice", 0))
	assert.True(t, s.Player(1).IsEliminated)
	assert.Equal(t, 2, s.ActivePlayer, "elimination of the active player advances the turn")
}

func TestEliminateRequiresAClaim(t *testing.T) {
	s := New("ABC123", "game", validSettings(), 0)
	err := s.Eliminate(1, "nobody", 0)
	assert.True(t, apperr.KindOf(err) == apperr.KindNotAuthorized)
}

func TestTimeoutResolutionClampsAndAdvances(t *testing.T) {
	s := New("ABC123", "game", Settings{PlayerCount: 2, InitialTime: 1000}, 0)
	_, _ = s.Claim(1, "alice", 0)
	require.NoError(t, s.Start("alice", 0))

	s.Player(1).Life = MinLife
	pid := s.MarkTimeout(0)
	require.Equal(t, 1, pid)
	assert.True(t, s.Player(1).TimeoutPending)

	require.NoError(t, s.ResolveTimeout(1, ResolutionLoseLives, "alice", 0))
	assert.Equal(t, MinLife, s.Player(1).Life, "life cannot go below MinLife")
	assert.False(t, s.Player(1).TimeoutPending)
	assert.Equal(t, s.Settings.InitialTime, s.Player(1).TimeRemaining, "resolving refills the clock")
	assert.Equal(t, 2, s.ActivePlayer)
}

func TestResolveTimeoutRejectsWhenNotPending(t *testing.T) {
	s := New("ABC123", "game", validSettings(), 0)
	_, _ = s.Claim(1, "alice", 0)
	err := s.ResolveTimeout(1, ResolutionDie, "alice", 0)
	assert.ErrorIs(t, err, apperr.ErrWrongStateForOp)
}

func TestTargetingSequence(t *testing.T) {
	s := New("ABC123", "game", Settings{PlayerCount: 3, InitialTime: 1000}, 0)
	_, _ = s.Claim(1, "alice", 0)
	_, _ = s.Claim(2, "bob", 0)
	_, _ = s.Claim(3, "carol", 0)
	require.NoError(t, s.Start("alice", 0))

	require.NoError(t, s.ToggleTarget(2, "alice"))
	require.NoError(t, s.ToggleTarget(3, "alice"))
	assert.Equal(t, TargetingSelecting, s.TargetingState)
	assert.Equal(t, []int{2, 3}, s.TargetedPlayers)

	// toggling the same id again removes it
	require.NoError(t, s.ToggleTarget(3, "alice"))
	assert.Equal(t, []int{2}, s.TargetedPlayers)
	require.NoError(t, s.ToggleTarget(3, "alice"))

	require.NoError(t, s.ConfirmTargets("alice", 0))
	assert.Equal(t, TargetingResolving, s.TargetingState)
	assert.Equal(t, 1, s.OriginalActivePlayer)
	assert.Equal(t, 2, s.ActivePlayer, "priority moves to the first targeted player")

	require.NoError(t, s.PassTargetPriority(2, "bob", 0))
	assert.Equal(t, 3, s.ActivePlayer)

	require.NoError(t, s.PassTargetPriority(3, "carol", 0))
	assert.Equal(t, TargetingNone, s.TargetingState)
	assert.Equal(t, 1, s.ActivePlayer, "turn returns to the original active player")
}

func TestConfirmTargetsRejectsEmptySelection(t *testing.T) {
	s := New("ABC123", "game", Settings{PlayerCount: 2, InitialTime: 1000}, 0)
	_, _ = s.Claim(1, "alice", 0)
	require.NoError(t, s.Start("alice", 0))
	err := s.ConfirmTargets("alice", 0)
	assert.ErrorIs(t, err, apperr.ErrNoTargetsSelected)
}

func TestApplyTickCrossesWarningAndTimesOut(t *testing.T) {
	s := New("ABC123", "game", Settings{PlayerCount: 2, InitialTime: 1000, WarningThresholds: []int64{500}}, 0)
	_, _ = s.Claim(1, "alice", 0)
	require.NoError(t, s.Start("alice", 0))

	_, crossed, timedOut := s.ApplyTick(600, 0)
	assert.Equal(t, []int64{500}, crossed)
	assert.False(t, timedOut)
	assert.Equal(t, int64(400), s.Player(1).TimeRemaining)

	_, _, timedOut = s.ApplyTick(1000, 0)
	assert.True(t, timedOut)
	assert.Equal(t, int64(0), s.Player(1).TimeRemaining, "time never goes negative")
}

func TestUpdateSettingsRejectsPlayerCountChange(t *testing.T) {
	s := New("ABC123", "game", validSettings(), 0)
	_, _ = s.Claim(1, "alice", 0)

	newSettings := validSettings()
	newSettings.PlayerCount = 3
	err := s.UpdateSettings(newSettings, "alice", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidSettings)
}

func TestCloneIsIndependent(t *testing.T) {
	s := New("ABC123", "game", validSettings(), 0)
	_, _ = s.Claim(1, "alice", 0)

	clone := s.Clone()
	clone.Player(1).Life = -500
	clone.Name = "renamed"

	assert.NotEqual(t, s.Player(1).Life, clone.Player(1).Life)
	assert.NotEqual(t, s.Name, clone.Name)
}

func TestReconnectTokenSurvivesJSONRoundTripButNotRedaction(t *testing.T) {
	s := New("ABC123", "game", validSettings(), 0)
	token, err := s.Claim(1, "alice", 0)
	require.NoError(t, err)

	// the Store persists the full struct, tokens included (spec §3).
	data, err := json.Marshal(s)
	require.NoError(t, err)
	var reloaded Session
	require.NoError(t, json.Unmarshal(data, &reloaded))
	assert.Equal(t, token, reloaded.Player(1).ReconnectToken)

	// but anything bound for a subscriber must go through Redacted first.
	redacted := s.Redacted()
	assert.Empty(t, redacted.Player(1).ReconnectToken)
	assert.Zero(t, redacted.Player(1).TokenExpiry)
	assert.Equal(t, token, s.Player(1).ReconnectToken, "Redacted must not mutate the original")
}
