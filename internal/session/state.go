package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sort"

	apperr "turntimer-backend/internal/errors"
)

// New constructs a fresh waiting-state session. Validation of settings
// (playerCount, initialTime, warningThresholds bounds) is the caller's
// responsibility via ValidateSettings.
func New(id, name string, settings Settings, nowMs int64) *Session {
	players := make([]*Player, settings.PlayerCount)
	for i := range players {
		players[i] = &Player{
			ID:            i + 1,
			TimeRemaining: settings.InitialTime,
		}
	}
	return &Session{
		ID:             id,
		Name:           name,
		Mode:           settings.Mode,
		Status:         StatusWaiting,
		CreatedAt:      nowMs,
		LastActivity:   nowMs,
		Players:        players,
		Settings:       settings,
		TargetingState: TargetingNone,
	}
}

// ValidateSettings enforces the bounds in spec §3/§6.
func ValidateSettings(s Settings) error {
	if s.PlayerCount < MinPlayerCount || s.PlayerCount > MaxPlayerCount {
		return apperr.ErrInvalidSettings
	}
	if s.InitialTime <= 0 || s.InitialTime > MaxInitialTime {
		return apperr.ErrInvalidSettings
	}
	if len(s.WarningThresholds) > 0 {
		if len(s.WarningThresholds) < MinWarningThresholds || len(s.WarningThresholds) > MaxWarningThresholds {
			return apperr.ErrInvalidSettings
		}
		for _, t := range s.WarningThresholds {
			if t <= 0 {
				return apperr.ErrInvalidSettings
			}
		}
	}
	return nil
}

func (s *Session) touch(nowMs int64) {
	if nowMs > s.LastActivity {
		s.LastActivity = nowMs
	}
}

// hasAnyClaim reports whether controllerID holds any player slot.
func (s *Session) hasAnyClaim(controllerID string) bool {
	for _, p := range s.Players {
		if p.ClaimedBy == controllerID {
			return true
		}
	}
	return false
}

// IsActivePlayerController reports whether controllerID owns the active slot.
func (s *Session) IsActivePlayerController(controllerID string) bool {
	ap := s.ActivePlayerPtr()
	return ap != nil && ap.ClaimedBy == controllerID
}

// Start transitions waiting -> running. Authorized callers: the owner, or
// (when AnyoneMayStart is configured) any claimed controller.
func (s *Session) Start(controllerID string, nowMs int64) error {
	if s.Status != StatusWaiting {
		return apperr.ErrWrongStateForOp
	}
	authorized := controllerID == s.OwnerID || (s.Settings.AnyoneMayStart && s.hasAnyClaim(controllerID))
	if !authorized {
		return apperr.NewNotAuthorized("start")
	}
	next := s.FindNextActive(0)
	s.Status = StatusRunning
	s.ActivePlayer = next
	s.touch(nowMs)
	return nil
}

// Pause transitions running -> paused.
func (s *Session) Pause(nowMs int64) error {
	if s.Status != StatusRunning {
		return apperr.ErrWrongStateForOp
	}
	s.Status = StatusPaused
	s.touch(nowMs)
	return nil
}

// Resume transitions paused -> running.
func (s *Session) Resume(nowMs int64) error {
	if s.Status != StatusPaused {
		return apperr.ErrWrongStateForOp
	}
	s.Status = StatusRunning
	s.touch(nowMs)
	return nil
}

// AutoPause is invoked when the last local subscriber disconnects from a
// running game (spec §4.4).
func (s *Session) AutoPause(nowMs int64) {
	if s.Status == StatusRunning {
		s.Status = StatusPaused
		s.touch(nowMs)
	}
}

// Reset restores initial time for all players, clears targeting, and
// returns the session to waiting. Owner only.
func (s *Session) Reset(controllerID string, nowMs int64) error {
	if controllerID != s.OwnerID {
		return apperr.NewNotAuthorized("reset")
	}
	for _, p := range s.Players {
		p.TimeRemaining = s.Settings.InitialTime
		p.TimeoutPending = false
	}
	s.clearTargeting()
	s.Status = StatusWaiting
	s.ActivePlayer = 0
	s.touch(nowMs)
	return nil
}

func (s *Session) clearTargeting() {
	s.TargetingState = TargetingNone
	s.TargetedPlayers = nil
	s.AwaitingPriority = nil
	s.OriginalActivePlayer = 0
}

// FindNextActive scans circularly from "from" (exclusive), skipping
// eliminated players, and returns the next active player id or 0 (none) if
// every other player is eliminated. When "from" matches no player (e.g. 0),
// the scan starts at the first player.
func (s *Session) FindNextActive(from int) int {
	n := len(s.Players)
	if n == 0 {
		return 0
	}
	startIdx := -1
	for i, p := range s.Players {
		if p.ID == from {
			startIdx = i
			break
		}
	}
	steps := n
	if startIdx >= 0 {
		steps = n - 1
	}
	for step := 1; step <= steps; step++ {
		idx := (startIdx + step) % n
		p := s.Players[idx]
		if !p.IsEliminated {
			return p.ID
		}
	}
	return 0
}

// SwitchPlayer moves the turn to "next". Authorized callers: the active
// player's controller, the owner, or (if AnyoneMaySwitch) anyone unclaimed.
// Rejected while targeting or priority resolution is in progress.
func (s *Session) SwitchPlayer(next int, controllerID string) error {
	if s.Status != StatusRunning {
		return apperr.ErrWrongStateForOp
	}
	if s.TargetingState != TargetingNone {
		return apperr.ErrCannotChangeTargets
	}
	authorized := s.IsActivePlayerController(controllerID) ||
		controllerID == s.OwnerID ||
		(s.Settings.AnyoneMaySwitch && !s.hasAnyClaim(controllerID))
	if !authorized {
		return apperr.NewNotAuthorized("switch")
	}
	target := s.Player(next)
	if target == nil {
		return apperr.ErrInvalidPlayerID
	}
	if target.IsEliminated {
		return apperr.ErrInvalidTarget
	}
	s.ActivePlayer = next
	return nil
}

// PassTurn resolves to SwitchPlayer(findNextActive).
func (s *Session) PassTurn(controllerID string, nowMs int64) error {
	next := s.FindNextActive(s.ActivePlayer)
	if next == 0 {
		return apperr.ErrWrongStateForOp
	}
	if err := s.SwitchPlayer(next, controllerID); err != nil {
		return err
	}
	s.touch(nowMs)
	return nil
}

// --- Claiming ---

func generateToken() (string, error) {
	buf := make([]byte, 32) // 64 hex chars
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Claim assigns playerID to controllerID, minting a fresh reconnect token.
// Succeeds if the slot is unclaimed or already claimed by controllerID.
func (s *Session) Claim(playerID int, controllerID string, nowMs int64) (string, error) {
	p := s.Player(playerID)
	if p == nil {
		return "", apperr.ErrInvalidPlayerID
	}
	if p.ClaimedBy != "" && p.ClaimedBy != controllerID {
		return "", apperr.ErrPlayerAlreadyClaimed
	}
	if p.ClaimedBy != controllerID && s.hasAnyClaim(controllerID) {
		return "", apperr.ErrPlayerAlreadyClaimed
	}
	token, err := generateToken()
	if err != nil {
		return "", apperr.Wrap(apperr.ErrInternal, "failed to generate token", err)
	}
	p.ClaimedBy = controllerID
	p.ReconnectToken = token
	p.TokenExpiry = nowMs + ReconnectTokenTTLMs
	if s.OwnerID == "" {
		s.OwnerID = controllerID
	}
	s.touch(nowMs)
	return token, nil
}

// Unclaim clears every slot held by controllerID and destroys their tokens.
func (s *Session) Unclaim(controllerID string, nowMs int64) {
	changed := false
	for _, p := range s.Players {
		if p.ClaimedBy == controllerID {
			p.ClaimedBy = ""
			p.ReconnectToken = ""
			p.TokenExpiry = 0
			changed = true
		}
	}
	if changed {
		s.touch(nowMs)
	}
}

// Reconnect validates the presented token against the slot's stored token
// in constant time, then rotates it to a fresh value under newControllerID.
func (s *Session) Reconnect(playerID int, token, newControllerID string, nowMs int64) (string, error) {
	p := s.Player(playerID)
	if p == nil {
		return "", apperr.ErrInvalidPlayerID
	}
	if p.ReconnectToken == "" || p.TokenExpiry < nowMs {
		return "", apperr.ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(p.ReconnectToken), []byte(token)) != 1 {
		return "", apperr.ErrInvalidToken
	}
	newToken, err := generateToken()
	if err != nil {
		return "", apperr.Wrap(apperr.ErrInternal, "failed to generate token", err)
	}
	p.ClaimedBy = newControllerID
	p.ReconnectToken = newToken
	p.TokenExpiry = nowMs + ReconnectTokenTTLMs
	s.touch(nowMs)
	return newToken, nil
}

// --- Elimination ---

// Eliminate marks playerID eliminated; if they held the turn, advances it.
// Pseudo-admin rule: any claimed controller may call this (spec §4.4).
func (s *Session) Eliminate(playerID int, controllerID string, nowMs int64) error {
	if !s.hasAnyClaim(controllerID) && controllerID != s.OwnerID {
		return apperr.NewMustClaimPlayer("eliminate")
	}
	p := s.Player(playerID)
	if p == nil {
		return apperr.ErrInvalidPlayerID
	}
	p.IsEliminated = true
	if s.ActivePlayer == playerID {
		s.ActivePlayer = s.FindNextActive(playerID)
	}
	s.touch(nowMs)
	return nil
}

// Revive is the inverse of Eliminate, same authorization rule.
func (s *Session) Revive(playerID int, controllerID string, nowMs int64) error {
	if !s.hasAnyClaim(controllerID) && controllerID != s.OwnerID {
		return apperr.NewMustClaimPlayer("revive")
	}
	p := s.Player(playerID)
	if p == nil {
		return apperr.ErrInvalidPlayerID
	}
	p.IsEliminated = false
	s.touch(nowMs)
	return nil
}

// --- Timeout resolution ---

// MarkTimeout sets timeoutPending on the active player when their timer
// reaches zero. Returns the player id, or 0 if there was no active player.
func (s *Session) MarkTimeout(nowMs int64) int {
	ap := s.ActivePlayerPtr()
	if ap == nil || ap.TimeoutPending {
		return 0
	}
	ap.TimeoutPending = true
	s.touch(nowMs)
	return ap.ID
}

// ResolveTimeout applies the controller-chosen resolution, clears
// timeoutPending, and advances the turn.
func (s *Session) ResolveTimeout(playerID int, resolution TimeoutResolution, controllerID string, nowMs int64) error {
	p := s.Player(playerID)
	if p == nil {
		return apperr.ErrInvalidPlayerID
	}
	if !p.TimeoutPending {
		return apperr.ErrWrongStateForOp
	}
	if p.ClaimedBy != controllerID && controllerID != s.OwnerID {
		return apperr.NewNotAuthorized("resolve this timeout")
	}
	switch resolution {
	case ResolutionLoseLives:
		p.Life--
		if p.Life < MinLife {
			p.Life = MinLife
		}
	case ResolutionGainDrunk:
		p.DrunkCounter++
		if p.DrunkCounter > MaxDrunkCounter {
			p.DrunkCounter = MaxDrunkCounter
		}
	case ResolutionDie:
		p.IsEliminated = true
	default:
		return apperr.ErrInvalidSettings
	}
	p.TimeoutPending = false
	p.TimeRemaining = s.Settings.InitialTime
	if s.ActivePlayer == playerID {
		s.ActivePlayer = s.FindNextActive(playerID)
	}
	s.touch(nowMs)
	return nil
}

// --- Targeting / priority ---

// ToggleTarget adds or removes playerID from TargetedPlayers. The active
// player enters "selecting" on the first toggle. Only the active player may
// call this, and only while targeting is none or already selecting.
func (s *Session) ToggleTarget(playerID int, controllerID string) error {
	if !s.IsActivePlayerController(controllerID) {
		return apperr.NewNotAuthorized("target")
	}
	if s.TargetingState != TargetingNone && s.TargetingState != TargetingSelecting {
		return apperr.ErrCannotChangeTargets
	}
	if s.Player(playerID) == nil {
		return apperr.ErrInvalidPlayerID
	}
	s.TargetingState = TargetingSelecting
	for i, id := range s.TargetedPlayers {
		if id == playerID {
			s.TargetedPlayers = append(s.TargetedPlayers[:i], s.TargetedPlayers[i+1:]...)
			if len(s.TargetedPlayers) == 0 {
				s.TargetingState = TargetingNone
			}
			return nil
		}
	}
	s.TargetedPlayers = append(s.TargetedPlayers, playerID)
	return nil
}

// ConfirmTargets transitions selecting -> resolving, seeding
// awaitingPriority with the targeted ids in selection order.
func (s *Session) ConfirmTargets(controllerID string, nowMs int64) error {
	if !s.IsActivePlayerController(controllerID) {
		return apperr.NewNotAuthorized("confirm targets")
	}
	if len(s.TargetedPlayers) == 0 {
		return apperr.ErrNoTargetsSelected
	}
	if s.TargetingState != TargetingSelecting {
		return apperr.ErrCannotChangeTargets
	}
	s.OriginalActivePlayer = s.ActivePlayer
	s.AwaitingPriority = append([]int(nil), s.TargetedPlayers...)
	s.TargetingState = TargetingResolving
	s.ActivePlayer = s.AwaitingPriority[0]
	s.touch(nowMs)
	return nil
}

// PassTargetPriority dequeues the head of awaitingPriority. Only that head
// player's controller may call it. Transitions back to none when empty.
func (s *Session) PassTargetPriority(playerID int, controllerID string, nowMs int64) error {
	if s.TargetingState != TargetingResolving {
		return apperr.ErrCannotChangeTargets
	}
	if len(s.AwaitingPriority) == 0 || s.AwaitingPriority[0] != playerID {
		return apperr.ErrInvalidTarget
	}
	p := s.Player(playerID)
	if p == nil || (p.ClaimedBy != controllerID && controllerID != s.OwnerID) {
		return apperr.NewNotAuthorized("pass priority")
	}
	s.AwaitingPriority = s.AwaitingPriority[1:]
	if len(s.AwaitingPriority) == 0 {
		s.TargetingState = TargetingNone
		s.ActivePlayer = s.OriginalActivePlayer
		s.OriginalActivePlayer = 0
		s.TargetedPlayers = nil
	} else {
		s.ActivePlayer = s.AwaitingPriority[0]
	}
	s.touch(nowMs)
	return nil
}

// CancelTargeting returns to none. Callable by the active player during
// selecting, or by the original active player during resolving.
func (s *Session) CancelTargeting(controllerID string, nowMs int64) error {
	switch s.TargetingState {
	case TargetingSelecting:
		if !s.IsActivePlayerController(controllerID) {
			return apperr.NewNotAuthorized("cancel targeting")
		}
	case TargetingResolving:
		orig := s.Player(s.OriginalActivePlayer)
		if orig == nil || (orig.ClaimedBy != controllerID && controllerID != s.OwnerID) {
			return apperr.NewNotAuthorized("cancel targeting")
		}
		s.ActivePlayer = s.OriginalActivePlayer
	default:
		return apperr.ErrCannotChangeTargets
	}
	s.clearTargeting()
	s.touch(nowMs)
	return nil
}

// --- Interrupts ---

// Interrupt enqueues playerID on the interrupt priority queue for
// out-of-turn action, following the same pattern as targeting priority.
func (s *Session) Interrupt(playerID int, nowMs int64) error {
	p := s.Player(playerID)
	if p == nil {
		return apperr.ErrInvalidPlayerID
	}
	for _, id := range s.InterruptingPlayers {
		if id == playerID {
			return nil
		}
	}
	s.InterruptingPlayers = append(s.InterruptingPlayers, playerID)
	sort.Ints(s.InterruptingPlayers)
	s.touch(nowMs)
	return nil
}

// PassInterruptPriority dequeues the head of InterruptingPlayers.
func (s *Session) PassInterruptPriority(nowMs int64) (int, bool) {
	if len(s.InterruptingPlayers) == 0 {
		return 0, false
	}
	head := s.InterruptingPlayers[0]
	s.InterruptingPlayers = s.InterruptingPlayers[1:]
	s.touch(nowMs)
	return head, true
}

// --- Tick ---

// ApplyTick subtracts deltaMs from the active player's remaining time.
// Returns the affected player id and whether it just crossed into timeout.
// It is the caller's responsibility to invoke this only while running.
func (s *Session) ApplyTick(deltaMs int64, nowMs int64) (playerID int, crossedWarning []int64, justTimedOut bool) {
	ap := s.ActivePlayerPtr()
	if ap == nil {
		return 0, nil, false
	}
	before := ap.TimeRemaining
	ap.TimeRemaining -= deltaMs
	if ap.TimeRemaining < 0 {
		ap.TimeRemaining = 0
	}
	for _, th := range s.Settings.WarningThresholds {
		if before > th && ap.TimeRemaining <= th {
			crossedWarning = append(crossedWarning, th)
		}
	}
	if ap.TimeRemaining == 0 && before > 0 {
		justTimedOut = true
	}
	s.touch(nowMs)
	return ap.ID, crossedWarning, justTimedOut
}

// AddTime applies an admin time adjustment (1-60 minutes, spec §6) to a
// player's remaining time. Pseudo-admin authorization: any claim suffices.
func (s *Session) AddTime(playerID int, minutes int, controllerID string, nowMs int64) error {
	if !s.hasAnyClaim(controllerID) && controllerID != s.OwnerID {
		return apperr.NewMustClaimPlayer("add time")
	}
	if minutes < MinTimeAdjustmentMinutes || minutes > MaxTimeAdjustmentMinutes {
		return apperr.ErrInvalidSettings
	}
	p := s.Player(playerID)
	if p == nil {
		return apperr.ErrInvalidPlayerID
	}
	p.TimeRemaining += int64(minutes) * 60 * 1000
	s.touch(nowMs)
	return nil
}

// Kick clears a player's claim (pseudo-admin operation).
func (s *Session) Kick(playerID int, controllerID string, nowMs int64) error {
	if !s.hasAnyClaim(controllerID) && controllerID != s.OwnerID {
		return apperr.NewMustClaimPlayer("kick")
	}
	p := s.Player(playerID)
	if p == nil {
		return apperr.ErrInvalidPlayerID
	}
	p.ClaimedBy = ""
	p.ReconnectToken = ""
	p.TokenExpiry = 0
	s.touch(nowMs)
	return nil
}

// UpdatePlayer applies caller-supplied deltas to life/drunk/generic
// counters and name, clamped to their bounds. Authorization: the slot's
// owner, the session owner, or anyone when the slot is unclaimed during
// waiting (spec §4.4).
func (s *Session) UpdatePlayer(playerID int, mutate func(*Player), controllerID string, nowMs int64) error {
	p := s.Player(playerID)
	if p == nil {
		return apperr.ErrInvalidPlayerID
	}
	authorized := p.ClaimedBy == controllerID ||
		controllerID == s.OwnerID ||
		(p.ClaimedBy == "" && s.Status == StatusWaiting)
	if !authorized {
		return apperr.NewNotAuthorized("update that player")
	}
	mutate(p)
	if p.Life < MinLife {
		p.Life = MinLife
	}
	if p.Life > MaxLife {
		p.Life = MaxLife
	}
	if p.DrunkCounter < 0 {
		p.DrunkCounter = 0
	}
	if p.DrunkCounter > MaxDrunkCounter {
		p.DrunkCounter = MaxDrunkCounter
	}
	if p.GenericCounter < 0 {
		p.GenericCounter = 0
	}
	if p.GenericCounter > MaxGenericCounter {
		p.GenericCounter = MaxGenericCounter
	}
	s.touch(nowMs)
	return nil
}

// EndGame marks the session finished. Owner only.
func (s *Session) EndGame(controllerID string, nowMs int64) error {
	if controllerID != s.OwnerID {
		return apperr.NewNotAuthorized("end the game")
	}
	s.Status = StatusFinished
	s.touch(nowMs)
	return nil
}

// Rename changes the session's display name. Owner only.
func (s *Session) Rename(name string, controllerID string, nowMs int64) error {
	if controllerID != s.OwnerID {
		return apperr.NewNotAuthorized("rename the game")
	}
	s.Name = SanitizeName(name)
	s.touch(nowMs)
	return nil
}

// UpdateSettings replaces the session's settings with newSettings after
// validating them. Owner only. A PlayerCount different from the current one
// is always rejected (invariant 1, spec §3).
func (s *Session) UpdateSettings(newSettings Settings, controllerID string, nowMs int64) error {
	if controllerID != s.OwnerID {
		return apperr.NewNotAuthorized("update settings")
	}
	if newSettings.PlayerCount != s.Settings.PlayerCount {
		return apperr.ErrInvalidSettings
	}
	if err := ValidateSettings(newSettings); err != nil {
		return err
	}
	s.Settings = newSettings
	s.touch(nowMs)
	return nil
}
