package coordinator

import (
	"context"
	"encoding/json"
	"math/rand"

	apperr "turntimer-backend/internal/errors"
	"turntimer-backend/internal/protocol"
	"turntimer-backend/internal/session"
)

func decode[T any](data []byte) (T, error) {
	var req T
	if len(data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		var zero T
		return zero, apperr.ErrInvalidJSON
	}
	return req, nil
}

// HandleCreate creates a new session under a freshly reserved id. The
// caller becomes its owner.
func (c *Coordinator) HandleCreate(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[CreateRequest](data)
	if err != nil {
		return err
	}
	settings := session.Settings{
		PlayerCount:       req.PlayerCount,
		InitialTime:       req.InitialTime,
		WarningThresholds: req.WarningThresholds,
		Mode:              req.Mode,
		AnyoneMayStart:    req.AnyoneMayStart,
		AnyoneMaySwitch:   req.AnyoneMaySwitch,
	}
	if err := session.ValidateSettings(settings); err != nil {
		return err
	}

	sess, err := c.Lifecycle.CreateWithUniqueID(ctx, func(id string) *session.Session {
		s := session.New(id, session.SanitizeName(req.Name), settings, c.now())
		s.OwnerID = conn.ControllerID
		return s
	})
	if err != nil {
		return err
	}
	conn.AttachSession(sess.ID)
	c.ensureCrossInstanceSubscribed(ctx, sess.ID)
	c.BroadcastState(ctx, sess)
	return nil
}

// HandleJoin attaches the caller to an existing game and sends back the
// current state as a direct reply.
func (c *Coordinator) HandleJoin(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[JoinRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.ensureLoaded(ctx, req.GameID)
	if err != nil {
		return err
	}
	conn.AttachSession(sess.ID)
	_ = c.Bus.SendToSubscriber(sess.ID, conn.ControllerID, "state", sess.Redacted())
	return nil
}

func (c *Coordinator) HandleStart(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.Start(conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.Tick.Spawn(sess.ID)
	c.BroadcastState(ctx, sess)
	return nil
}

// HandlePause toggles running <-> paused; the wire protocol has a single
// "pause" type for both directions (spec §6 lists no separate "resume").
func (c *Coordinator) HandlePause(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	var wasRunning bool
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		wasRunning = s.Status == session.StatusRunning
		if wasRunning {
			return s.Pause(c.now())
		}
		return s.Resume(c.now())
	})
	if err != nil {
		return err
	}
	if wasRunning {
		c.Tick.Stop(sess.ID)
	} else {
		c.Tick.Spawn(sess.ID)
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleReset(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.Reset(conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.Tick.Stop(sess.ID)
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleSwitch(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[SwitchRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.SwitchPlayer(req.PlayerID, conn.ControllerID)
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandlePassPriority(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[PassPriorityRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.PassTurn(conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

// claimedPayload never rides the broadcast path; it's a direct reply
// containing the token only the claimer receives (spec §4.9, §8).
type claimedPayload struct {
	PlayerID int    `json:"playerId"`
	Token    string `json:"token"`
}

func (c *Coordinator) HandleClaim(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[ClaimRequest](data)
	if err != nil {
		return err
	}
	var token string
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		t, err := s.Claim(req.PlayerID, conn.ControllerID, c.now())
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return err
	}
	_ = c.Bus.SendToSubscriber(sess.ID, conn.ControllerID, "claimed", claimedPayload{PlayerID: req.PlayerID, Token: token})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleUnclaim(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		s.Unclaim(conn.ControllerID, c.now())
		return nil
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

type reconnectedPayload struct {
	Token string `json:"token"`
}

func (c *Coordinator) HandleReconnect(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[ReconnectRequest](data)
	if err != nil {
		return err
	}
	var newToken string
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		t, err := s.Reconnect(req.PlayerID, req.Token, conn.ControllerID, c.now())
		if err != nil {
			return err
		}
		newToken = t
		return nil
	})
	if err != nil {
		return err
	}
	conn.AttachSession(sess.ID)
	_ = c.Bus.SendToSubscriber(sess.ID, conn.ControllerID, "reconnected", reconnectedPayload{Token: newToken})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleUpdatePlayer(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[UpdatePlayerRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.UpdatePlayer(req.PlayerID, func(p *session.Player) {
			if req.Name != nil {
				p.Name = session.SanitizeName(*req.Name)
			}
			if req.Color != nil {
				p.Color = *req.Color
			}
			if req.Life != nil {
				p.Life = *req.Life
			}
			if req.DrunkCounter != nil {
				p.DrunkCounter = *req.DrunkCounter
			}
			if req.GenericCounter != nil {
				p.GenericCounter = *req.GenericCounter
			}
		}, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleAddPenalty(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[AddPenaltyRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.UpdatePlayer(req.PlayerID, func(p *session.Player) {
			p.Life -= req.Lives
		}, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleEliminate(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[EliminateRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.Eliminate(req.PlayerID, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleUpdateSettings(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[UpdateSettingsRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.UpdateSettings(req.Settings, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleEndGame(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.EndGame(conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.Tick.Stop(sess.ID)
	_ = c.Bus.Broadcast(ctx, sess.ID, "gameEnded", struct{}{})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleRenameGame(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[RenameGameRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.Rename(req.Name, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "gameRenamed", struct {
		Name string `json:"name"`
	}{Name: sess.Name})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleInterrupt(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[InterruptRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.Interrupt(req.PlayerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleRandomStartPlayer(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	var chosen int
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		if conn.ControllerID != s.OwnerID {
			return apperr.NewNotAuthorized("pick a random start player")
		}
		eligible := make([]int, 0, len(s.Players))
		for _, p := range s.Players {
			if !p.IsEliminated {
				eligible = append(eligible, p.ID)
			}
		}
		if len(eligible) == 0 {
			return apperr.ErrWrongStateForOp
		}
		chosen = eligible[rand.Intn(len(eligible))]
		s.ActivePlayer = chosen
		return nil
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "randomPlayerSelected", struct {
		PlayerID int `json:"playerId"`
	}{PlayerID: chosen})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleRollDice(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[RollDiceRequest](data)
	if err != nil {
		return err
	}
	if req.Sides < session.MinDiceSides || req.Sides > session.MaxDiceSides {
		return apperr.ErrInvalidSettings
	}
	sess, err := c.ensureLoaded(ctx, req.GameID)
	if err != nil {
		return err
	}
	result := rand.Intn(req.Sides) + 1
	_ = c.Bus.Broadcast(ctx, sess.ID, "diceRolled", struct {
		Sides  int `json:"sides"`
		Result int `json:"result"`
	}{Sides: req.Sides, Result: result})
	return nil
}

func (c *Coordinator) HandleRollPlayOrder(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	var order []int
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		if conn.ControllerID != s.OwnerID {
			return apperr.NewNotAuthorized("roll play order")
		}
		order = make([]int, len(s.Players))
		for i, p := range s.Players {
			order[i] = p.ID
		}
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		return nil
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "playOrderRolled", struct {
		Order []int `json:"order"`
	}{Order: order})
	return nil
}

func (c *Coordinator) HandleAdminRevive(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[AdminPlayerRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.Revive(req.PlayerID, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleAdminKick(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[AdminPlayerRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.Kick(req.PlayerID, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "kicked", struct {
		PlayerID int `json:"playerId"`
	}{PlayerID: req.PlayerID})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleAdminAddTime(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[AdminAddTimeRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.AddTime(req.PlayerID, req.Minutes, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleTimeoutChoice(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[TimeoutChoiceRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.ResolveTimeout(req.PlayerID, req.Resolution, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleToggleTarget(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[TargetRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.ToggleTarget(req.PlayerID, conn.ControllerID)
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "targetingUpdated", struct {
		TargetedPlayers []int `json:"targetedPlayers"`
	}{TargetedPlayers: sess.TargetedPlayers})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleConfirmTargets(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.ConfirmTargets(conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "targetingStarted", struct {
		AwaitingPriority []int `json:"awaitingPriority"`
		ActivePlayer     int   `json:"activePlayer"`
	}{AwaitingPriority: sess.AwaitingPriority, ActivePlayer: sess.ActivePlayer})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandlePassTargetPriority(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[TargetRequest](data)
	if err != nil {
		return err
	}
	var completed bool
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		if err := s.PassTargetPriority(req.PlayerID, conn.ControllerID, c.now()); err != nil {
			return err
		}
		completed = s.TargetingState == session.TargetingNone
		return nil
	})
	if err != nil {
		return err
	}
	if completed {
		_ = c.Bus.Broadcast(ctx, sess.ID, "targetingComplete", struct {
			ActivePlayer int `json:"activePlayer"`
		}{ActivePlayer: sess.ActivePlayer})
	} else {
		_ = c.Bus.Broadcast(ctx, sess.ID, "priorityPassed", struct {
			AwaitingPriority []int `json:"awaitingPriority"`
			ActivePlayer     int   `json:"activePlayer"`
		}{AwaitingPriority: sess.AwaitingPriority, ActivePlayer: sess.ActivePlayer})
	}
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleCancelTargeting(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.CancelTargeting(conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "targetingCanceled", struct{}{})
	c.BroadcastState(ctx, sess)
	return nil
}

func (c *Coordinator) HandleFeedback(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[FeedbackRequest](data)
	if err != nil {
		return err
	}
	var fb session.Feedback
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		fb = s.AddFeedback(req.Text, conn.ControllerID, c.now())
		return nil
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "feedbackSubmitted", fb)
	return nil
}

func (c *Coordinator) HandleLoadFeedbacks(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[GameIDRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.ensureLoaded(ctx, req.GameID)
	if err != nil {
		return err
	}
	_ = c.Bus.SendToSubscriber(sess.ID, conn.ControllerID, "feedbackList", struct {
		Feedbacks []session.Feedback `json:"feedbacks"`
	}{Feedbacks: sess.Feedbacks})
	return nil
}

func (c *Coordinator) HandleUpdateFeedback(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[UpdateFeedbackRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.UpdateFeedback(req.ID, req.Text, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "feedbackUpdated", struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}{ID: req.ID, Text: req.Text})
	return nil
}

func (c *Coordinator) HandleDeleteFeedback(conn *protocol.ConnContext, data []byte) error {
	ctx := context.Background()
	req, err := decode[DeleteFeedbackRequest](data)
	if err != nil {
		return err
	}
	sess, err := c.withSession(ctx, req.GameID, PersistImmediate, func(s *session.Session) error {
		return s.DeleteFeedback(req.ID, conn.ControllerID, c.now())
	})
	if err != nil {
		return err
	}
	_ = c.Bus.Broadcast(ctx, sess.ID, "feedbackDeleted", struct {
		ID string `json:"id"`
	}{ID: req.ID})
	return nil
}
