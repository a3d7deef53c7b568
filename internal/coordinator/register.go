package coordinator

import "turntimer-backend/internal/protocol"

// RegisterHandlers wires every inbound type to its Coordinator method. Called
// once at startup; the Registry itself rejects dispatch of unknown types.
func (c *Coordinator) RegisterHandlers(reg *protocol.Registry) {
	reg.Register(protocol.TypeCreate, c.HandleCreate)
	reg.Register(protocol.TypeJoin, c.HandleJoin)
	reg.Register(protocol.TypeStart, c.HandleStart)
	reg.Register(protocol.TypePause, c.HandlePause)
	reg.Register(protocol.TypeReset, c.HandleReset)
	reg.Register(protocol.TypeSwitch, c.HandleSwitch)
	reg.Register(protocol.TypeClaim, c.HandleClaim)
	reg.Register(protocol.TypeUnclaim, c.HandleUnclaim)
	reg.Register(protocol.TypeReconnect, c.HandleReconnect)
	reg.Register(protocol.TypeUpdatePlayer, c.HandleUpdatePlayer)
	reg.Register(protocol.TypeAddPenalty, c.HandleAddPenalty)
	reg.Register(protocol.TypeEliminate, c.HandleEliminate)
	reg.Register(protocol.TypeUpdateSettings, c.HandleUpdateSettings)
	reg.Register(protocol.TypeEndGame, c.HandleEndGame)
	reg.Register(protocol.TypeRenameGame, c.HandleRenameGame)
	reg.Register(protocol.TypeInterrupt, c.HandleInterrupt)
	reg.Register(protocol.TypePassPriority, c.HandlePassPriority)
	reg.Register(protocol.TypeRandomStartPlayer, c.HandleRandomStartPlayer)
	reg.Register(protocol.TypeRollDice, c.HandleRollDice)
	reg.Register(protocol.TypeRollPlayOrder, c.HandleRollPlayOrder)
	reg.Register(protocol.TypeAdminRevive, c.HandleAdminRevive)
	reg.Register(protocol.TypeAdminKick, c.HandleAdminKick)
	reg.Register(protocol.TypeAdminAddTime, c.HandleAdminAddTime)
	reg.Register(protocol.TypeTimeoutChoice, c.HandleTimeoutChoice)
	reg.Register(protocol.TypeToggleTarget, c.HandleToggleTarget)
	reg.Register(protocol.TypeConfirmTargets, c.HandleConfirmTargets)
	reg.Register(protocol.TypePassTargetPriority, c.HandlePassTargetPriority)
	reg.Register(protocol.TypeCancelTargeting, c.HandleCancelTargeting)
	reg.Register(protocol.TypeFeedback, c.HandleFeedback)
	reg.Register(protocol.TypeLoadFeedbacks, c.HandleLoadFeedbacks)
	reg.Register(protocol.TypeUpdateFeedback, c.HandleUpdateFeedback)
	reg.Register(protocol.TypeDeleteFeedback, c.HandleDeleteFeedback)
}
