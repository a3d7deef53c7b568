package coordinator

import "turntimer-backend/internal/session"

// Request payload shapes decoded from each inbound message's "data" field
// (spec §6).

type CreateRequest struct {
	Name              string            `json:"name"`
	PlayerCount       int               `json:"playerCount"`
	InitialTime       int64             `json:"initialTime"`
	WarningThresholds []int64           `json:"warningThresholds"`
	Mode              session.Mode      `json:"mode"`
	AnyoneMayStart    bool              `json:"anyoneMayStart"`
	AnyoneMaySwitch   bool              `json:"anyoneMaySwitch"`
}

type JoinRequest struct {
	GameID string `json:"gameId"`
}

type GameIDRequest struct {
	GameID string `json:"gameId"`
}

type SwitchRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
}

type ClaimRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
}

type ReconnectRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
	Token    string `json:"token"`
}

type UpdatePlayerRequest struct {
	GameID         string  `json:"gameId"`
	PlayerID       int     `json:"playerId"`
	Name           *string `json:"name,omitempty"`
	Color          *string `json:"color,omitempty"`
	Life           *int    `json:"life,omitempty"`
	DrunkCounter   *int    `json:"drunkCounter,omitempty"`
	GenericCounter *int    `json:"genericCounter,omitempty"`
}

type AddPenaltyRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
	Lives    int    `json:"lives"`
}

type EliminateRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
}

type UpdateSettingsRequest struct {
	GameID   string           `json:"gameId"`
	Settings session.Settings `json:"settings"`
}

type RenameGameRequest struct {
	GameID string `json:"gameId"`
	Name   string `json:"name"`
}

type InterruptRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
}

type PassPriorityRequest struct {
	GameID string `json:"gameId"`
}

type RollDiceRequest struct {
	GameID string `json:"gameId"`
	Sides  int    `json:"sides"`
}

type AdminPlayerRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
}

type AdminAddTimeRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
	Minutes  int    `json:"minutes"`
}

type TimeoutChoiceRequest struct {
	GameID     string                   `json:"gameId"`
	PlayerID   int                      `json:"playerId"`
	Resolution session.TimeoutResolution `json:"resolution"`
}

type TargetRequest struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
}

type FeedbackRequest struct {
	GameID string `json:"gameId"`
	Text   string `json:"text"`
}

type UpdateFeedbackRequest struct {
	GameID string `json:"gameId"`
	ID     string `json:"id"`
	Text   string `json:"text"`
}

type DeleteFeedbackRequest struct {
	GameID string `json:"gameId"`
	ID     string `json:"id"`
}
