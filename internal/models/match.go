// internal/models/match.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

const (
	StatusInvited    MatchStatus = "INVITED"
	StatusBoardSetup MatchStatus = "BOARD_SETUP"
	StatusInProgress MatchStatus = "IN_PROGRESS"
	StatusFinished   MatchStatus = "FINISHED"
)

// Match represents a row in the matches table. Player1 is always the inviter.
type Match struct {
	ID                uuid.UUID   `json:"id"`
	Player1ID         uuid.UUID   `json:"player1_id"`
	Player2ID         uuid.UUID   `json:"player2_id"`
	Status            MatchStatus `json:"status"`
	CurrentTurnUserID *uuid.UUID  `json:"current_turn_user_id"`
	WinnerUserID      *uuid.UUID  `json:"winner_user_id"`

	// StatsApplied marks that the stats aggregator already counted this match.
	StatsApplied bool `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

// IsParticipant reports whether userID is one of the two players.
func (m *Match) IsParticipant(userID uuid.UUID) bool {
	return userID == m.Player1ID || userID == m.Player2ID
}

// Opponent returns the other player. The caller must ensure userID is a participant.
func (m *Match) Opponent(userID uuid.UUID) uuid.UUID {
	if userID == m.Player1ID {
		return m.Player2ID
	}
	return m.Player1ID
}

// Players returns both player ids, inviter first.
func (m *Match) Players() []uuid.UUID {
	return []uuid.UUID{m.Player1ID, m.Player2ID}
}

// IsTurn reports whether it is currently userID's turn.
func (m *Match) IsTurn(userID uuid.UUID) bool {
	return m.CurrentTurnUserID != nil && *m.CurrentTurnUserID == userID
}
