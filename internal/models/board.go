// internal/models/board.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Board is one player's 5x5 layout for one match, stored row-major.
type Board struct {
	MatchID   uuid.UUID `json:"match_id"`
	UserID    uuid.UUID `json:"user_id"`
	Numbers   []int     `json:"numbers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Move is one called number. Seq is 1-based and contiguous within a match.
type Move struct {
	MatchID   uuid.UUID `json:"match_id"`
	Seq       int       `json:"sequence"`
	Number    int       `json:"number"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
