// internal/models/user_stats.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// UserStats holds the durable win/loss counters for a user.
type UserStats struct {
	UserID        uuid.UUID  `json:"user_id"`
	TotalMatches  int        `json:"total_matches"`
	Wins          int        `json:"wins"`
	Losses        int        `json:"losses"`
	CurrentStreak int        `json:"current_streak"`
	BestStreak    int        `json:"best_streak"`
	LastMatchAt   *time.Time `json:"last_match_at"`
}
