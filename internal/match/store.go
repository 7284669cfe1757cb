// internal/match/store.go
package match

import (
	"context"

	"github.com/google/uuid"
	"github.com/jason-s-yu/bingo/internal/models"
)

// Store is the persistence boundary of the match engine. Implementations must
// serialize InMatchTx calls for the same match id (row lock or mutex) and only
// persist the writes made through Tx when fn returns nil.
type Store interface {
	CreateMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListMatchesForUser(ctx context.Context, userID uuid.UUID) ([]models.Match, error)
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)

	// Snapshot reads the match with its boards and moves from one consistent view.
	Snapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error)

	// InMatchTx locks the match row and runs fn with the locked copy.
	// Returns ErrMatchNotFound when the match does not exist.
	InMatchTx(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx Tx, m *models.Match) error) error
}

// Tx exposes the reads and writes allowed while a match is locked.
type Tx interface {
	SaveMatch(ctx context.Context, m *models.Match) error
	Boards(ctx context.Context) ([]models.Board, error)
	UpsertBoard(ctx context.Context, b models.Board) error
	Moves(ctx context.Context) ([]models.Move, error)
	AppendMove(ctx context.Context, mv models.Move) error
}

// Snapshot is a consistent read of one match.
type Snapshot struct {
	Match  models.Match
	Boards []models.Board
	Moves  []models.Move
}

// Notifier pushes events to the live connections of users.
type Notifier interface {
	Notify(userID uuid.UUID, event string, payload interface{})
	NotifyMany(userIDs []uuid.UUID, event string, payload interface{})
}

// StatsRecorder applies a finished match to the players' stats.
type StatsRecorder interface {
	Apply(ctx context.Context, matchID uuid.UUID) (bool, error)
}

// ActionPublisher records committed match actions for the historian.
type ActionPublisher interface {
	PublishMatchAction(ctx context.Context, rec models.MatchAction) error
}
