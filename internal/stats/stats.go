// internal/stats/stats.go
package stats

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/bingo/internal/models"
	"github.com/sirupsen/logrus"
)

// Store runs the stats update of one match atomically. Implementations lock the
// match row for the duration of fn and commit only when fn returns nil.
type Store interface {
	InStatsTx(ctx context.Context, matchID uuid.UUID, fn func(ctx context.Context, tx Tx, m *models.Match) error) error

	// PendingStatsMatches lists finished matches whose stats were never applied.
	PendingStatsMatches(ctx context.Context) ([]uuid.UUID, error)
}

// Tx is the view of user_stats available inside InStatsTx.
type Tx interface {
	// LoadStats returns the user's stats row, creating a zeroed one if absent.
	LoadStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error)
	SaveStats(ctx context.Context, s *models.UserStats) error
	MarkStatsApplied(ctx context.Context) error
}

// Aggregator turns finished matches into win/loss counters, exactly once per match.
type Aggregator struct {
	store  Store
	logger *logrus.Logger
}

func NewAggregator(store Store, logger *logrus.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Apply updates both players' stats for a finished match. It reports false
// without error when the match is not finished, has no winner, or was already applied.
func (a *Aggregator) Apply(ctx context.Context, matchID uuid.UUID) (bool, error) {
	applied := false
	err := a.store.InStatsTx(ctx, matchID, func(ctx context.Context, tx Tx, m *models.Match) error {
		if m.Status != models.StatusFinished || m.WinnerUserID == nil || m.StatsApplied {
			return nil
		}
		winnerID := *m.WinnerUserID
		loserID := m.Opponent(winnerID)

		at := time.Now().UTC()
		if m.EndedAt != nil {
			at = *m.EndedAt
		}

		// Rows are locked in id order so matches finishing concurrently between
		// the same users cannot wait on each other.
		loaded := make(map[uuid.UUID]*models.UserStats, 2)
		for _, id := range lockOrder(winnerID, loserID) {
			st, err := tx.LoadStats(ctx, id)
			if err != nil {
				return fmt.Errorf("loading stats of %v: %w", id, err)
			}
			loaded[id] = st
		}
		winner, loser := loaded[winnerID], loaded[loserID]

		RecordWin(winner, at)
		RecordLoss(loser, at)

		if err := tx.SaveStats(ctx, winner); err != nil {
			return err
		}
		if err := tx.SaveStats(ctx, loser); err != nil {
			return err
		}
		if err := tx.MarkStatsApplied(ctx); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("applying stats for match %v: %w", matchID, err)
	}
	if applied {
		a.logger.WithField("match_id", matchID).Debug("match stats applied")
	}
	return applied, nil
}

func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(b[:], a[:]) < 0 {
		return []uuid.UUID{b, a}
	}
	return []uuid.UUID{a, b}
}

// Reconcile applies every finished match left without stats, e.g. after a crash
// between the finishing commit and the stats commit.
func (a *Aggregator) Reconcile(ctx context.Context) (int, error) {
	ids, err := a.store.PendingStatsMatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending stats: %w", err)
	}
	n := 0
	for _, id := range ids {
		ok, err := a.Apply(ctx, id)
		if err != nil {
			a.logger.WithError(err).WithField("match_id", id).Warn("stats reconciliation failed")
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		a.logger.Infof("reconciled stats for %d matches", n)
	}
	return n, nil
}

// RecordWin counts a win and extends the streak.
func RecordWin(s *models.UserStats, at time.Time) {
	s.TotalMatches++
	s.Wins++
	s.CurrentStreak++
	if s.CurrentStreak > s.BestStreak {
		s.BestStreak = s.CurrentStreak
	}
	s.LastMatchAt = &at
}

// RecordLoss counts a loss and resets the streak.
func RecordLoss(s *models.UserStats, at time.Time) {
	s.TotalMatches++
	s.Losses++
	s.CurrentStreak = 0
	s.LastMatchAt = &at
}
