// internal/database/store.go

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/bingo/internal/match"
	"github.com/jason-s-yu/bingo/internal/models"
	"github.com/jason-s-yu/bingo/internal/stats"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

const matchColumns = `id, player1_id, player2_id, status, current_turn_user_id, winner_user_id,
	stats_applied, created_at, started_at, ended_at`

// Store is the postgres implementation of the match, stats and historian repositories.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ match.Store = (*Store)(nil)
	_ stats.Store = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match
	err := row.Scan(
		&m.ID, &m.Player1ID, &m.Player2ID, &m.Status, &m.CurrentTurnUserID, &m.WinnerUserID,
		&m.StatsApplied, &m.CreatedAt, &m.StartedAt, &m.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, match.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning match: %w", err)
	}
	return &m, nil
}

func (s *Store) CreateMatch(ctx context.Context, m *models.Match) error {
	q := `
		INSERT INTO matches (id, player1_id, player2_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, m.ID, m.Player1ID, m.Player2ID, string(m.Status), m.CreatedAt)
		return err
	})
}

func (s *Store) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	q := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	return scanMatch(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) ListMatchesForUser(ctx context.Context, userID uuid.UUID) ([]models.Match, error) {
	q := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE player1_id = $1 OR player2_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Snapshot reads a match with its boards and moves from one REPEATABLE READ snapshot.
func (s *Store) Snapshot(ctx context.Context, id uuid.UUID) (*match.Snapshot, error) {
	var snap match.Snapshot
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		m, err := scanMatch(tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
		if err != nil {
			return err
		}
		snap.Match = *m
		if snap.Boards, err = queryBoards(ctx, tx, id); err != nil {
			return err
		}
		snap.Moves, err = queryMoves(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// lockMatch loads the match row with FOR UPDATE so concurrent transitions on
// the same match serialize on it.
func lockMatch(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Match, error) {
	return scanMatch(tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, id))
}

func (s *Store) InMatchTx(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx match.Tx, m *models.Match) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		m, err := lockMatch(ctx, tx, id)
		if err != nil {
			return err
		}
		return fn(ctx, &matchTx{tx: tx, matchID: id}, m)
	})
}

type matchTx struct {
	tx      pgx.Tx
	matchID uuid.UUID
}

func (t *matchTx) SaveMatch(ctx context.Context, m *models.Match) error {
	q := `
		UPDATE matches
		SET status = $2, current_turn_user_id = $3, winner_user_id = $4, started_at = $5, ended_at = $6
		WHERE id = $1
	`
	_, err := t.tx.Exec(ctx, q, m.ID, string(m.Status), m.CurrentTurnUserID, m.WinnerUserID, m.StartedAt, m.EndedAt)
	if err != nil {
		return fmt.Errorf("updating match: %w", err)
	}
	return nil
}

func (t *matchTx) Boards(ctx context.Context) ([]models.Board, error) {
	return queryBoards(ctx, t.tx, t.matchID)
}

func (t *matchTx) UpsertBoard(ctx context.Context, b models.Board) error {
	q := `
		INSERT INTO match_boards (match_id, user_id, numbers, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id, user_id)
		DO UPDATE SET numbers = EXCLUDED.numbers, updated_at = EXCLUDED.updated_at
	`
	_, err := t.tx.Exec(ctx, q, b.MatchID, b.UserID, b.Numbers, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting board: %w", err)
	}
	return nil
}

func (t *matchTx) Moves(ctx context.Context) ([]models.Move, error) {
	return queryMoves(ctx, t.tx, t.matchID)
}

func (t *matchTx) AppendMove(ctx context.Context, mv models.Move) error {
	q := `
		INSERT INTO match_moves (match_id, seq, number, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := t.tx.Exec(ctx, q, mv.MatchID, mv.Seq, mv.Number, mv.UserID, mv.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return match.ErrNumberAlreadyCalled
	}
	if err != nil {
		return fmt.Errorf("inserting move: %w", err)
	}
	return nil
}

func queryBoards(ctx context.Context, tx pgx.Tx, matchID uuid.UUID) ([]models.Board, error) {
	q := `
		SELECT match_id, user_id, numbers, created_at, updated_at
		FROM match_boards
		WHERE match_id = $1
		ORDER BY created_at
	`
	rows, err := tx.Query(ctx, q, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Board
	for rows.Next() {
		var b models.Board
		if err := rows.Scan(&b.MatchID, &b.UserID, &b.Numbers, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func queryMoves(ctx context.Context, tx pgx.Tx, matchID uuid.UUID) ([]models.Move, error) {
	q := `
		SELECT match_id, seq, number, user_id, created_at
		FROM match_moves
		WHERE match_id = $1
		ORDER BY seq
	`
	rows, err := tx.Query(ctx, q, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Move
	for rows.Next() {
		var mv models.Move
		if err := rows.Scan(&mv.MatchID, &mv.Seq, &mv.Number, &mv.UserID, &mv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

// InStatsTx runs fn with the match row locked. A transaction aborted by a
// deadlock or serialization failure is retried once.
func (s *Store) InStatsTx(ctx context.Context, matchID uuid.UUID, fn func(ctx context.Context, tx stats.Tx, m *models.Match) error) error {
	err := s.inStatsTx(ctx, matchID, fn)
	if isRetryable(err) {
		err = s.inStatsTx(ctx, matchID, fn)
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == deadlockDetected || pgErr.Code == serializationFailure)
}

func (s *Store) inStatsTx(ctx context.Context, matchID uuid.UUID, fn func(ctx context.Context, tx stats.Tx, m *models.Match) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		m, err := lockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		return fn(ctx, &statsTx{tx: tx, matchID: matchID}, m)
	})
}

func (s *Store) PendingStatsMatches(ctx context.Context) ([]uuid.UUID, error) {
	q := `
		SELECT id FROM matches
		WHERE status = 'FINISHED' AND winner_user_id IS NOT NULL AND NOT stats_applied
		ORDER BY ended_at
	`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

type statsTx struct {
	tx      pgx.Tx
	matchID uuid.UUID
}

const statsColumns = `user_id, total_matches, wins, losses, current_streak, best_streak, last_match_at`

func scanStats(row pgx.Row) (*models.UserStats, error) {
	var st models.UserStats
	err := row.Scan(&st.UserID, &st.TotalMatches, &st.Wins, &st.Losses, &st.CurrentStreak, &st.BestStreak, &st.LastMatchAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (t *statsTx) LoadStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO user_stats (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("creating stats row: %w", err)
	}
	return scanStats(t.tx.QueryRow(ctx, `SELECT `+statsColumns+` FROM user_stats WHERE user_id = $1 FOR UPDATE`, userID))
}

func (t *statsTx) SaveStats(ctx context.Context, st *models.UserStats) error {
	q := `
		UPDATE user_stats
		SET total_matches = $2, wins = $3, losses = $4, current_streak = $5, best_streak = $6, last_match_at = $7
		WHERE user_id = $1
	`
	_, err := t.tx.Exec(ctx, q, st.UserID, st.TotalMatches, st.Wins, st.Losses, st.CurrentStreak, st.BestStreak, st.LastMatchAt)
	return err
}

func (t *statsTx) MarkStatsApplied(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `UPDATE matches SET stats_applied = TRUE WHERE id = $1`, t.matchID)
	return err
}

// InsertMatchActions persists a historian batch in one transaction.
func (s *Store) InsertMatchActions(ctx context.Context, recs []models.MatchAction) error {
	q := `
		INSERT INTO match_actions (match_id, sequence, actor_user_id, action_type, action_payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range recs {
			payload, err := json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("encoding payload of %s: %w", rec.ActionType, err)
			}
			batch.Queue(q, rec.MatchID, rec.Sequence, rec.ActorUserID, rec.ActionType, payload, time.UnixMilli(rec.Timestamp).UTC())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
