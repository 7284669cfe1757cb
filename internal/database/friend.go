// internal/database/friend.go

package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AreFriends reports whether an accepted friendship exists in either direction.
func (s *Store) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	q := `
		SELECT EXISTS (
			SELECT 1 FROM friends
			WHERE status = 'accepted'
			  AND ((user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1))
		)
	`
	var ok bool
	if err := s.pool.QueryRow(ctx, q, a, b).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// InsertFriendRequest inserts a row into the friends table with status='pending'.
func (s *Store) InsertFriendRequest(ctx context.Context, user1, user2 uuid.UUID) error {
	q := `
		INSERT INTO friends (user1_id, user2_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (user1_id, user2_id)
		DO UPDATE SET status='pending', updated_at=NOW()
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, user1, user2)
		return err
	})
}

// AcceptFriend sets status='accepted' for the request user1 sent to user2.
func (s *Store) AcceptFriend(ctx context.Context, user1, user2 uuid.UUID) error {
	q := `
		UPDATE friends
		SET status='accepted', updated_at=NOW()
		WHERE user1_id=$1 AND user2_id=$2 AND status='pending'
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, q, user1, user2)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("no pending friend request found from %v to %v", user1, user2)
		}
		return nil
	})
}
