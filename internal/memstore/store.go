// internal/memstore/store.go
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/bingo/internal/match"
	"github.com/jason-s-yu/bingo/internal/models"
	"github.com/jason-s-yu/bingo/internal/stats"
)

type friendKey struct {
	a, b uuid.UUID
}

// Store keeps matches, boards, moves and stats in process memory. It is used for
// local development (STORE=memory) and tests. Each match has its own mutex that
// is held for a whole transaction, mirroring the row lock of the postgres store.
type Store struct {
	mu      sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
	matches map[uuid.UUID]models.Match
	boards  map[uuid.UUID][]models.Board
	moves   map[uuid.UUID][]models.Move
	friends map[friendKey]string
	actions []models.MatchAction

	// statsMu serializes stats transactions since they touch rows shared across matches.
	statsMu sync.Mutex
	stats   map[uuid.UUID]models.UserStats
}

var (
	_ match.Store = (*Store)(nil)
	_ stats.Store = (*Store)(nil)
)

func New() *Store {
	return &Store{
		locks:   make(map[uuid.UUID]*sync.Mutex),
		matches: make(map[uuid.UUID]models.Match),
		boards:  make(map[uuid.UUID][]models.Board),
		moves:   make(map[uuid.UUID][]models.Move),
		friends: make(map[friendKey]string),
		stats:   make(map[uuid.UUID]models.UserStats),
	}
}

// SetFriendship records a friendship from user1 to user2 with the given status.
func (s *Store) SetFriendship(user1, user2 uuid.UUID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[friendKey{user1, user2}] = status
}

func (s *Store) AreFriends(_ context.Context, a, b uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friends[friendKey{a, b}] == models.FriendAccepted ||
		s.friends[friendKey{b, a}] == models.FriendAccepted, nil
}

func (s *Store) CreateMatch(_ context.Context, m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.ID] = *m
	s.locks[m.ID] = &sync.Mutex{}
	return nil
}

func (s *Store) GetMatch(_ context.Context, id uuid.UUID) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, match.ErrMatchNotFound
	}
	return &m, nil
}

func (s *Store) ListMatchesForUser(_ context.Context, userID uuid.UUID) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Match
	for _, m := range s.matches {
		if m.IsParticipant(userID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Snapshot(_ context.Context, id uuid.UUID) (*match.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, match.ErrMatchNotFound
	}
	return &match.Snapshot{
		Match:  m,
		Boards: copyBoards(s.boards[id]),
		Moves:  copyMoves(s.moves[id]),
	}, nil
}

func (s *Store) matchLock(id uuid.UUID) (*sync.Mutex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	return l, ok
}

func (s *Store) InMatchTx(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx match.Tx, m *models.Match) error) error {
	lock, ok := s.matchLock(id)
	if !ok {
		return match.ErrMatchNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	m := s.matches[id]
	tx := &matchTx{
		boards: copyBoards(s.boards[id]),
		moves:  copyMoves(s.moves[id]),
	}
	s.mu.Unlock()

	if err := fn(ctx, tx, &m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.saved != nil {
		s.matches[id] = *tx.saved
	}
	s.boards[id] = tx.boards
	s.moves[id] = tx.moves
	return nil
}

// matchTx stages writes until the transaction callback succeeds.
type matchTx struct {
	saved  *models.Match
	boards []models.Board
	moves  []models.Move
}

func (tx *matchTx) SaveMatch(_ context.Context, m *models.Match) error {
	cp := *m
	tx.saved = &cp
	return nil
}

func (tx *matchTx) Boards(context.Context) ([]models.Board, error) {
	return copyBoards(tx.boards), nil
}

func (tx *matchTx) UpsertBoard(_ context.Context, b models.Board) error {
	b.Numbers = append([]int(nil), b.Numbers...)
	for i := range tx.boards {
		if tx.boards[i].UserID == b.UserID {
			b.CreatedAt = tx.boards[i].CreatedAt
			tx.boards[i] = b
			return nil
		}
	}
	tx.boards = append(tx.boards, b)
	return nil
}

func (tx *matchTx) Moves(context.Context) ([]models.Move, error) {
	return copyMoves(tx.moves), nil
}

func (tx *matchTx) AppendMove(_ context.Context, mv models.Move) error {
	for _, existing := range tx.moves {
		if existing.Number == mv.Number || existing.Seq == mv.Seq {
			return match.ErrNumberAlreadyCalled
		}
	}
	tx.moves = append(tx.moves, mv)
	return nil
}

func (s *Store) InStatsTx(ctx context.Context, matchID uuid.UUID, fn func(ctx context.Context, tx stats.Tx, m *models.Match) error) error {
	lock, ok := s.matchLock(matchID)
	if !ok {
		return match.ErrMatchNotFound
	}
	lock.Lock()
	defer lock.Unlock()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.mu.Lock()
	m := s.matches[matchID]
	s.mu.Unlock()

	tx := &statsTx{store: s, staged: make(map[uuid.UUID]models.UserStats)}
	if err := fn(ctx, tx, &m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range tx.staged {
		s.stats[id] = st
	}
	if tx.applied {
		m.StatsApplied = true
		s.matches[matchID] = m
	}
	return nil
}

func (s *Store) PendingStatsMatches(context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, m := range s.matches {
		if m.Status == models.StatusFinished && m.WinnerUserID != nil && !m.StatsApplied {
			out = append(out, id)
		}
	}
	return out, nil
}

type statsTx struct {
	store   *Store
	staged  map[uuid.UUID]models.UserStats
	applied bool
}

func (tx *statsTx) LoadStats(_ context.Context, userID uuid.UUID) (*models.UserStats, error) {
	if st, ok := tx.staged[userID]; ok {
		return &st, nil
	}
	tx.store.mu.Lock()
	st, ok := tx.store.stats[userID]
	tx.store.mu.Unlock()
	if !ok {
		st = models.UserStats{UserID: userID}
	}
	return &st, nil
}

func (tx *statsTx) SaveStats(_ context.Context, st *models.UserStats) error {
	tx.staged[st.UserID] = *st
	return nil
}

func (tx *statsTx) MarkStatsApplied(context.Context) error {
	tx.applied = true
	return nil
}

// Stats returns the stored stats for a user, zeroed if none exist.
func (s *Store) Stats(userID uuid.UUID) models.UserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[userID]
	if !ok {
		return models.UserStats{UserID: userID}
	}
	return st
}

// InsertMatchActions appends historian records; it lets the in-memory store act as a historian sink.
func (s *Store) InsertMatchActions(_ context.Context, recs []models.MatchAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, recs...)
	return nil
}

// MatchActions returns a copy of every recorded action.
func (s *Store) MatchActions() []models.MatchAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MatchAction(nil), s.actions...)
}

func copyBoards(in []models.Board) []models.Board {
	out := make([]models.Board, len(in))
	for i, b := range in {
		b.Numbers = append([]int(nil), b.Numbers...)
		out[i] = b
	}
	return out
}

func copyMoves(in []models.Move) []models.Move {
	out := make([]models.Move, len(in))
	copy(out, in)
	return out
}
