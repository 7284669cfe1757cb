// internal/match/service.go
package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/bingo/internal/bingo"
	"github.com/jason-s-yu/bingo/internal/models"
	"github.com/sirupsen/logrus"
)

// Events pushed to participants after a committed transition.
const (
	EventMatchInvited  = "match_invited"
	EventMatchAccepted = "match_accepted"
	EventBoardReady    = "board_ready"
	EventMatchStarted  = "match_started"
	EventMoveMade      = "move_made"
	EventMatchFinished = "match_finished"
)

const (
	ReasonAlreadyWon     = "already has a winner"
	ReasonNotEnoughLines = "not enough completed lines"
)

// Service owns the match lifecycle. All cross-request consistency comes from
// Store.InMatchTx; the service itself keeps no per-match state.
type Service struct {
	store    Store
	notifier Notifier
	stats    StatsRecorder
	actions  ActionPublisher
	logger   *logrus.Logger

	now         func() time.Time
	pickStarter func(a, b uuid.UUID) uuid.UUID
}

// Option configures a Service.
type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithStats(r StatsRecorder) Option { return func(s *Service) { s.stats = r } }

func WithActionPublisher(p ActionPublisher) Option { return func(s *Service) { s.actions = p } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithStarterPicker overrides the random choice of the first player.
func WithStarterPicker(pick func(a, b uuid.UUID) uuid.UUID) Option {
	return func(s *Service) { s.pickStarter = pick }
}

func NewService(store Store, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      logger,
		now:         time.Now,
		pickStarter: randomStarter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomStarter(a, b uuid.UUID) uuid.UUID {
	if rand.Intn(2) == 0 {
		return a
	}
	return b
}

// Invite creates a new match from inviter to invitee. The two users must be accepted friends.
func (s *Service) Invite(ctx context.Context, inviter, invitee uuid.UUID) (*models.Match, error) {
	if inviter == invitee {
		return nil, ErrSelfInvite
	}
	ok, err := s.store.AreFriends(ctx, inviter, invitee)
	if err != nil {
		return nil, fmt.Errorf("checking friendship: %w", err)
	}
	if !ok {
		return nil, ErrNotFriends
	}

	m := &models.Match{
		ID:        uuid.New(),
		Player1ID: inviter,
		Player2ID: invitee,
		Status:    models.StatusInvited,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateMatch(ctx, m); err != nil {
		return nil, fmt.Errorf("creating match: %w", err)
	}

	s.log(m.ID, inviter).Info("match invite created")
	s.publish(ctx, m.ID, inviter, models.ActionInvite, 0, map[string]interface{}{"invitee": invitee.String()})
	s.notify(invitee, EventMatchInvited, m)
	return m, nil
}

// AcceptInvite moves an INVITED match to BOARD_SETUP. Only the invitee may accept.
func (s *Service) AcceptInvite(ctx context.Context, actor, matchID uuid.UUID) (*models.Match, error) {
	var out models.Match
	err := s.store.InMatchTx(ctx, matchID, func(ctx context.Context, tx Tx, m *models.Match) error {
		if !m.IsParticipant(actor) {
			return ErrNotParticipant
		}
		if actor != m.Player2ID {
			return ErrNotInvitee
		}
		if m.Status != models.StatusInvited {
			return withMessage(ErrInvalidTransition, "cannot accept a match in status %s", m.Status)
		}
		m.Status = models.StatusBoardSetup
		if err := tx.SaveMatch(ctx, m); err != nil {
			return err
		}
		out = *m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(matchID, actor).Info("match invite accepted")
	s.publish(ctx, matchID, actor, models.ActionAccept, 0, nil)
	s.notifyMany(out.Players(), EventMatchAccepted, &out)
	return &out, nil
}

// BoardRequest is the input of SetBoard. Mode defaults to custom.
type BoardRequest struct {
	Mode    bingo.Mode `json:"mode,omitempty"`
	Numbers []int      `json:"numbers,omitempty"`
}

// SetBoardResult is returned by SetBoard.
type SetBoardResult struct {
	Board   models.Board `json:"board"`
	Match   models.Match `json:"match"`
	Started bool         `json:"-"`
}

// SetBoard stores (or replaces) the actor's board while the match is pre-game and
// starts the match once both boards exist. Board existence is re-read after the
// upsert inside the same locked transaction, so two racing calls start it once.
func (s *Service) SetBoard(ctx context.Context, actor, matchID uuid.UUID, req BoardRequest) (*SetBoardResult, error) {
	var res SetBoardResult
	err := s.store.InMatchTx(ctx, matchID, func(ctx context.Context, tx Tx, m *models.Match) error {
		if !m.IsParticipant(actor) {
			return ErrNotParticipant
		}
		if m.Status != models.StatusInvited && m.Status != models.StatusBoardSetup {
			return ErrBoardLocked
		}
		numbers, err := bingo.BuildBoard(req.Mode, req.Numbers)
		if err != nil {
			return withMessage(ErrInvalidBoard, "%s", err.Error())
		}

		now := s.now().UTC()
		board := models.Board{
			MatchID:   matchID,
			UserID:    actor,
			Numbers:   numbers,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.UpsertBoard(ctx, board); err != nil {
			return err
		}

		boards, err := tx.Boards(ctx)
		if err != nil {
			return err
		}
		if hasBoth(boards, m) && m.Status != models.StatusInProgress {
			starter := s.pickStarter(m.Player1ID, m.Player2ID)
			m.Status = models.StatusInProgress
			m.StartedAt = &now
			m.CurrentTurnUserID = &starter
			if err := tx.SaveMatch(ctx, m); err != nil {
				return err
			}
			res.Started = true
		}

		for _, b := range boards {
			if b.UserID == actor {
				res.Board = b
			}
		}
		res.Match = *m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(matchID, actor).WithField("mode", req.Mode).Info("board set")
	s.publish(ctx, matchID, actor, models.ActionSetBoard, 0, map[string]interface{}{"mode": string(req.Mode)})
	s.notify(res.Match.Opponent(actor), EventBoardReady, map[string]interface{}{
		"match_id": matchID,
		"user_id":  actor,
	})
	if res.Started {
		s.log(matchID, actor).WithField("first_turn", *res.Match.CurrentTurnUserID).Info("match started")
		s.publish(ctx, matchID, uuid.Nil, models.ActionStart, 0, map[string]interface{}{
			"first_turn": res.Match.CurrentTurnUserID.String(),
		})
		s.notifyMany(res.Match.Players(), EventMatchStarted, &res.Match)
	}
	return &res, nil
}

func hasBoth(boards []models.Board, m *models.Match) bool {
	var p1, p2 bool
	for _, b := range boards {
		switch b.UserID {
		case m.Player1ID:
			p1 = true
		case m.Player2ID:
			p2 = true
		}
	}
	return p1 && p2
}

// MoveResult is returned by MakeMove from the mover's perspective.
type MoveResult struct {
	Move           models.Move  `json:"move"`
	YourLines      int          `json:"your_lines"`
	OpponentLines  int          `json:"opponent_lines"`
	NextTurnUserID uuid.UUID    `json:"next_turn_user_id"`
	Match          models.Match `json:"-"`
}

// MakeMove calls a number on the actor's turn and passes the turn to the opponent.
func (s *Service) MakeMove(ctx context.Context, actor, matchID uuid.UUID, number int) (*MoveResult, error) {
	var res MoveResult
	err := s.store.InMatchTx(ctx, matchID, func(ctx context.Context, tx Tx, m *models.Match) error {
		if !m.IsParticipant(actor) {
			return ErrNotParticipant
		}
		if m.Status != models.StatusInProgress {
			return ErrNotInProgress
		}
		if !m.IsTurn(actor) {
			return ErrNotYourTurn
		}
		if number < 1 || number > bingo.MaxNumber {
			return ErrInvalidNumber
		}

		moves, err := tx.Moves(ctx)
		if err != nil {
			return err
		}
		for _, mv := range moves {
			if mv.Number == number {
				return withMessage(ErrNumberAlreadyCalled, "number %d has already been called", number)
			}
		}

		mv := models.Move{
			MatchID:   matchID,
			Seq:       len(moves) + 1,
			Number:    number,
			UserID:    actor,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.AppendMove(ctx, mv); err != nil {
			return err
		}

		next := m.Opponent(actor)
		m.CurrentTurnUserID = &next
		if err := tx.SaveMatch(ctx, m); err != nil {
			return err
		}

		boards, err := tx.Boards(ctx)
		if err != nil {
			return err
		}
		called := append(calledNumbers(moves), number)
		res = MoveResult{
			Move:           mv,
			YourLines:      linesFor(boards, actor, called),
			OpponentLines:  linesFor(boards, next, called),
			NextTurnUserID: next,
			Match:          *m,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(matchID, actor).WithField("number", number).Debug("move made")
	s.publish(ctx, matchID, actor, models.ActionMove, res.Move.Seq, map[string]interface{}{"number": number})
	s.notify(actor, EventMoveMade, movePayload(&res, res.YourLines, res.OpponentLines))
	s.notify(res.NextTurnUserID, EventMoveMade, movePayload(&res, res.OpponentLines, res.YourLines))
	return &res, nil
}

func movePayload(res *MoveResult, yours, theirs int) map[string]interface{} {
	return map[string]interface{}{
		"match_id":          res.Move.MatchID,
		"move":              res.Move,
		"next_turn_user_id": res.NextTurnUserID,
		"your_lines":        yours,
		"opponent_lines":    theirs,
	}
}

// ClaimResult is the outcome of a bingo claim. A failed claim is not an error.
type ClaimResult struct {
	Success  bool   `json:"success"`
	Lines    int    `json:"lines"`
	IsWinner bool   `json:"is_winner"`
	Reason   string `json:"reason,omitempty"`
}

// ClaimBingo checks the actor's board against every called number. Claims may be
// made by either player at any time while the match is in progress and never
// consume a turn. Once a winner exists every further claim is answered from the
// stored result without mutating anything.
func (s *Service) ClaimBingo(ctx context.Context, actor, matchID uuid.UUID) (*ClaimResult, error) {
	var (
		res      ClaimResult
		finished bool
		final    models.Match
	)
	err := s.store.InMatchTx(ctx, matchID, func(ctx context.Context, tx Tx, m *models.Match) error {
		if !m.IsParticipant(actor) {
			return ErrNotParticipant
		}

		boards, err := tx.Boards(ctx)
		if err != nil {
			return err
		}
		moves, err := tx.Moves(ctx)
		if err != nil {
			return err
		}
		lines := linesFor(boards, actor, calledNumbers(moves))

		if m.WinnerUserID != nil {
			won := *m.WinnerUserID == actor
			res = ClaimResult{Success: won, Lines: lines, IsWinner: won}
			if !won {
				res.Reason = ReasonAlreadyWon
			}
			return nil
		}
		if m.Status != models.StatusInProgress {
			return ErrNotInProgress
		}

		if !bingo.HasBingo(lines) {
			res = ClaimResult{Success: false, Lines: lines, Reason: ReasonNotEnoughLines}
			return nil
		}

		now := s.now().UTC()
		winner := actor
		m.Status = models.StatusFinished
		m.WinnerUserID = &winner
		m.EndedAt = &now
		m.CurrentTurnUserID = nil
		if err := tx.SaveMatch(ctx, m); err != nil {
			return err
		}
		res = ClaimResult{Success: true, Lines: lines, IsWinner: true}
		finished = true
		final = *m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, matchID, actor, models.ActionClaim, 0, map[string]interface{}{
		"success": res.Success,
		"lines":   res.Lines,
	})
	if !finished {
		return &res, nil
	}

	s.log(matchID, actor).WithField("lines", res.Lines).Info("match finished")
	if s.stats != nil {
		if _, err := s.stats.Apply(ctx, matchID); err != nil {
			// the marker stays unset, so start-up reconciliation picks it up again
			s.log(matchID, actor).WithError(err).Error("failed to apply match stats")
		}
	}
	s.publish(ctx, matchID, actor, models.ActionFinish, 0, map[string]interface{}{"winner": actor.String()})
	s.notifyMany(final.Players(), EventMatchFinished, map[string]interface{}{
		"match":          &final,
		"winner_user_id": actor,
	})
	return &res, nil
}

// Get returns a match the actor participates in.
func (s *Service) Get(ctx context.Context, actor, matchID uuid.UUID) (*models.Match, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(actor) {
		return nil, ErrNotParticipant
	}
	return m, nil
}

// List returns every match of the actor, newest first.
func (s *Service) List(ctx context.Context, actor uuid.UUID) ([]models.Match, error) {
	ms, err := s.store.ListMatchesForUser(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	if ms == nil {
		ms = []models.Match{}
	}
	return ms, nil
}

// PlayerView is one entry of StateView.Players.
type PlayerView struct {
	UserID        uuid.UUID `json:"user_id"`
	HasBoard      bool      `json:"has_board"`
	IsCurrentTurn bool      `json:"is_current_turn"`
	IsWinner      bool      `json:"is_winner"`
}

// StateView is the pull-based source of truth for clients. The opponent's board
// is never included, only their line count.
type StateView struct {
	Match         models.Match  `json:"match"`
	Players       []PlayerView  `json:"players"`
	YourBoard     []int         `json:"your_board"`
	Moves         []models.Move `json:"moves"`
	YourLines     int           `json:"your_lines"`
	OpponentLines int           `json:"opponent_lines"`
}

// State builds the actor's view of a match from one consistent snapshot.
func (s *Service) State(ctx context.Context, actor, matchID uuid.UUID) (*StateView, error) {
	snap, err := s.store.Snapshot(ctx, matchID)
	if err != nil {
		return nil, err
	}
	m := snap.Match
	if !m.IsParticipant(actor) {
		return nil, ErrNotParticipant
	}

	called := calledNumbers(snap.Moves)
	view := &StateView{
		Match:         m,
		Moves:         snap.Moves,
		YourLines:     linesFor(snap.Boards, actor, called),
		OpponentLines: linesFor(snap.Boards, m.Opponent(actor), called),
	}
	if view.Moves == nil {
		view.Moves = []models.Move{}
	}
	for _, b := range snap.Boards {
		if b.UserID == actor {
			view.YourBoard = b.Numbers
		}
	}
	for _, id := range m.Players() {
		pv := PlayerView{
			UserID:        id,
			IsCurrentTurn: m.IsTurn(id),
			IsWinner:      m.WinnerUserID != nil && *m.WinnerUserID == id,
		}
		for _, b := range snap.Boards {
			if b.UserID == id {
				pv.HasBoard = true
			}
		}
		view.Players = append(view.Players, pv)
	}
	return view, nil
}

// calledNumbers replays moves in sequence order.
func calledNumbers(moves []models.Move) []int {
	out := make([]int, len(moves), len(moves)+1)
	for i, mv := range moves {
		out[i] = mv.Number
	}
	return out
}

func linesFor(boards []models.Board, userID uuid.UUID, called []int) int {
	for _, b := range boards {
		if b.UserID == userID {
			return bingo.CountLines(b.Numbers, called)
		}
	}
	return 0
}

func (s *Service) log(matchID, userID uuid.UUID) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"match_id": matchID,
		"user_id":  userID,
	})
}

func (s *Service) notify(userID uuid.UUID, event string, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(userID, event, payload)
}

func (s *Service) notifyMany(userIDs []uuid.UUID, event string, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyMany(userIDs, event, payload)
}

// publish is best-effort: the action log is an audit trail, the moves table stays authoritative.
func (s *Service) publish(ctx context.Context, matchID, actor uuid.UUID, actionType string, seq int, payload map[string]interface{}) {
	if s.actions == nil {
		return
	}
	rec := models.MatchAction{
		MatchID:     matchID,
		Sequence:    seq,
		ActorUserID: actor,
		ActionType:  actionType,
		Payload:     payload,
		Timestamp:   s.now().UnixMilli(),
	}
	if err := s.actions.PublishMatchAction(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		s.log(matchID, actor).WithError(err).Warn("failed to publish match action")
	}
}
