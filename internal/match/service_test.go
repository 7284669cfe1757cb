package match_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/bingo/internal/bingo"
	"github.com/jason-s-yu/bingo/internal/match"
	"github.com/jason-s-yu/bingo/internal/memstore"
	"github.com/jason-s-yu/bingo/internal/models"
	"github.com/jason-s-yu/bingo/internal/stats"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	UserID  uuid.UUID
	Event   string
	Payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Notify(userID uuid.UUID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{userID, event, payload})
}

func (n *recordingNotifier) NotifyMany(userIDs []uuid.UUID, event string, payload interface{}) {
	for _, id := range userIDs {
		n.Notify(id, event, payload)
	}
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Event == event {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last(userID uuid.UUID, event string) (sentEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].UserID == userID && n.events[i].Event == event {
			return n.events[i], true
		}
	}
	return sentEvent{}, false
}

type recordingPublisher struct {
	mu      sync.Mutex
	actions []models.MatchAction
}

func (p *recordingPublisher) PublishMatchAction(_ context.Context, a models.MatchAction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
	return nil
}

type fixture struct {
	store    *memstore.Store
	notifier *recordingNotifier
	actions  *recordingPublisher
	svc      *match.Service
	alice    uuid.UUID
	bob      uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		store:    memstore.New(),
		notifier: &recordingNotifier{},
		actions:  &recordingPublisher{},
		alice:    uuid.New(),
		bob:      uuid.New(),
	}
	f.store.SetFriendship(f.alice, f.bob, models.FriendAccepted)

	clock := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	f.svc = match.NewService(f.store, logger,
		match.WithNotifier(f.notifier),
		match.WithStats(stats.NewAggregator(f.store, logger)),
		match.WithActionPublisher(f.actions),
		match.WithClock(func() time.Time { return clock }),
		match.WithStarterPicker(func(a, _ uuid.UUID) uuid.UUID { return a }),
	)
	return f
}

func reversedBoard() []int {
	out := make([]int, bingo.Cells)
	for i := range out {
		out[i] = bingo.Cells - i
	}
	return out
}

// startedMatch returns an in-progress match where alice moves first.
func (f *fixture) startedMatch(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	m, err := f.svc.Invite(ctx, f.alice, f.bob)
	require.NoError(t, err)
	_, err = f.svc.AcceptInvite(ctx, f.bob, m.ID)
	require.NoError(t, err)
	_, err = f.svc.SetBoard(ctx, f.alice, m.ID, match.BoardRequest{Mode: bingo.ModeStraight})
	require.NoError(t, err)
	res, err := f.svc.SetBoard(ctx, f.bob, m.ID, match.BoardRequest{Numbers: reversedBoard()})
	require.NoError(t, err)
	require.True(t, res.Started)
	return m.ID
}

// callNumbers plays numbers in order, alternating turns starting with alice.
func (f *fixture) callNumbers(t *testing.T, matchID uuid.UUID, numbers ...int) {
	t.Helper()
	st, err := f.svc.State(context.Background(), f.alice, matchID)
	require.NoError(t, err)
	turn := *st.Match.CurrentTurnUserID
	for _, n := range numbers {
		res, err := f.svc.MakeMove(context.Background(), turn, matchID, n)
		require.NoError(t, err, "calling %d", n)
		turn = res.NextTurnUserID
	}
}

func seq(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestFullMatchLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m, err := f.svc.Invite(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvited, m.Status)
	assert.Equal(t, f.alice, m.Player1ID)
	assert.Equal(t, f.bob, m.Player2ID)
	_, ok := f.notifier.last(f.bob, match.EventMatchInvited)
	assert.True(t, ok)

	accepted, err := f.svc.AcceptInvite(ctx, f.bob, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBoardSetup, accepted.Status)

	first, err := f.svc.SetBoard(ctx, f.alice, m.ID, match.BoardRequest{Mode: bingo.ModeStraight})
	require.NoError(t, err)
	assert.False(t, first.Started)
	assert.Equal(t, bingo.StraightBoard(), first.Board.Numbers)
	assert.Equal(t, models.StatusBoardSetup, first.Match.Status)

	second, err := f.svc.SetBoard(ctx, f.bob, m.ID, match.BoardRequest{Mode: bingo.ModeRandom})
	require.NoError(t, err)
	assert.True(t, second.Started)
	assert.Equal(t, models.StatusInProgress, second.Match.Status)
	require.NotNil(t, second.Match.CurrentTurnUserID)
	assert.Equal(t, f.alice, *second.Match.CurrentTurnUserID)
	assert.NotNil(t, second.Match.StartedAt)
	assert.NoError(t, bingo.ValidateBoard(second.Board.Numbers))
	assert.Equal(t, 2, f.notifier.count(match.EventMatchStarted))

	f.callNumbers(t, m.ID, seq(1, 20)...)

	claim, err := f.svc.ClaimBingo(ctx, f.alice, m.ID)
	require.NoError(t, err)
	assert.False(t, claim.Success)
	assert.Equal(t, 4, claim.Lines)
	assert.Equal(t, match.ReasonNotEnoughLines, claim.Reason)

	f.callNumbers(t, m.ID, 21)

	claim, err = f.svc.ClaimBingo(ctx, f.alice, m.ID)
	require.NoError(t, err)
	assert.True(t, claim.Success)
	assert.True(t, claim.IsWinner)
	assert.Equal(t, 6, claim.Lines)
	assert.Equal(t, 2, f.notifier.count(match.EventMatchFinished))

	st, err := f.svc.State(ctx, f.alice, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, st.Match.Status)
	require.NotNil(t, st.Match.WinnerUserID)
	assert.Equal(t, f.alice, *st.Match.WinnerUserID)
	assert.Nil(t, st.Match.CurrentTurnUserID)
	assert.NotNil(t, st.Match.EndedAt)
	assert.Len(t, st.Moves, 21)

	aliceStats := f.store.Stats(f.alice)
	assert.Equal(t, 1, aliceStats.Wins)
	assert.Equal(t, 1, aliceStats.TotalMatches)
	bobStats := f.store.Stats(f.bob)
	assert.Equal(t, 1, bobStats.Losses)
	assert.Equal(t, 0, bobStats.CurrentStreak)

	_, err = f.svc.MakeMove(ctx, f.bob, m.ID, 22)
	assert.ErrorIs(t, err, match.ErrNotInProgress)
}

func TestClaimAfterWinnerIsStable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.startedMatch(t)
	f.callNumbers(t, id, seq(1, 21)...)

	// bob's reversed board completes the same lines, but alice claims first
	won, err := f.svc.ClaimBingo(ctx, f.alice, id)
	require.NoError(t, err)
	require.True(t, won.IsWinner)

	lost, err := f.svc.ClaimBingo(ctx, f.bob, id)
	require.NoError(t, err)
	assert.False(t, lost.Success)
	assert.False(t, lost.IsWinner)
	assert.Equal(t, match.ReasonAlreadyWon, lost.Reason)
	assert.Equal(t, 6, lost.Lines)

	again, err := f.svc.ClaimBingo(ctx, f.alice, id)
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.True(t, again.IsWinner)

	assert.Equal(t, 2, f.notifier.count(match.EventMatchFinished))
	assert.Equal(t, 1, f.store.Stats(f.alice).TotalMatches)
	assert.Equal(t, 1, f.store.Stats(f.bob).TotalMatches)
}

func TestOffTurnPlayerMayClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.startedMatch(t)
	// 21 calls leave bob on turn; alice claims while waiting
	f.callNumbers(t, id, seq(1, 21)...)

	st, err := f.svc.State(ctx, f.alice, id)
	require.NoError(t, err)
	require.Equal(t, f.bob, *st.Match.CurrentTurnUserID)

	res, err := f.svc.ClaimBingo(ctx, f.alice, id)
	require.NoError(t, err)
	assert.True(t, res.IsWinner)
}

func TestInviteRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Invite(ctx, f.alice, f.alice)
	assert.ErrorIs(t, err, match.ErrSelfInvite)

	stranger := uuid.New()
	_, err = f.svc.Invite(ctx, f.alice, stranger)
	assert.ErrorIs(t, err, match.ErrNotFriends)

	pending := uuid.New()
	f.store.SetFriendship(f.alice, pending, models.FriendPending)
	_, err = f.svc.Invite(ctx, f.alice, pending)
	assert.ErrorIs(t, err, match.ErrNotFriends)

	// friendship is symmetric
	_, err = f.svc.Invite(ctx, f.bob, f.alice)
	assert.NoError(t, err)
}

func TestAcceptInviteRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m, err := f.svc.Invite(ctx, f.alice, f.bob)
	require.NoError(t, err)

	_, err = f.svc.AcceptInvite(ctx, uuid.New(), m.ID)
	assert.ErrorIs(t, err, match.ErrNotParticipant)

	_, err = f.svc.AcceptInvite(ctx, f.alice, m.ID)
	assert.ErrorIs(t, err, match.ErrNotInvitee)

	_, err = f.svc.AcceptInvite(ctx, f.bob, m.ID)
	require.NoError(t, err)

	_, err = f.svc.AcceptInvite(ctx, f.bob, m.ID)
	assert.ErrorIs(t, err, match.ErrInvalidTransition)

	_, err = f.svc.AcceptInvite(ctx, f.bob, uuid.New())
	assert.ErrorIs(t, err, match.ErrMatchNotFound)
}

func TestSetBoardRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m, err := f.svc.Invite(ctx, f.alice, f.bob)
	require.NoError(t, err)

	_, err = f.svc.SetBoard(ctx, f.alice, m.ID, match.BoardRequest{Numbers: []int{1, 2, 3}})
	assert.ErrorIs(t, err, match.ErrInvalidBoard)

	_, err = f.svc.SetBoard(ctx, f.alice, m.ID, match.BoardRequest{Mode: "diagonal"})
	assert.ErrorIs(t, err, match.ErrInvalidBoard)

	_, err = f.svc.SetBoard(ctx, uuid.New(), m.ID, match.BoardRequest{Mode: bingo.ModeStraight})
	assert.ErrorIs(t, err, match.ErrNotParticipant)

	// access is checked before the board itself
	_, err = f.svc.SetBoard(ctx, uuid.New(), m.ID, match.BoardRequest{Numbers: []int{1, 2}})
	assert.ErrorIs(t, err, match.ErrNotParticipant)
	_, err = f.svc.SetBoard(ctx, f.alice, uuid.New(), match.BoardRequest{Numbers: []int{1, 2}})
	assert.ErrorIs(t, err, match.ErrMatchNotFound)

	// boards may be placed before the invite is accepted and replaced freely
	_, err = f.svc.SetBoard(ctx, f.alice, m.ID, match.BoardRequest{Mode: bingo.ModeStraight})
	require.NoError(t, err)
	res, err := f.svc.SetBoard(ctx, f.alice, m.ID, match.BoardRequest{Numbers: reversedBoard()})
	require.NoError(t, err)
	assert.Equal(t, reversedBoard(), res.Board.Numbers)
	assert.Equal(t, models.StatusInvited, res.Match.Status)

	st, err := f.svc.State(ctx, f.alice, m.ID)
	require.NoError(t, err)
	assert.Equal(t, reversedBoard(), st.YourBoard)

	_, err = f.svc.AcceptInvite(ctx, f.bob, m.ID)
	require.NoError(t, err)
	res, err = f.svc.SetBoard(ctx, f.bob, m.ID, match.BoardRequest{})
	assert.ErrorIs(t, err, match.ErrInvalidBoard)
	assert.Nil(t, res)
	res, err = f.svc.SetBoard(ctx, f.bob, m.ID, match.BoardRequest{Mode: bingo.ModeStraight})
	require.NoError(t, err)
	require.True(t, res.Started)

	_, err = f.svc.SetBoard(ctx, f.alice, m.ID, match.BoardRequest{Mode: bingo.ModeStraight})
	assert.ErrorIs(t, err, match.ErrBoardLocked)
	_, err = f.svc.SetBoard(ctx, f.alice, m.ID, match.BoardRequest{Numbers: []int{1, 2}})
	assert.ErrorIs(t, err, match.ErrBoardLocked)
}

func TestMakeMoveRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m, err := f.svc.Invite(ctx, f.alice, f.bob)
	require.NoError(t, err)
	_, err = f.svc.MakeMove(ctx, f.alice, m.ID, 1)
	assert.ErrorIs(t, err, match.ErrNotInProgress)

	id := f.startedMatch(t)

	_, err = f.svc.MakeMove(ctx, uuid.New(), id, 1)
	assert.ErrorIs(t, err, match.ErrNotParticipant)

	_, err = f.svc.MakeMove(ctx, f.bob, id, 1)
	assert.ErrorIs(t, err, match.ErrNotYourTurn)

	for _, n := range []int{0, 26, -3} {
		_, err = f.svc.MakeMove(ctx, f.alice, id, n)
		assert.ErrorIs(t, err, match.ErrInvalidNumber)
	}

	res, err := f.svc.MakeMove(ctx, f.alice, id, 13)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Move.Seq)
	assert.Equal(t, f.bob, res.NextTurnUserID)

	_, err = f.svc.MakeMove(ctx, f.bob, id, 13)
	assert.ErrorIs(t, err, match.ErrNumberAlreadyCalled)

	// a rejected move keeps the turn
	res, err = f.svc.MakeMove(ctx, f.bob, id, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Move.Seq)
	assert.Equal(t, f.alice, res.NextTurnUserID)
}

func TestMovesAlternateWithContiguousSequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.startedMatch(t)
	f.callNumbers(t, id, 25, 3, 17, 9, 1, 12)

	st, err := f.svc.State(ctx, f.bob, id)
	require.NoError(t, err)
	require.Len(t, st.Moves, 6)
	for i, mv := range st.Moves {
		assert.Equal(t, i+1, mv.Seq)
		if i%2 == 0 {
			assert.Equal(t, f.alice, mv.UserID)
		} else {
			assert.Equal(t, f.bob, mv.UserID)
		}
	}
	assert.Equal(t, f.alice, *st.Match.CurrentTurnUserID)
}

func TestMoveNotificationsCarryEachPerspective(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.startedMatch(t)
	f.callNumbers(t, id, 1, 2, 3, 4)

	// alice (straight) completes row 0; bob (reversed) has 1..5 in his last row
	res, err := f.svc.MakeMove(ctx, f.alice, id, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.YourLines)
	assert.Equal(t, 1, res.OpponentLines)

	ev, ok := f.notifier.last(f.bob, match.EventMoveMade)
	require.True(t, ok)
	payload := ev.Payload.(map[string]interface{})
	assert.Equal(t, f.bob, payload["next_turn_user_id"])
	assert.Equal(t, 1, payload["your_lines"])
}

func TestStateHidesOpponentBoard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.startedMatch(t)

	st, err := f.svc.State(ctx, f.bob, id)
	require.NoError(t, err)
	assert.Equal(t, reversedBoard(), st.YourBoard)
	require.Len(t, st.Players, 2)
	for _, p := range st.Players {
		assert.True(t, p.HasBoard)
		assert.False(t, p.IsWinner)
		assert.Equal(t, p.UserID == f.alice, p.IsCurrentTurn)
	}
	assert.Empty(t, st.Moves)

	_, err = f.svc.State(ctx, uuid.New(), id)
	assert.ErrorIs(t, err, match.ErrNotParticipant)
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	list, err := f.svc.List(ctx, f.alice)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	m, err := f.svc.Invite(ctx, f.alice, f.bob)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, f.bob, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = f.svc.Get(ctx, uuid.New(), m.ID)
	assert.ErrorIs(t, err, match.ErrNotParticipant)

	_, err = f.svc.Get(ctx, f.alice, uuid.New())
	assert.ErrorIs(t, err, match.ErrMatchNotFound)

	list, err = f.svc.List(ctx, f.bob)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConcurrentBoardsStartExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const matches = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < matches; i++ {
		m, err := f.svc.Invite(ctx, f.alice, f.bob)
		require.NoError(t, err)
		_, err = f.svc.AcceptInvite(ctx, f.bob, m.ID)
		require.NoError(t, err)

		for _, player := range []uuid.UUID{f.alice, f.bob} {
			wg.Add(1)
			go func(player, matchID uuid.UUID) {
				defer wg.Done()
				res, err := f.svc.SetBoard(ctx, player, matchID, match.BoardRequest{Mode: bingo.ModeRandom})
				if assert.NoError(t, err) && res.Started {
					mu.Lock()
					started++
					mu.Unlock()
				}
			}(player, m.ID)
		}
	}
	wg.Wait()

	assert.Equal(t, matches, started)
	// match_started goes to both players of each match
	assert.Equal(t, 2*matches, f.notifier.count(match.EventMatchStarted))
}

func TestConcurrentMovesOnOneTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.startedMatch(t)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for n := 1; n <= 10; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.svc.MakeMove(ctx, f.alice, id, n)
			results <- err
		}(n)
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, match.ErrNotYourTurn)
		}
	}
	assert.Equal(t, 1, ok)

	st, err := f.svc.State(ctx, f.alice, id)
	require.NoError(t, err)
	assert.Len(t, st.Moves, 1)
}

func TestActionsArePublished(t *testing.T) {
	f := newFixture(t)
	id := f.startedMatch(t)
	f.callNumbers(t, id, 4, 8)

	f.actions.mu.Lock()
	defer f.actions.mu.Unlock()
	var types []string
	for _, a := range f.actions.actions {
		types = append(types, a.ActionType)
	}
	assert.Equal(t, []string{
		models.ActionInvite,
		models.ActionAccept,
		models.ActionSetBoard,
		models.ActionSetBoard,
		models.ActionStart,
		models.ActionMove,
		models.ActionMove,
	}, types)
	last := f.actions.actions[len(f.actions.actions)-1]
	assert.Equal(t, 2, last.Sequence)
	assert.Equal(t, id, last.MatchID)
}
