package bingo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBoard(t *testing.T) {
	require.NoError(t, ValidateBoard(StraightBoard()))

	short := StraightBoard()[:24]
	err := ValidateBoard(short)
	require.ErrorIs(t, err, ErrInvalidBoard)
	assert.Contains(t, err.Error(), "wrong length")

	outOfRange := StraightBoard()
	outOfRange[3] = 26
	err = ValidateBoard(outOfRange)
	require.ErrorIs(t, err, ErrInvalidBoard)
	assert.Contains(t, err.Error(), "out-of-range")

	zero := StraightBoard()
	zero[0] = 0
	assert.ErrorIs(t, ValidateBoard(zero), ErrInvalidBoard)

	dup := StraightBoard()
	dup[10] = 1
	err = ValidateBoard(dup)
	require.ErrorIs(t, err, ErrInvalidBoard)
	assert.Contains(t, err.Error(), "duplicate value 1")
}

func TestStraightBoard(t *testing.T) {
	b := StraightBoard()
	require.Len(t, b, Cells)
	for i, n := range b {
		assert.Equal(t, i+1, n)
	}
}

func TestRandomBoardIsValid(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.NoError(t, ValidateBoard(RandomBoard()))
	}
}

func TestBuildBoard(t *testing.T) {
	b, err := BuildBoard(ModeStraight, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, StraightBoard(), b)

	custom := StraightBoard()
	custom[0], custom[24] = custom[24], custom[0]
	b, err = BuildBoard("", custom)
	require.NoError(t, err)
	assert.Equal(t, custom, b)

	// the returned board must not alias the caller's slice
	custom[1] = 99
	assert.Equal(t, 2, b[1])

	_, err = BuildBoard(ModeCustom, nil)
	assert.ErrorIs(t, err, ErrInvalidBoard)

	_, err = BuildBoard("diagonal", nil)
	assert.True(t, errors.Is(err, ErrInvalidBoard))
}

// Every accepted board has 25 distinct numbers in range.
func TestAcceptedBoardsAreWellFormed(t *testing.T) {
	candidates := [][]int{StraightBoard(), RandomBoard(), RandomBoard(), {1, 2}, append(StraightBoard(), 1)}
	for _, c := range candidates {
		if ValidateBoard(c) != nil {
			continue
		}
		require.Len(t, c, Cells)
		seen := map[int]bool{}
		for _, n := range c {
			assert.True(t, n >= 1 && n <= MaxNumber)
			assert.False(t, seen[n])
			seen[n] = true
		}
	}
}
