// internal/bingo/board.go
package bingo

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	Size      = 5
	Cells     = Size * Size
	MaxNumber = Cells
)

// ErrInvalidBoard is wrapped by every board validation failure.
var ErrInvalidBoard = errors.New("invalid board")

// Mode selects how a board is produced.
type Mode string

const (
	ModeCustom   Mode = "custom"
	ModeStraight Mode = "straight"
	ModeRandom   Mode = "random"
)

// ValidateBoard accepts exactly 25 distinct numbers in [1,25].
func ValidateBoard(numbers []int) error {
	if len(numbers) != Cells {
		return fmt.Errorf("%w: wrong length, expected %d numbers, got %d", ErrInvalidBoard, Cells, len(numbers))
	}
	var seen [MaxNumber + 1]bool
	for i, n := range numbers {
		if n < 1 || n > MaxNumber {
			return fmt.Errorf("%w: out-of-range value %d at position %d", ErrInvalidBoard, n, i)
		}
		if seen[n] {
			return fmt.Errorf("%w: duplicate value %d at position %d", ErrInvalidBoard, n, i)
		}
		seen[n] = true
	}
	return nil
}

// StraightBoard returns 1..25 in row-major order.
func StraightBoard() []int {
	b := make([]int, Cells)
	for i := range b {
		b[i] = i + 1
	}
	return b
}

// RandomBoard returns a uniformly shuffled board.
func RandomBoard() []int {
	b := StraightBoard()
	rand.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
	return b
}

// BuildBoard produces a validated board for the given mode. An empty mode means custom.
func BuildBoard(mode Mode, numbers []int) ([]int, error) {
	switch mode {
	case ModeStraight:
		return StraightBoard(), nil
	case ModeRandom:
		return RandomBoard(), nil
	case ModeCustom, "":
		if err := ValidateBoard(numbers); err != nil {
			return nil, err
		}
		out := make([]int, len(numbers))
		copy(out, numbers)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidBoard, mode)
	}
}
