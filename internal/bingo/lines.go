// internal/bingo/lines.go
package bingo

// WinningLines is the completed-line count needed to claim bingo.
const WinningLines = 5

// Line holds the board indexes of one row, column or diagonal.
type Line [Size]int

// lines is the fixed table of all 12 lines: rows, columns, main diagonal, anti-diagonal.
var lines = buildLines()

func buildLines() []Line {
	out := make([]Line, 0, 2*Size+2)
	for r := 0; r < Size; r++ {
		var l Line
		for c := 0; c < Size; c++ {
			l[c] = r*Size + c
		}
		out = append(out, l)
	}
	for c := 0; c < Size; c++ {
		var l Line
		for r := 0; r < Size; r++ {
			l[r] = r*Size + c
		}
		out = append(out, l)
	}
	var diag, anti Line
	for i := 0; i < Size; i++ {
		diag[i] = i*Size + i
		anti[i] = i*Size + (Size - 1 - i)
	}
	return append(out, diag, anti)
}

// Lines returns a copy of the line table.
func Lines() []Line {
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// CountLines returns how many of the 12 lines have every number called.
// Numbers outside [1,25] in called are ignored.
func CountLines(board []int, called []int) int {
	if len(board) != Cells {
		return 0
	}
	var set [MaxNumber + 1]bool
	for _, n := range called {
		if n >= 1 && n <= MaxNumber {
			set[n] = true
		}
	}

	count := 0
	for _, l := range lines {
		complete := true
		for _, idx := range l {
			n := board[idx]
			if n < 1 || n > MaxNumber || !set[n] {
				complete = false
				break
			}
		}
		if complete {
			count++
		}
	}
	return count
}

// HasBingo reports whether a line count qualifies for a bingo claim.
func HasBingo(lineCount int) bool {
	return lineCount >= WinningLines
}
