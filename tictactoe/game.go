package tictactoe

import "errors"

var (
	ErrGameOver    = errors.New("game-over")
	ErrNotAPlayer  = errors.New("not-a-player")
	ErrNotYourTurn = errors.New("not-your-turn")
	ErrInvalidCell = errors.New("invalid-cell")
	ErrCellTaken   = errors.New("cell-taken")
	ErrSamePlayer  = errors.New("same-player")
)

type Mark int8

const (
	Empty Mark = iota
	X
	O
)

type Status int8

const (
	InProgress Status = iota
	XWon
	OWon
	Draw
)

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Game is a single tic-tac-toe match. Players[0] plays X and moves first.
type Game struct {
	Board   [9]Mark
	Players [2]string
	Turn    Mark
	status  Status
	line    []int
}

func New(x, o string) (*Game, error) {
	if x == o {
		return nil, ErrSamePlayer
	}
	return &Game{Players: [2]string{x, o}, Turn: X}, nil
}

// MarkOf returns the mark played by the user, or Empty for outsiders.
func (g *Game) MarkOf(player string) Mark {
	switch player {
	case g.Players[0]:
		return X
	case g.Players[1]:
		return O
	}
	return Empty
}

func (g *Game) Play(player string, cell int) error {
	if g.status != InProgress {
		return ErrGameOver
	}
	mark := g.MarkOf(player)
	if mark == Empty {
		return ErrNotAPlayer
	}
	if mark != g.Turn {
		return ErrNotYourTurn
	}
	if cell < 0 || cell >= len(g.Board) {
		return ErrInvalidCell
	}
	if g.Board[cell] != Empty {
		return ErrCellTaken
	}

	g.Board[cell] = mark
	g.settle()
	if g.status == InProgress {
		g.Turn = other(mark)
	}
	return nil
}

func (g *Game) Status() Status {
	return g.status
}

// WinningLine is nil unless somebody won.
func (g *Game) WinningLine() []int {
	return g.line
}

// Rematch clears the board and swaps sides so the previous O opens.
func (g *Game) Rematch() {
	g.Players[0], g.Players[1] = g.Players[1], g.Players[0]
	g.Board = [9]Mark{}
	g.Turn = X
	g.status = InProgress
	g.line = nil
}

func (g *Game) settle() {
	for _, l := range lines {
		m := g.Board[l[0]]
		if m != Empty && m == g.Board[l[1]] && m == g.Board[l[2]] {
			g.line = []int{l[0], l[1], l[2]}
			if m == X {
				g.status = XWon
			} else {
				g.status = OWon
			}
			return
		}
	}
	for _, m := range g.Board {
		if m == Empty {
			return
		}
	}
	g.status = Draw
}

func other(m Mark) Mark {
	if m == X {
		return O
	}
	return X
}
