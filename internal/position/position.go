// Package position validates position descriptors and answers the two
// questions the bridge asks of a board: whose turn it is, and how a UCI
// move sequence reads in algebraic notation.
package position

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

// StartPos is the descriptor for the standard initial position.
const StartPos = "startpos"

var (
	// ErrEmpty is returned for a blank descriptor.
	ErrEmpty = errors.New("position: empty descriptor")
	// ErrIllegalMove is returned by SAN for a move the side to move cannot
	// play.
	ErrIllegalMove = errors.New("position: illegal move")
)

// Position is an immutable position descriptor. The zero value is not a
// valid position; use Parse.
type Position struct {
	descriptor string
	board      *chess.Position
}

// Parse validates a descriptor: either StartPos or a FEN string.
func Parse(descriptor string) (Position, error) {
	d := strings.Join(strings.Fields(descriptor), " ")
	if d == "" {
		return Position{}, ErrEmpty
	}
	if d == StartPos {
		return Position{descriptor: d, board: chess.NewGame().Position()}, nil
	}

	opt, err := chess.FEN(d)
	if err != nil {
		return Position{}, fmt.Errorf("position: invalid FEN %q: %w", d, err)
	}
	return Position{descriptor: d, board: chess.NewGame(opt).Position()}, nil
}

// MustParse is Parse for descriptors known to be valid.
func MustParse(descriptor string) Position {
	p, err := Parse(descriptor)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the descriptor as the client sent it (whitespace normalized).
func (p Position) String() string {
	return p.descriptor
}

// IsZero reports whether p was never set.
func (p Position) IsZero() bool {
	return p.board == nil
}

// WhiteToMove reports whether the first-moving side is to move. Engines
// report scores from the side to move; callers flip them when this is false.
func (p Position) WhiteToMove() bool {
	if p.board == nil {
		return true
	}
	return p.board.Turn() == chess.White
}

// Command returns the UCI command that sets this position.
func (p Position) Command() string {
	if p.descriptor == StartPos {
		return "position startpos"
	}
	return "position fen " + p.descriptor
}

// SAN converts a UCI move sequence played from p into standard algebraic
// notation. Conversion stops with an error at the first move that does not
// apply to the position reached so far.
func (p Position) SAN(moves []string) ([]string, error) {
	if p.IsZero() {
		return nil, ErrEmpty
	}
	out := make([]string, 0, len(moves))
	board := p.board
	for _, m := range moves {
		decoded, err := chess.UCINotation{}.Decode(board, m)
		if err != nil {
			return out, fmt.Errorf("position: move %q: %w", m, err)
		}
		move := legal(board, decoded)
		if move == nil {
			return out, fmt.Errorf("%w %q", ErrIllegalMove, m)
		}
		out = append(out, chess.AlgebraicNotation{}.Encode(board, move))
		board = board.Update(move)
	}
	return out, nil
}

// legal returns the valid move on board matching m, or nil. Decoding alone
// does not check legality.
func legal(board *chess.Position, m *chess.Move) *chess.Move {
	for _, v := range board.ValidMoves() {
		if v.S1() == m.S1() && v.S2() == m.S2() && v.Promo() == m.Promo() {
			return v
		}
	}
	return nil
}

// Plays reports whether the first move of a UCI sequence is legal in p.
// An empty sequence is accepted.
func (p Position) Plays(moves []string) bool {
	if p.IsZero() {
		return false
	}
	if len(moves) == 0 {
		return true
	}
	_, err := p.SAN(moves[:1])
	return err == nil
}
