// Package analysis turns UCI "info" output into per-variation lines and
// aggregates the latest line for each multi-PV slot.
package analysis

import (
	"strconv"
	"strings"
)

// ScoreKind distinguishes centipawn evaluations from forced mates.
type ScoreKind int

const (
	Centipawn ScoreKind = iota
	Mate
)

func (k ScoreKind) String() string {
	if k == Mate {
		return "mate"
	}
	return "cp"
}

// Score is an evaluation exactly as the engine reported it, i.e. from the
// point of view of the side to move.
type Score struct {
	Kind  ScoreKind
	Value int
}

// Format renders the score from white's point of view: centipawns as pawns
// with two decimals, mates as "#" and the signed move count.
func (s Score) Format(whiteToMove bool) string {
	v := s.Value
	if !whiteToMove {
		v = -v
	}
	if s.Kind == Mate {
		return "#" + strconv.Itoa(v)
	}
	return formatPawns(v)
}

// formatPawns divides by 100 in integer arithmetic so that values such as
// -45 render as "-0.45" without float rounding.
func formatPawns(cp int) string {
	sign := ""
	if cp < 0 {
		sign = "-"
		cp = -cp
	}
	return sign + strconv.Itoa(cp/100) + "." + twoDigits(cp%100)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// Fields is one parsed multi-PV analysis line.
type Fields struct {
	Depth    int
	SelDepth int // zero when the engine omits it
	Slot     int
	Score    Score
	Nodes    uint64
	Moves    []string
}

// Parse extracts an analysis line from raw engine output. Only lines that
// start with "info" and carry a "multipv" field are candidates. depth,
// multipv, score, nodes and pv are required and must appear in that order;
// anything missing or malformed yields false.
func Parse(line string) (Fields, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 2 || tokens[0] != "info" || tokens[1] == "string" {
		return Fields{}, false
	}

	var (
		f                                         Fields
		haveDepth, haveSlot, haveScore, haveNodes bool
	)

	for i := 1; i < len(tokens); i++ {
		switch tokens[i] {
		case "depth":
			n, ok := intAt(tokens, i+1)
			if !ok || n < 0 {
				return Fields{}, false
			}
			f.Depth, haveDepth = n, true
			i++
		case "seldepth":
			if n, ok := intAt(tokens, i+1); ok {
				f.SelDepth = n
				i++
			}
		case "multipv":
			n, ok := intAt(tokens, i+1)
			if !ok || n < 1 || !haveDepth {
				return Fields{}, false
			}
			f.Slot, haveSlot = n, true
			i++
		case "score":
			if i+2 >= len(tokens) || !haveSlot {
				return Fields{}, false
			}
			switch tokens[i+1] {
			case "cp":
				f.Score.Kind = Centipawn
			case "mate":
				f.Score.Kind = Mate
			default:
				return Fields{}, false
			}
			n, ok := intAt(tokens, i+2)
			if !ok {
				return Fields{}, false
			}
			f.Score.Value, haveScore = n, true
			i += 2
		case "nodes":
			if i+1 >= len(tokens) || !haveScore {
				return Fields{}, false
			}
			n, err := strconv.ParseUint(tokens[i+1], 10, 64)
			if err != nil {
				return Fields{}, false
			}
			f.Nodes, haveNodes = n, true
			i++
		case "pv":
			if !haveNodes || i+1 >= len(tokens) {
				return Fields{}, false
			}
			f.Moves = append([]string(nil), tokens[i+1:]...)
			return f, true
		}
	}
	return Fields{}, false
}

func intAt(tokens []string, i int) (int, bool) {
	if i >= len(tokens) {
		return 0, false
	}
	n, err := strconv.Atoi(tokens[i])
	if err != nil {
		return 0, false
	}
	return n, true
}
