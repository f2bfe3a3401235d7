package analysis

import (
	"sort"
	"strings"

	"github.com/jacokyle01/analysis-bridge/internal/models"
	"github.com/jacokyle01/analysis-bridge/internal/position"
)

// Line is the latest report for one variation slot, stamped with the
// position it was computed for.
type Line struct {
	Fields
	Position position.Position
	san      string
}

// Model renders the line for the wire, scores relative to white.
func (l Line) Model() models.AnalysisLine {
	return models.AnalysisLine{
		Score:    l.Score.Format(l.Position.WhiteToMove()),
		Depth:    l.Depth,
		Nodes:    l.Nodes,
		UCIMoves: strings.Join(l.Moves, " "),
		FEN:      l.Position.String(),
		SAN:      l.san,
	}
}

// State holds the most recent line per slot for the current search. It is
// not safe for concurrent use; the coordinator owns it.
type State struct {
	lines map[int]Line
}

// NewState returns an empty State.
func NewState() *State {
	return &State{lines: make(map[int]Line)}
}

// Clear drops every slot.
func (s *State) Clear() {
	clear(s.lines)
}

// Len returns the number of occupied slots.
func (s *State) Len() int {
	return len(s.lines)
}

// Update stores f in its slot, stamped with pos. Slot 1 at depth 1 marks a
// fresh search, so it clears all slots first; Update reports whether that
// happened.
func (s *State) Update(f Fields, pos position.Position) (cleared bool) {
	if f.Slot == 1 && f.Depth == 1 {
		s.Clear()
		cleared = true
	}
	line := Line{Fields: f, Position: pos}
	if san, err := pos.SAN(f.Moves); err == nil {
		line.san = strings.Join(san, " ")
	}
	s.lines[f.Slot] = line
	return cleared
}

// Lines returns the occupied slots in ascending slot order.
func (s *State) Lines() []Line {
	out := make([]Line, 0, len(s.lines))
	for _, l := range s.lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Snapshot builds a fresh wire snapshot for pos, best line first.
func (s *State) Snapshot(pos position.Position) models.Snapshot {
	lines := s.Lines()
	snap := models.Snapshot{
		FEN:   pos.String(),
		Lines: make([]models.AnalysisLine, 0, len(lines)),
	}
	for _, l := range lines {
		snap.Lines = append(snap.Lines, l.Model())
	}
	return snap
}
