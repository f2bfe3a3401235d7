package models

import "time"

// Engine states reported in Status.
const (
	EngineStarting   = "starting"
	EngineUCI        = "uci"
	EngineReady      = "ready"
	EngineTerminated = "terminated"
)

// Phases of the analysis state machine.
const (
	PhaseIdle      = "idle"
	PhaseAnalyzing = "analyzing"
	PhaseFatal     = "fatal"
)

// Status describes the bridge at one point in time. It is published after
// every coordinator transition and served by the health endpoint.
type Status struct {
	Engine    string         `json:"engine"`
	Phase     string         `json:"phase"`
	Client    string         `json:"client,omitempty"`
	Position  string         `json:"position,omitempty"`
	Lines     []AnalysisLine `json:"lines,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
