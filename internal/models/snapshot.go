package models

// Snapshot is every current variation for one position, best line first.
type Snapshot struct {
	FEN   string         `json:"fen"`
	Lines []AnalysisLine `json:"lines"`
}
