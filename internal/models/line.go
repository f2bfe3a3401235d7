package models

// AnalysisLine is one evaluated variation as sent to the client.
type AnalysisLine struct {
	Score    string `json:"score"` // pawns relative to white ("1.23") or mate ("#-3")
	Depth    int    `json:"depth"`
	Nodes    uint64 `json:"nodes"`
	UCIMoves string `json:"uciMoves"`
	FEN      string `json:"fen"`
	SAN      string `json:"san,omitempty"`
}
