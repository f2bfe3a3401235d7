package models

// Inbound command types.
const (
	TypeAnalyze = "analyze"
	TypeStop    = "stop"
)

// Outbound acknowledgement types.
const (
	TypeStopped = "stopped"
)

// Command is a client request. Only analyze carries a payload: the
// position descriptor to search ("startpos" or a FEN).
type Command struct {
	Type string `json:"type"`
	FEN  string `json:"fen,omitempty"`
}

// Ack acknowledges a client command that produces no analysis.
type Ack struct {
	Type string `json:"type"`
}

// Stopped is sent once a stop request has been forwarded to the engine.
var Stopped = Ack{Type: TypeStopped}
