package coordinator

import "github.com/jacokyle01/analysis-bridge/internal/analysis"

// Control tokens the coordinator reacts to.
const (
	tokenUCIOK   = "uciok"
	tokenReadyOK = "readyok"
)

type event interface{ isEvent() }

type analyzeEvent struct{ fen string }

type stopEvent struct{}

type connectedEvent struct{ id string }

type disconnectedEvent struct{ id string }

// tokenEvent is a recognised control token.
type tokenEvent struct{ token string }

// lineEvent is an analysis line already parsed on the reader goroutine.
type lineEvent struct{ fields analysis.Fields }

type terminatedEvent struct{ err error }

func (analyzeEvent) isEvent()      {}
func (stopEvent) isEvent()         {}
func (connectedEvent) isEvent()    {}
func (disconnectedEvent) isEvent() {}
func (tokenEvent) isEvent()        {}
func (lineEvent) isEvent()         {}
func (terminatedEvent) isEvent()   {}
