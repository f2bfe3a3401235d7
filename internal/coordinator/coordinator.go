// Package coordinator owns the analysis state machine. Engine output and
// client commands are posted to one mailbox and applied by a single
// goroutine, so the current position, the per-slot lines and the search
// phase never need a lock.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jacokyle01/analysis-bridge/internal/analysis"
	"github.com/jacokyle01/analysis-bridge/internal/log"
	"github.com/jacokyle01/analysis-bridge/internal/models"
	"github.com/jacokyle01/analysis-bridge/internal/position"
	"github.com/jacokyle01/analysis-bridge/internal/pubsub"
)

const (
	mailboxSize    = 256
	defaultMultiPV = 4
	statusLines    = 4
)

// ErrEngineTerminated is returned by Run when the engine goes away.
var ErrEngineTerminated = errors.New("engine terminated")

// Engine accepts UCI commands.
type Engine interface {
	Send(cmd string) error
}

// Broadcaster delivers outbound messages to the client, if one is
// connected.
type Broadcaster interface {
	Broadcast(v any)
}

// Recall remembers the last snapshot per position.
type Recall interface {
	Lookup(fen string) (models.Snapshot, bool)
	Store(snap models.Snapshot)
}

// Options configure a Coordinator. Zero values are usable.
type Options struct {
	MultiPV       int
	EngineOptions map[string]string // sent as setoption during the handshake
	Recall        Recall
	Status        pubsub.Publisher[models.Status]
	Tracer        trace.Tracer
}

// Coordinator serialises engine events and client commands.
type Coordinator struct {
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer

	events chan event
	quit   chan struct{}

	status   atomic.Pointer[models.Status]
	snapshot atomic.Pointer[models.Snapshot]

	// Owned by the Run goroutine.
	eng           Engine
	out           Broadcaster
	engineState   string
	phase         string
	client        string
	pos           position.Position
	state         *analysis.State
	pendingProbes int
	// Set by analyze until the new search reports slot 1 at depth 1.
	awaitingSearch bool
}

// New returns a Coordinator. Events posted before Run are buffered.
func New(opts Options) *Coordinator {
	if opts.MultiPV < 1 {
		opts.MultiPV = defaultMultiPV
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	c := &Coordinator{
		opts:        opts,
		logger:      log.For("coordinator"),
		tracer:      tracer,
		events:      make(chan event, mailboxSize),
		quit:        make(chan struct{}),
		engineState: models.EngineStarting,
		phase:       models.PhaseIdle,
		state:       analysis.NewState(),
	}
	c.status.Store(&models.Status{
		Engine:    c.engineState,
		Phase:     c.phase,
		UpdatedAt: time.Now(),
	})
	return c
}

// Analyze requests analysis of fen ("startpos" or a FEN).
func (c *Coordinator) Analyze(fen string) { c.post(analyzeEvent{fen: fen}) }

// Stop requests the search be halted.
func (c *Coordinator) Stop() { c.post(stopEvent{}) }

// ClientConnected records the live client.
func (c *Coordinator) ClientConnected(id string) { c.post(connectedEvent{id: id}) }

// ClientDisconnected stops the search bound to the departed client.
func (c *Coordinator) ClientDisconnected(id string) { c.post(disconnectedEvent{id: id}) }

// EngineLine classifies one line of engine output. It runs on the engine's
// reader goroutine; anything that is neither a control token nor an
// analysis line is dropped here.
func (c *Coordinator) EngineLine(line string) {
	line = strings.TrimSpace(line)
	switch line {
	case tokenUCIOK, tokenReadyOK:
		c.post(tokenEvent{token: line})
		return
	}
	if f, ok := analysis.Parse(line); ok {
		c.post(lineEvent{fields: f})
	}
}

// EngineTerminated reports that the engine process is gone.
func (c *Coordinator) EngineTerminated(err error) { c.post(terminatedEvent{err: err}) }

func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

// Status returns the latest published status.
func (c *Coordinator) Status() models.Status {
	return *c.status.Load()
}

// Snapshot returns the most recent broadcast snapshot for the current
// position.
func (c *Coordinator) Snapshot() (models.Snapshot, bool) {
	snap := c.snapshot.Load()
	if snap == nil {
		return models.Snapshot{}, false
	}
	return *snap, true
}

// Run performs the engine handshake and then applies events until ctx is
// cancelled or the engine terminates. Engine termination is returned as an
// error wrapping ErrEngineTerminated.
func (c *Coordinator) Run(ctx context.Context, eng Engine, out Broadcaster) error {
	defer close(c.quit)
	c.eng = eng
	c.out = out

	c.handshake()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) handshake() {
	c.send("uci")
	c.send(fmt.Sprintf("setoption name MultiPV value %d", c.opts.MultiPV))
	for _, name := range slices.Sorted(maps.Keys(c.opts.EngineOptions)) {
		c.send(fmt.Sprintf("setoption name %s value %s", name, c.opts.EngineOptions[name]))
	}
	c.probe()
}

func (c *Coordinator) handle(ctx context.Context, ev event) error {
	switch ev := ev.(type) {
	case terminatedEvent:
		c.phase = models.PhaseFatal
		c.engineState = models.EngineTerminated
		c.publish()
		c.logger.Error().Err(ev.err).Msg("engine terminated")
		return fmt.Errorf("%w: %w", ErrEngineTerminated, ev.err)
	case tokenEvent:
		c.handleToken(ev.token)
	case lineEvent:
		c.handleLine(ev.fields)
	case connectedEvent:
		c.client = ev.id
		c.publish()
	case disconnectedEvent:
		c.handleDisconnect(ctx, ev.id)
	case analyzeEvent:
		c.handleAnalyze(ctx, ev.fen)
	case stopEvent:
		c.handleStop(ctx)
	}
	return nil
}

func (c *Coordinator) handleToken(token string) {
	switch token {
	case tokenUCIOK:
		if c.engineState == models.EngineStarting {
			c.engineState = models.EngineUCI
		}
	case tokenReadyOK:
		if c.pendingProbes > 0 {
			c.pendingProbes--
		}
		c.engineState = models.EngineReady
	}
	c.publish()
}

// handleLine applies an analysis line. A line is stale when a readiness
// probe is still outstanding, when the new search has not yet reported its
// first line, or when its principal variation cannot be played from the
// current position. readyok may arrive before the previous search has
// printed its last line.
func (c *Coordinator) handleLine(f analysis.Fields) {
	if c.phase != models.PhaseAnalyzing || c.pendingProbes > 0 {
		c.dropLine(f, "stale line")
		return
	}
	if c.awaitingSearch && (f.Slot != 1 || f.Depth != 1) {
		c.dropLine(f, "line before new search")
		return
	}
	if !c.pos.Plays(f.Moves) {
		c.dropLine(f, "line not playable in position")
		return
	}
	c.awaitingSearch = false
	if c.state.Update(f, c.pos) {
		c.logger.Debug().Str("position", c.pos.String()).Msg("new search")
	}
	snap := c.state.Snapshot(c.pos)
	c.snapshot.Store(&snap)
	if c.opts.Recall != nil {
		c.opts.Recall.Store(snap)
	}
	c.out.Broadcast(snap)
	c.publish()
}

func (c *Coordinator) dropLine(f analysis.Fields, reason string) {
	c.logger.Debug().
		Int("slot", f.Slot).
		Int("depth", f.Depth).
		Int("probes", c.pendingProbes).
		Int("slots", c.state.Len()).
		Str("position", c.pos.String()).
		Msg("dropping " + reason)
}

func (c *Coordinator) handleAnalyze(ctx context.Context, fen string) {
	if c.phase == models.PhaseFatal {
		return
	}
	pos, err := position.Parse(fen)
	if err != nil {
		c.logger.Warn().Err(err).Str("fen", fen).Msg("ignoring analyze request")
		return
	}

	_, span := c.tracer.Start(ctx, "coordinator.analyze", trace.WithAttributes(
		attribute.String("position", pos.String()),
		attribute.String("previous", c.pos.String()),
		attribute.Int("multipv", c.opts.MultiPV),
	))
	defer span.End()

	c.send("stop")
	c.pos = pos
	c.state.Clear()
	c.snapshot.Store(nil)
	c.send(pos.Command())
	c.probe()
	c.send("go infinite")
	c.phase = models.PhaseAnalyzing
	c.awaitingSearch = true
	c.logger.Info().Str("position", pos.String()).Msg("analyzing")

	if c.opts.Recall != nil {
		if snap, ok := c.opts.Recall.Lookup(pos.String()); ok {
			span.AddEvent("recall.hit", trace.WithAttributes(attribute.Int("lines", len(snap.Lines))))
			c.snapshot.Store(&snap)
			c.out.Broadcast(snap)
		}
	}
	c.publish()
}

func (c *Coordinator) handleStop(ctx context.Context) {
	if c.phase == models.PhaseFatal {
		return
	}
	_, span := c.tracer.Start(ctx, "coordinator.stop", trace.WithAttributes(
		attribute.String("position", c.pos.String()),
	))
	defer span.End()

	c.send("stop")
	c.phase = models.PhaseIdle
	c.out.Broadcast(models.Stopped)
	c.logger.Info().Msg("analysis stopped")
	c.publish()
}

func (c *Coordinator) handleDisconnect(ctx context.Context, id string) {
	if id == c.client {
		c.client = ""
	}
	if c.phase == models.PhaseFatal {
		c.publish()
		return
	}
	_, span := c.tracer.Start(ctx, "coordinator.disconnect", trace.WithAttributes(
		attribute.String("client", id),
		attribute.String("position", c.pos.String()),
	))
	defer span.End()

	c.send("stop")
	c.phase = models.PhaseIdle
	c.publish()
}

// probe sends isready; analysis lines are ignored until it is answered.
func (c *Coordinator) probe() {
	if c.send("isready") {
		c.pendingProbes++
	}
}

func (c *Coordinator) send(cmd string) bool {
	if err := c.eng.Send(cmd); err != nil {
		c.logger.Warn().Err(err).Str("cmd", cmd).Msg("engine command failed")
		return false
	}
	return true
}

func (c *Coordinator) publish() {
	st := models.Status{
		Engine:    c.engineState,
		Phase:     c.phase,
		Client:    c.client,
		Position:  c.pos.String(),
		UpdatedAt: time.Now(),
	}
	if snap := c.snapshot.Load(); snap != nil {
		st.Lines = snap.Lines[:min(len(snap.Lines), statusLines)]
	}
	c.status.Store(&st)
	if c.opts.Status != nil {
		c.opts.Status.Publish(st)
	}
}
