// Package bridge wires the engine, coordinator, session manager and
// transport together and owns the shutdown sequence.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jacokyle01/analysis-bridge/internal/config"
	"github.com/jacokyle01/analysis-bridge/internal/coordinator"
	"github.com/jacokyle01/analysis-bridge/internal/engine"
	"github.com/jacokyle01/analysis-bridge/internal/log"
	"github.com/jacokyle01/analysis-bridge/internal/models"
	"github.com/jacokyle01/analysis-bridge/internal/pubsub"
	"github.com/jacokyle01/analysis-bridge/internal/recall"
	"github.com/jacokyle01/analysis-bridge/internal/server"
	"github.com/jacokyle01/analysis-bridge/internal/session"
	"github.com/jacokyle01/analysis-bridge/internal/statusui"
	"github.com/jacokyle01/analysis-bridge/internal/tracing"
)

// Bridge is one running engine served to one client at a time.
type Bridge struct {
	cfg    config.Config
	logger zerolog.Logger

	statuses *pubsub.Broker[models.Status]
	tracer   *tracing.Provider
	recall   *recall.Cache
	diag     *diagnostics
	coord    *coordinator.Coordinator
	sessions *session.Manager
	eng      *engine.Engine
	srv      *server.Server
}

// diagnostics keeps the engine's most recent stderr line.
type diagnostics struct {
	last atomic.Pointer[string]
}

func (d *diagnostics) record(line string) { d.last.Store(&line) }

func (d *diagnostics) lastLine() string {
	if p := d.last.Load(); p != nil {
		return *p
	}
	return ""
}

// New starts the engine and binds the listener. Nothing is served until
// Run.
func New(cfg config.Config) (*Bridge, error) {
	logger := log.For("bridge")

	tp, err := tracing.NewProvider(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	statuses := pubsub.NewBroker[models.Status]()
	rec := recall.New(cfg.Recall.TTL)
	diag := &diagnostics{}
	coord := coordinator.New(coordinator.Options{
		MultiPV:       cfg.Engine.MultiPV,
		EngineOptions: cfg.Engine.Options,
		Recall:        rec,
		Status:        statuses,
		Tracer:        tp.Tracer(),
	})
	sessions := session.NewManager(coord)

	eng, err := engine.Start(engine.Config{
		Path:         cfg.Engine.Path,
		Args:         cfg.Engine.Args,
		GracePeriod:  cfg.Engine.GracePeriod,
		OnLine:       coord.EngineLine,
		OnDiagnostic: diag.record,
		OnExit:       coord.EngineTerminated,
	})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}

	srv := server.New(server.Config{
		Addr:         cfg.Listen,
		SendBuffer:   cfg.Session.SendBuffer,
		WriteTimeout: cfg.Session.WriteTimeout,
	}, sessions, coord)
	if err := srv.Listen(); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer cancel()
		_ = eng.Stop(ctx)
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	return &Bridge{
		cfg:      cfg,
		logger:   logger,
		statuses: statuses,
		tracer:   tp,
		recall:   rec,
		diag:     diag,
		coord:    coord,
		sessions: sessions,
		eng:      eng,
		srv:      srv,
	}, nil
}

// Addr returns the address the server is listening on.
func (b *Bridge) Addr() string {
	return b.srv.Addr()
}

// Run serves until ctx is cancelled, the engine dies, the server fails or
// the status display is closed, then shuts everything down. An engine death
// is returned as an error wrapping coordinator.ErrEngineTerminated.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	coordDone := make(chan error, 1)
	go func() { coordDone <- b.coord.Run(ctx, b.eng, b.sessions) }()

	serveDone := make(chan error, 1)
	go func() { serveDone <- b.srv.Serve() }()

	var uiDone chan error
	if b.cfg.StatusUI {
		uiDone = make(chan error, 1)
		model := statusui.New(b.Addr(), b.coord.Status(), b.statuses.Subscribe(ctx), log.Subscribe(ctx))
		go func() { uiDone <- statusui.Run(ctx, model) }()
	}

	b.logger.Info().
		Str("addr", b.Addr()).
		Str("engine", b.eng.Path()).
		Int("pid", b.eng.PID()).
		Bool("recall", b.recall.Enabled()).
		Bool("tracing", b.tracer.Enabled()).
		Msg("bridge running")

	var err error
	coordFinished := false
	select {
	case <-ctx.Done():
		b.logger.Info().Msg("shutdown requested")
	case err = <-coordDone:
		coordFinished = true
	case err = <-serveDone:
		if err == nil {
			err = errors.New("server stopped unexpectedly")
		}
	case err = <-uiDone:
		b.logger.Info().Msg("status display closed")
	}

	cancel()
	if !coordFinished {
		if cerr := <-coordDone; cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		ev := b.logger.Error().Err(err)
		if errors.Is(err, coordinator.ErrEngineTerminated) {
			if line := b.diag.lastLine(); line != "" {
				ev = ev.Str("last_diagnostic", line)
			}
		}
		ev.Msg("bridge stopping")
	}
	return errors.Join(err, b.shutdown())
}

// shutdown runs every step even when an earlier one fails.
func (b *Bridge) shutdown() error {
	var errs []error
	step := func(name string, fn func(ctx context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Shutdown.Timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			b.logger.Warn().Err(err).Str("step", name).Msg("shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		b.logger.Debug().Str("step", name).Dur("took", time.Since(start)).Msg("shutdown step done")
	}

	step("stop search", func(context.Context) error {
		select {
		case <-b.eng.Done():
			b.logger.Debug().Err(b.eng.Err()).Msg("engine already exited")
			return nil
		default:
		}
		if err := b.eng.Send("stop"); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			return err
		}
		return nil
	})
	step("close session", func(context.Context) error {
		return b.sessions.Close(session.CloseGoingAway, session.ReasonShutdown)
	})
	step("stop engine", b.eng.Stop)
	step("stop server", b.srv.Shutdown)
	step("flush traces", b.tracer.Shutdown)
	b.statuses.Close()

	b.logger.Info().Int("recall_entries", b.recall.Len()).Msg("bridge stopped")
	return errors.Join(errs...)
}
