// Package app assembles a viewer stack from configuration: the engine
// (in-process or a radview-engine daemon), the event bus, the session
// controller and, when enabled, the load history recorder.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mr-Dark-debug/radview/internal/config"
	"github.com/Mr-Dark-debug/radview/internal/database"
	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/event"
	"github.com/Mr-Dark-debug/radview/internal/history"
	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/remote"
	"github.com/Mr-Dark-debug/radview/internal/session"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

// ErrBusClosed is returned by Settle when the bus closes mid-load.
var ErrBusClosed = errors.New("event bus closed")

// Viewer owns every component of one viewing session.
type Viewer struct {
	Config     *config.Config
	Log        *logging.Logger
	Engine     engine.Engine
	Bus        *event.Bus
	Controller *session.Controller
	// Store and Recorder are nil when history is disabled.
	Store    database.Store
	Recorder *history.Recorder

	closers []func() error
}

// Open builds the stack and initializes the controller. On error every
// component opened so far is closed again.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Viewer, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	v := &Viewer{Config: cfg, Log: log}

	registry, err := tools.NewRegistryFrom(cfg.ToolDescriptors())
	if err != nil {
		return nil, err
	}

	eng, closeEngine, err := NewEngine(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	v.Engine = eng
	v.closers = append(v.closers, closeEngine)

	if cfg.History.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.History.DBPath), 0o755); err != nil {
			v.Close()
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		store, err := database.NewDBService(cfg.History.DBPath)
		if err != nil {
			v.Close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
		v.Store = store
		v.closers = append(v.closers, store.Close)
	}

	v.Bus = event.NewBus(eng, event.Options{Buffer: cfg.Viewer.EventBuffer, Logger: log})
	v.Controller = session.NewController(eng, registry, v.Bus, session.Options{
		ContainerID: cfg.Viewer.ContainerID,
		Logger:      log,
	})
	// The controller closes first: it still needs the engine and the store.
	v.closers = append(v.closers, func() error {
		v.Bus.Close()
		return nil
	}, v.Controller.Close)

	if v.Store != nil {
		v.Recorder = history.NewRecorder(v.Store, history.Options{
			ContainerID: cfg.Viewer.ContainerID,
			Logger:      log,
		})
		v.Recorder.Attach(v.Controller)
	}

	if err := v.Controller.Init(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// NewEngine returns the engine selected by cfg.Engine.Mode and a func that
// releases it.
func NewEngine(ctx context.Context, cfg *config.Config, log *logging.Logger) (engine.Engine, func() error, error) {
	switch cfg.Engine.Mode {
	case config.ModeRemote:
		client, err := remote.Dial(ctx, cfg.Engine.Network, cfg.Engine.Address, remote.ClientOptions{
			Timeout: cfg.Engine.RequestTimeout,
			Logger:  log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to engine at %s: %w", cfg.Engine.Address, err)
		}
		return client, client.Close, nil
	default:
		local := engine.NewLocal(engine.LocalOptions{
			Containers: []string{cfg.Viewer.ContainerID},
			Workers:    cfg.Engine.Workers,
			Throttle:   cfg.Engine.Throttle,
			Logger:     log,
		})
		return local, func() error {
			local.Wait()
			return nil
		}, nil
	}
}

// Settle publishes bus events until the session leaves Loading, then
// returns the session. Call it from the goroutine that owns the controller.
func (v *Viewer) Settle(ctx context.Context) (session.Session, error) {
	for {
		if s := v.Controller.Session(); s.State != session.Loading {
			return s, nil
		}
		select {
		case ev := <-v.Bus.Events():
			v.Bus.Publish(ev)
		case <-v.Bus.Done():
			return v.Controller.Session(), ErrBusClosed
		case <-ctx.Done():
			return v.Controller.Session(), ctx.Err()
		}
	}
}

// Close releases components in reverse order of creation and joins their
// errors. Safe to call more than once.
func (v *Viewer) Close() error {
	var errs []error
	for i := len(v.closers) - 1; i >= 0; i-- {
		if err := v.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	v.closers = nil
	return errors.Join(errs...)
}
