package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/event"
	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/orientation"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

// DefaultContainerID is the container bound when Options leaves it empty.
const DefaultContainerID = "layerGroup0"

// Reason says which operation or event produced a Change.
type Reason string

const (
	ReasonInit        Reason = "init"
	ReasonLoad        Reason = "load"
	ReasonProgress    Reason = "progress"
	ReasonData        Reason = "data"
	ReasonLoaded      Reason = "loaded"
	ReasonFailed      Reason = "failed"
	ReasonTool        Reason = "tool"
	ReasonOrientation Reason = "orientation"
	ReasonReset       Reason = "reset"
	ReasonClosed      Reason = "closed"
)

// Change is delivered to watchers after every mutation.
type Change struct {
	Session     Session                 `json:"session"`
	Tool        tools.Tool              `json:"tool"`
	Orientation orientation.Orientation `json:"orientation"`
	Reason      Reason                  `json:"reason"`
	At          time.Time               `json:"at"`
	// Files is the requested batch, set only for ReasonLoad.
	Files []engine.File `json:"files,omitempty"`
}

// Options configures a Controller.
type Options struct {
	ContainerID string
	Logger      *logging.Logger
}

// Controller is the only writer of its Session. It is not safe for
// concurrent use: call it, and drain its bus, from one goroutine.
type Controller struct {
	eng      engine.Engine
	registry *tools.Registry
	bus      *event.Bus
	opts     Options
	log      *logging.Logger

	session  Session
	tool     tools.Tool
	orient   orientation.Orientation
	viewport *Viewport
	initErr  error
	closed   bool

	// per-generation bookkeeping
	rendered  bool
	loadEnded bool

	pipeline *loadPipeline

	watchers  []watcher
	nextWatch uint64
}

type watcher struct {
	id uint64
	fn func(Change)
}

// NewController wires a controller to an engine, its tool catalog and the
// bus relaying that engine's events. Nothing touches the engine until Init.
func NewController(eng engine.Engine, registry *tools.Registry, bus *event.Bus, opts Options) *Controller {
	if opts.ContainerID == "" {
		opts.ContainerID = DefaultContainerID
	}
	log := opts.Logger
	if log == nil {
		log = logging.NopLogger()
	}
	c := &Controller{
		eng:      eng,
		registry: registry,
		bus:      bus,
		opts:     opts,
		log:      log.WithComponent("session"),
		session:  Session{Metadata: map[string]map[string]string{}},
	}
	c.pipeline = newLoadPipeline(c)
	return c
}

// Init binds the viewport and installs the tool set. An engine failure is
// returned as *EngineInitError and leaves the controller permanently
// unusable.
func (c *Controller) Init(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.initErr != nil {
		return c.initErr
	}
	if c.viewport != nil {
		return nil
	}

	if err := c.registry.Freeze(); err != nil {
		return err
	}
	def, _ := c.registry.Default()

	c.bus.Attach()
	c.pipeline.attach(c.bus)

	err := c.eng.Init(ctx, engine.InitOptions{
		ContainerID:     c.opts.ContainerID,
		DataViewConfigs: c.viewConfigs(c.orient),
		Tools:           c.registry.List(),
	})
	if err != nil {
		c.pipeline.release()
		c.bus.Detach()
		c.initErr = &EngineInitError{ContainerID: c.opts.ContainerID, Err: err}
		c.log.Error("engine init failed", "container", c.opts.ContainerID, "error", err)
		return c.initErr
	}

	c.tool = def
	c.viewport = &Viewport{ContainerID: c.opts.ContainerID, BoundAt: time.Now()}
	c.log.Info("session initialized", "container", c.opts.ContainerID, "tools", c.registry.Len(), "tool", def.String())
	c.notify(ReasonInit)
	return nil
}

// Close releases the bus subscription, detaches engine listeners, resets the
// engine and unbinds the viewport. Idempotent.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.pipeline.release()
	c.bus.Detach()

	var err error
	if c.viewport != nil {
		if rerr := c.eng.Reset(); rerr != nil {
			err = fmt.Errorf("resetting engine: %w", rerr)
		}
		c.viewport = nil
	}
	c.log.Info("session closed", "generation", c.session.Generation)
	c.notify(ReasonClosed)
	c.watchers = nil
	return err
}

func (c *Controller) ready() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.initErr != nil:
		return c.initErr
	case c.viewport == nil:
		return ErrNotInitialized
	}
	return nil
}

// LoadFiles starts a new load generation for files. Previously loaded data
// is released first. A load still in flight is superseded.
func (c *Controller) LoadFiles(files []engine.File) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: empty file batch", ErrInvalidInput)
	}
	for i, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("%w: file %d has no path", ErrInvalidInput, i)
		}
	}

	if c.session.State != Idle || len(c.session.DataIDs) > 0 {
		if err := c.eng.Reset(); err != nil {
			c.log.Warn("engine reset before load failed", "error", err)
		}
	}

	gen := c.beginGeneration(Loading)
	log := c.log.WithGeneration(gen)
	log.Info("load requested", "files", len(files))
	req := engine.LoadRequest{Files: append([]engine.File(nil), files...), Generation: gen}
	c.notifyChange(ReasonLoad, func(ch *Change) { ch.Files = req.Files })

	if err := c.eng.LoadFiles(req); err != nil {
		detail := ErrorDetail{Code: "engine", Message: err.Error()}
		c.fail(gen, detail)
		return &LoadError{Generation: gen, Detail: detail}
	}
	return nil
}

// Reset returns to Idle and releases engine data. Events from earlier
// generations are ignored from here on.
func (c *Controller) Reset() error {
	if err := c.ready(); err != nil {
		return err
	}
	gen := c.beginGeneration(Idle)
	c.log.WithGeneration(gen).Info("session reset")

	err := c.eng.Reset()
	c.notify(ReasonReset)
	if err != nil {
		return fmt.Errorf("resetting engine: %w", err)
	}
	return nil
}

func (c *Controller) beginGeneration(state State) int64 {
	gen := c.session.Generation + 1
	c.session = Session{
		State:      state,
		Generation: gen,
		Metadata:   map[string]map[string]string{},
	}
	c.rendered = false
	c.loadEnded = false
	return gen
}

// SetTool activates a registered tool. "Draw:Ellipse" selects a Draw
// sub-option; bare "Draw" selects its first one. Data must be loaded.
func (c *Controller) SetTool(name string) error {
	if err := c.ready(); err != nil {
		return err
	}
	t, ok := c.registry.Lookup(name)
	if !ok {
		return &ToolUnavailableError{Name: name, Reason: "not registered", Suggestion: c.registry.Suggest(name)}
	}
	if c.session.State != Loaded {
		return &ToolUnavailableError{Name: name, Reason: fmt.Sprintf("session is %s", c.session.State)}
	}
	if err := c.eng.SetTool(t); err != nil {
		return &ToolUnavailableError{Name: name, Reason: "rejected by engine", Err: err}
	}
	c.tool = t
	c.notify(ReasonTool)
	return nil
}

// ToggleOrientation moves every view to the next plane and re-renders each
// dataset in load order.
func (c *Controller) ToggleOrientation() (orientation.Orientation, error) {
	if err := c.ready(); err != nil {
		return c.orient, err
	}
	if len(c.session.DataIDs) == 0 {
		return c.orient, ErrOrientationUnsupported
	}

	next := orientation.Next(c.orient)
	if err := c.eng.SetDataViewConfigs(c.viewConfigs(next)); err != nil {
		return c.orient, fmt.Errorf("applying %s view: %w", next, err)
	}
	c.orient = next

	var errs []error
	for _, id := range c.session.DataIDs {
		if err := c.eng.Render(id); err != nil {
			errs = append(errs, fmt.Errorf("rendering %s: %w", id, err))
		}
	}
	c.notify(ReasonOrientation)
	return next, errors.Join(errs...)
}

// ResetDisplay restores the default window, zoom and pan. It only reaches
// the engine while data is loaded, and reports whether it did.
func (c *Controller) ResetDisplay() bool {
	if c.ready() != nil || c.session.State != Loaded {
		return false
	}
	if err := c.eng.ResetDisplay(); err != nil {
		c.log.Warn("display reset failed", "error", err)
		return false
	}
	return true
}

func (c *Controller) viewConfigs(o orientation.Orientation) engine.DataViewConfigs {
	return engine.DataViewConfigs{
		engine.AllData: {{ContainerID: c.opts.ContainerID, Orientation: o}},
	}
}

// ============================================================================
// Accessors
// ============================================================================

// Session returns a copy of the current session.
func (c *Controller) Session() Session { return c.session.Clone() }

// SelectedTool returns the active tool.
func (c *Controller) SelectedTool() tools.Tool { return c.tool }

// Orientation returns the current viewing plane.
func (c *Controller) Orientation() orientation.Orientation { return c.orient }

// Viewport returns the bound container, if any.
func (c *Controller) Viewport() (Viewport, bool) {
	if c.viewport == nil {
		return Viewport{}, false
	}
	return *c.viewport, true
}

// Tools lists the installed tool set.
func (c *Controller) Tools() []tools.Descriptor { return c.registry.List() }

// Snapshot is the Change a watcher would receive right now.
func (c *Controller) Snapshot() Change {
	return Change{
		Session:     c.session.Clone(),
		Tool:        c.tool,
		Orientation: c.orient,
		At:          time.Now(),
	}
}

// Watch registers fn to receive a Change after every mutation. The returned
// func unregisters it and may be called more than once.
func (c *Controller) Watch(fn func(Change)) func() {
	c.nextWatch++
	id := c.nextWatch
	c.watchers = append(c.watchers, watcher{id: id, fn: fn})
	return func() {
		for i, w := range c.watchers {
			if w.id == id {
				c.watchers = append(c.watchers[:i:i], c.watchers[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) notify(reason Reason) {
	c.notifyChange(reason, nil)
}

func (c *Controller) notifyChange(reason Reason, decorate func(*Change)) {
	if len(c.watchers) == 0 {
		return
	}
	ch := c.Snapshot()
	ch.Reason = reason
	if decorate != nil {
		decorate(&ch)
	}
	for _, w := range append([]watcher(nil), c.watchers...) {
		c.callWatcher(w.fn, ch)
	}
}

func (c *Controller) callWatcher(fn func(Change), ch Change) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("session watcher panicked", "reason", ch.Reason, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn(ch)
}

// ============================================================================
// Transitions proposed by the load pipeline
// ============================================================================

// accepts reports whether events of gen may still change the session.
func (c *Controller) accepts(gen int64) bool {
	if c.closed || gen != c.session.Generation {
		return false
	}
	return c.session.State == Loading || c.session.State == Loaded
}

func (c *Controller) confirmLoading(gen int64) {
	if c.session.State != Loading {
		c.log.WithGeneration(gen).Debug("loadstart outside loading", "state", c.session.State.String())
	}
}

func (c *Controller) advanceProgress(gen int64, pct float64) {
	if c.session.State != Loading || math.IsNaN(pct) || math.IsInf(pct, 0) || pct <= c.session.Progress {
		return
	}
	c.session.Progress = pct
	c.notify(ReasonProgress)
}

// autoSelectScroll runs on the first render of a generation.
func (c *Controller) autoSelectScroll(gen int64) {
	if c.rendered {
		return
	}
	c.rendered = true
	if !c.registry.Has(tools.Scroll) {
		return
	}
	log := c.log.WithGeneration(gen)
	can, err := c.eng.CanScroll()
	if err != nil {
		log.Warn("scroll capability query failed", "error", err)
		return
	}
	if !can {
		return
	}
	t, _ := c.registry.Lookup(tools.Scroll.String())
	if err := c.eng.SetTool(t); err != nil {
		log.Warn("auto-selecting scroll failed", "error", err)
		return
	}
	c.tool = t
	c.notify(ReasonTool)
}

func (c *Controller) mergeMetadata(gen int64, dataID string) {
	for _, id := range c.session.DataIDs {
		if id == dataID {
			return
		}
	}
	meta, err := c.eng.MetaData(dataID)
	if err != nil {
		c.log.WithGeneration(gen).Warn("metadata unavailable", "data_id", dataID, "error", err)
		meta = map[string]string{}
	}
	c.session.DataIDs = append(c.session.DataIDs, dataID)
	c.session.Metadata[dataID] = meta
	c.notify(ReasonData)
}

// complete handles the terminal success event, once per generation. Data
// ids the engine never announced are picked up here.
func (c *Controller) complete(gen int64) {
	if c.loadEnded || c.session.State != Loading {
		return
	}
	c.loadEnded = true

	if len(c.session.DataIDs) == 0 {
		ids, err := c.eng.DataIDs()
		if err != nil {
			c.log.WithGeneration(gen).Warn("listing data ids failed", "error", err)
		}
		for _, id := range ids {
			meta, err := c.eng.MetaData(id)
			if err != nil {
				meta = map[string]string{}
			}
			c.session.DataIDs = append(c.session.DataIDs, id)
			c.session.Metadata[id] = meta
		}
	}

	c.session.State = Loaded
	c.session.Progress = 100
	c.log.WithGeneration(gen).Info("load complete", "datasets", len(c.session.DataIDs))
	c.notify(ReasonLoaded)
}

func (c *Controller) fail(gen int64, detail ErrorDetail) {
	if c.session.State != Loading {
		return
	}
	c.session.State = Error
	c.session.ErrorInfo = &detail
	c.log.WithGeneration(gen).Warn("load failed", "code", detail.Code, "message", detail.Message)
	c.notify(ReasonFailed)
}
