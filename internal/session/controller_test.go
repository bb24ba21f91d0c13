package session

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/engine/enginetest"
	"github.com/Mr-Dark-debug/radview/internal/event"
	"github.com/Mr-Dark-debug/radview/internal/orientation"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

type harness struct {
	ctrl *Controller
	eng  *enginetest.Fake
	bus  *event.Bus
}

func newHarness(t *testing.T, descs []tools.Descriptor) *harness {
	t.Helper()
	reg, err := tools.NewRegistryFrom(descs)
	if err != nil {
		t.Fatalf("building registry failed: %v", err)
	}
	fake := enginetest.New()
	bus := event.NewBus(fake, event.Options{})
	ctrl := NewController(fake, reg, bus, Options{})
	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		ctrl.Close()
		bus.Close()
	})
	fake.ClearCalls()
	return &harness{ctrl: ctrl, eng: fake, bus: bus}
}

// emit delivers a raw engine event and publishes it on the host goroutine.
func (h *harness) emit(typ string, gen int64, payload map[string]any) {
	h.eng.Emit(typ, gen, payload)
	h.bus.Drain()
}

func (h *harness) gen() int64 { return h.ctrl.Session().Generation }

func oneFile() []engine.File {
	return []engine.File{{Name: "ct.dcm", Path: "/data/ct.dcm", Size: 1024}}
}

// load drives a full successful load of one dataset.
func (h *harness) load(t *testing.T, dataID string) {
	t.Helper()
	if err := h.ctrl.LoadFiles(oneFile()); err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}
	gen := h.gen()
	h.eng.AddData(dataID, map[string]string{"Modality": "CT"})
	h.emit("loadstart", gen, nil)
	h.emit("load", gen, map[string]any{"dataid": dataID})
	h.emit("renderend", gen, map[string]any{"dataid": dataID})
	h.emit("loadend", gen, nil)
	if st := h.ctrl.Session().State; st != Loaded {
		t.Fatalf("expected loaded, got %s", st)
	}
}

// ============================================================================
// Init / Close
// ============================================================================

func TestInitInstallsToolsAndDefault(t *testing.T) {
	reg, _ := tools.NewRegistryFrom(tools.DefaultDescriptors())
	fake := enginetest.New()
	bus := event.NewBus(fake, event.Options{})
	ctrl := NewController(fake, reg, bus, Options{ContainerID: "viewer"})

	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	call, ok := fake.LastCall("Init")
	if !ok {
		t.Fatal("engine Init not called")
	}
	opts := call.Args[0].(engine.InitOptions)
	if opts.ContainerID != "viewer" || len(opts.Tools) != 4 {
		t.Errorf("unexpected init options: %+v", opts)
	}
	if opts.DataViewConfigs[engine.AllData][0].Orientation != orientation.Unset {
		t.Error("initial orientation should be unset")
	}
	if ctrl.SelectedTool() != (tools.Tool{Kind: tools.Scroll}) {
		t.Errorf("selected tool = %v", ctrl.SelectedTool())
	}
	if !reg.Frozen() {
		t.Error("registry not frozen by Init")
	}
	if fake.ListenerCount() != len(engine.EventNames()) {
		t.Errorf("bus not attached: %d listeners", fake.ListenerCount())
	}
	if vp, ok := ctrl.Viewport(); !ok || vp.ContainerID != "viewer" {
		t.Errorf("viewport = %+v, %v", vp, ok)
	}
}

func TestInitFailureIsFatal(t *testing.T) {
	reg, _ := tools.NewRegistryFrom(tools.DefaultDescriptors())
	fake := enginetest.New()
	fake.InitErr = errors.New("container missing")
	bus := event.NewBus(fake, event.Options{})
	ctrl := NewController(fake, reg, bus, Options{})

	err := ctrl.Init(context.Background())
	if !errors.Is(err, ErrEngineInit) {
		t.Fatalf("expected ErrEngineInit, got %v", err)
	}
	var initErr *EngineInitError
	if !errors.As(err, &initErr) || initErr.ContainerID != DefaultContainerID {
		t.Errorf("unexpected error: %#v", err)
	}
	if fake.ListenerCount() != 0 {
		t.Errorf("listeners leaked after failed init: %d", fake.ListenerCount())
	}

	fake.InitErr = nil
	if err := ctrl.Init(context.Background()); !errors.Is(err, ErrEngineInit) {
		t.Errorf("second Init = %v, want the original failure", err)
	}
	if err := ctrl.LoadFiles(oneFile()); !errors.Is(err, ErrEngineInit) {
		t.Errorf("LoadFiles after failed init = %v", err)
	}
}

func TestInitEmptyRegistry(t *testing.T) {
	fake := enginetest.New()
	ctrl := NewController(fake, tools.NewRegistry(), event.NewBus(fake, event.Options{}), Options{})

	err := ctrl.Init(context.Background())
	var cfgErr *tools.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *tools.ConfigError, got %v", err)
	}
	if fake.CallCount("Init") != 0 {
		t.Error("engine initialized with no tools")
	}
}

func TestOperationsBeforeInit(t *testing.T) {
	reg, _ := tools.NewRegistryFrom(tools.DefaultDescriptors())
	fake := enginetest.New()
	ctrl := NewController(fake, reg, event.NewBus(fake, event.Options{}), Options{})

	if err := ctrl.LoadFiles(oneFile()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("LoadFiles = %v", err)
	}
	if _, err := ctrl.ToggleOrientation(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ToggleOrientation = %v", err)
	}
	if ctrl.ResetDisplay() {
		t.Error("ResetDisplay before Init reported success")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")

	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if h.eng.ListenerCount() != 0 {
		t.Errorf("engine listeners leaked: %d", h.eng.ListenerCount())
	}
	if h.bus.SubscriptionCount() != 0 {
		t.Errorf("bus subscriptions leaked: %d", h.bus.SubscriptionCount())
	}
	if h.eng.CallCount("Reset") != 1 {
		t.Errorf("expected engine reset on close, calls: %v", h.eng.Methods())
	}
	if _, ok := h.ctrl.Viewport(); ok {
		t.Error("viewport still bound after Close")
	}
	if err := h.ctrl.LoadFiles(oneFile()); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadFiles after Close = %v", err)
	}
}

// ============================================================================
// LoadFiles
// ============================================================================

func TestLoadFilesEmptyBatch(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())

	err := h.ctrl.LoadFiles(nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := h.ctrl.LoadFiles([]engine.File{{Name: "x"}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("file without path = %v", err)
	}
	s := h.ctrl.Session()
	if s.State != Idle || s.Generation != 0 {
		t.Errorf("session changed on invalid input: %+v", s)
	}
	if len(h.eng.Calls()) != 0 {
		t.Errorf("engine called on invalid input: %v", h.eng.Methods())
	}
}

// Drop one file, see 50% progress, then completion.
func TestDropOneFileScenario(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())

	if err := h.ctrl.LoadFiles(oneFile()); err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}
	s := h.ctrl.Session()
	if s.State != Loading || s.Progress != 0 {
		t.Fatalf("after LoadFiles: %+v", s)
	}
	call, _ := h.eng.LastCall("LoadFiles")
	req := call.Args[0].(engine.LoadRequest)
	if req.Generation != s.Generation || len(req.Files) != 1 {
		t.Errorf("unexpected load request: %+v", req)
	}

	h.emit("loadprogress", s.Generation, map[string]any{"loaded": 50, "total": 100})
	if got := h.ctrl.Session().Progress; got != 50 {
		t.Errorf("progress = %v, want 50", got)
	}

	h.emit("loadend", s.Generation, nil)
	s = h.ctrl.Session()
	if s.State != Loaded || s.Progress != 100 {
		t.Errorf("after loadend: state=%s progress=%v", s.State, s.Progress)
	}
}

func TestProgressNonDecreasing(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	gen := h.gen()

	var seen []float64
	h.ctrl.Watch(func(ch Change) {
		if ch.Reason == ReasonProgress || ch.Reason == ReasonLoaded {
			seen = append(seen, ch.Session.Progress)
		}
	})

	for _, loaded := range []int{10, 40, 20, 40, 90, 5, 95} {
		h.emit("loadprogress", gen, map[string]any{"loaded": loaded, "total": 100})
	}
	h.emit("load-progress", gen, map[string]any{"loaded": 30})
	h.emit("loadend", gen, nil)
	h.emit("loadend", gen, nil)

	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress decreased: %v", seen)
		}
	}
	hundreds := 0
	for _, p := range seen {
		if p == 100 {
			hundreds++
		}
	}
	if hundreds != 1 || seen[len(seen)-1] != 100 {
		t.Errorf("unexpected progress sequence: %v", seen)
	}
	if got := h.ctrl.Session().Progress; got != 100 {
		t.Errorf("final progress = %v", got)
	}
}

func TestProgressIgnoresMalformedEvents(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	gen := h.gen()

	h.emit("loadprogress", gen, map[string]any{"loaded": 50, "total": 100})
	h.emit("loadprogress", gen, map[string]any{"loaded": math.NaN(), "total": 100})
	h.emit("loadprogress", gen, map[string]any{"loaded": math.Inf(1), "total": 100})
	h.emit("loadprogress", gen, map[string]any{"loaded": 10, "total": 100})
	if got := h.ctrl.Session().Progress; got != 50 {
		t.Fatalf("progress = %v after non-finite events, want 50", got)
	}

	h.emit("loadprogress", gen, map[string]any{"loaded": 4096, "total": 0})
	s := h.ctrl.Session()
	if s.Progress != 50 || s.State != Loading {
		t.Fatalf("zero total changed session: state=%s progress=%v", s.State, s.Progress)
	}

	h.emit("loadprogress", gen, map[string]any{"loaded": 60, "total": 100})
	if got := h.ctrl.Session().Progress; got != 60 {
		t.Errorf("progress = %v, want 60", got)
	}

	h.ctrl.advanceProgress(gen, math.NaN())
	if got := h.ctrl.Session().Progress; got != 60 {
		t.Errorf("NaN percent applied: progress = %v", got)
	}
	if _, err := json.Marshal(h.ctrl.Session()); err != nil {
		t.Errorf("session no longer marshals: %v", err)
	}
}

func TestLoadEndForcesCompletion(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	gen := h.gen()

	h.emit("loadprogress", gen, map[string]any{"loaded": 1, "total": 10})
	h.emit("loadend", gen, nil)

	if s := h.ctrl.Session(); s.State != Loaded || s.Progress != 100 {
		t.Errorf("loadend did not force completion: %+v", s)
	}
}

func TestDecodeErrorScenario(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	gen := h.gen()

	h.emit("loadprogress", gen, map[string]any{"loaded": 20, "total": 100})
	h.emit("error", gen, map[string]any{"code": "format", "message": "bad preamble"})

	s := h.ctrl.Session()
	if s.State != Error {
		t.Fatalf("expected error state, got %s", s.State)
	}
	if s.ErrorInfo == nil || s.ErrorInfo.Code != "format" || s.ErrorInfo.Message != "bad preamble" {
		t.Errorf("error info = %+v", s.ErrorInfo)
	}
	if err := s.Err(); !errors.Is(err, ErrLoad) {
		t.Errorf("Session.Err() = %v", err)
	}

	h.emit("loadprogress", gen, map[string]any{"loaded": 80, "total": 100})
	h.emit("loadend", gen, nil)

	after := h.ctrl.Session()
	if after.Progress != 20 || after.State != Error {
		t.Errorf("events after failure changed session: %+v", after)
	}
}

func TestSynchronousEngineLoadFailure(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.eng.LoadErr = errors.New("engine busy")

	err := h.ctrl.LoadFiles(oneFile())
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || !errors.Is(err, ErrLoad) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if s := h.ctrl.Session(); s.State != Error || s.ErrorInfo.Code != "engine" {
		t.Errorf("session = %+v", s)
	}
}

func TestRetryAfterError(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	h.emit("error", h.gen(), map[string]any{"message": "truncated"})

	if err := h.ctrl.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	h.load(t, "ds-2")

	s := h.ctrl.Session()
	if s.ErrorInfo != nil || len(s.DataIDs) != 1 || s.DataIDs[0] != "ds-2" {
		t.Errorf("retry session = %+v", s)
	}
}

func TestNewLoadResetsPreviousData(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")
	first := h.gen()
	h.eng.ClearCalls()

	if err := h.ctrl.LoadFiles(oneFile()); err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}
	methods := h.eng.Methods()
	if len(methods) < 2 || methods[0] != "Reset" || methods[1] != "LoadFiles" {
		t.Errorf("expected Reset before LoadFiles, got %v", methods)
	}
	s := h.ctrl.Session()
	if s.Generation != first+1 || len(s.DataIDs) != 0 || len(s.Metadata) != 0 {
		t.Errorf("previous data not cleared: %+v", s)
	}
}

func TestLoadSupersedesLoadInFlight(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	old := h.gen()
	_ = h.ctrl.LoadFiles(oneFile())

	h.emit("loadprogress", old, map[string]any{"loaded": 90, "total": 100})
	h.emit("loadend", old, nil)

	s := h.ctrl.Session()
	if s.State != Loading || s.Progress != 0 {
		t.Errorf("superseded load changed session: %+v", s)
	}
}

func TestMetadataMergedOnce(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	gen := h.gen()
	h.eng.AddData("a", map[string]string{"Modality": "MR"})
	h.eng.AddData("b", map[string]string{"Modality": "CT"})

	h.emit("load", gen, map[string]any{"dataid": "a"})
	h.emit("load", gen, map[string]any{"dataId": "b"})
	h.emit("load", gen, map[string]any{"data_id": "a"})
	h.emit("loadend", gen, nil)

	s := h.ctrl.Session()
	if len(s.DataIDs) != 2 || s.DataIDs[0] != "a" || s.DataIDs[1] != "b" {
		t.Fatalf("data ids = %v", s.DataIDs)
	}
	if s.Metadata["b"]["Modality"] != "CT" {
		t.Errorf("metadata = %v", s.Metadata)
	}
	if h.eng.CallCount("MetaData") != 2 {
		t.Errorf("metadata fetched %d times", h.eng.CallCount("MetaData"))
	}
}

func TestLoadEndPicksUpUnannouncedData(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	h.eng.AddData("legacy-0", map[string]string{"Rows": "512"})

	h.emit("load-end", h.gen(), nil)

	s := h.ctrl.Session()
	if len(s.DataIDs) != 1 || s.Metadata["legacy-0"]["Rows"] != "512" {
		t.Errorf("session = %+v", s)
	}
}

// ============================================================================
// Reset and stale events
// ============================================================================

func TestResetIgnoresStaleEvents(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	stale := h.gen()
	h.emit("loadprogress", stale, map[string]any{"loaded": 30, "total": 100})

	if err := h.ctrl.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	before := h.ctrl.Session()
	if before.State != Idle || before.Progress != 0 || before.Generation != stale+1 {
		t.Fatalf("after reset: %+v", before)
	}

	changes := 0
	h.ctrl.Watch(func(Change) { changes++ })
	h.eng.AddData("late", nil)
	h.emit("loadprogress", stale, map[string]any{"loaded": 60, "total": 100})
	h.emit("load", stale, map[string]any{"dataid": "late"})
	h.emit("renderend", stale, nil)
	h.emit("loadend", stale, nil)
	h.emit("error", stale, map[string]any{"message": "late failure"})

	after := h.ctrl.Session()
	if changes != 0 {
		t.Errorf("stale events produced %d changes", changes)
	}
	if after.State != before.State || after.Progress != before.Progress || len(after.DataIDs) != 0 {
		t.Errorf("stale events changed session: %+v", after)
	}
}

func TestResetClearsSession(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")

	if err := h.ctrl.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	s := h.ctrl.Session()
	if s.State != Idle || len(s.DataIDs) != 0 || len(s.Metadata) != 0 || s.Progress != 0 {
		t.Errorf("session not cleared: %+v", s)
	}
	if h.eng.CallCount("Reset") != 1 {
		t.Errorf("engine reset calls: %d", h.eng.CallCount("Reset"))
	}
}

// ============================================================================
// Tools
// ============================================================================

func TestSetToolBeforeLoaded(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	before := h.ctrl.SelectedTool()

	err := h.ctrl.SetTool("Scroll")
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if h.ctrl.SelectedTool() != before {
		t.Error("selected tool changed on failure")
	}
	if h.eng.CallCount("SetTool") != 0 {
		t.Error("engine notified of rejected tool")
	}

	_ = h.ctrl.LoadFiles(oneFile())
	if err := h.ctrl.SetTool("WindowLevel"); !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("SetTool while loading = %v", err)
	}
}

func TestSetToolLoaded(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")

	if err := h.ctrl.SetTool("Draw:Ellipse"); err != nil {
		t.Fatalf("SetTool failed: %v", err)
	}
	want := tools.Tool{Kind: tools.Draw, Option: "Ellipse"}
	if h.ctrl.SelectedTool() != want {
		t.Errorf("selected = %v", h.ctrl.SelectedTool())
	}
	call, _ := h.eng.LastCall("SetTool")
	if call.Args[0].(tools.Tool) != want {
		t.Errorf("engine got %v", call.Args[0])
	}
}

func TestSetToolUnknownSuggests(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")

	err := h.ctrl.SetTool("WindowLevl")
	var tuErr *ToolUnavailableError
	if !errors.As(err, &tuErr) {
		t.Fatalf("expected *ToolUnavailableError, got %v", err)
	}
	if tuErr.Suggestion != "WindowLevel" {
		t.Errorf("suggestion = %q", tuErr.Suggestion)
	}
}

func TestSetToolEngineRejects(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")
	before := h.ctrl.SelectedTool()
	h.eng.ToolErr = errors.New("not supported")

	if err := h.ctrl.SetTool("ZoomAndPan"); !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("SetTool = %v", err)
	}
	if h.ctrl.SelectedTool() != before {
		t.Error("selected tool changed after engine rejection")
	}
}

func TestSetToolUnregistered(t *testing.T) {
	h := newHarness(t, []tools.Descriptor{{Name: "ZoomAndPan"}, {Name: "WindowLevel"}})
	h.load(t, "ds-1")

	if err := h.ctrl.SetTool("Scroll"); !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("SetTool(unregistered) = %v", err)
	}
}

func TestAutoSelectScrollOnFirstRender(t *testing.T) {
	h := newHarness(t, []tools.Descriptor{{Name: "WindowLevel"}, {Name: "Scroll"}})
	h.eng.Scroll = true
	_ = h.ctrl.LoadFiles(oneFile())
	gen := h.gen()

	h.emit("renderend", gen, nil)
	if h.ctrl.SelectedTool().Kind != tools.Scroll {
		t.Fatalf("scroll not auto-selected: %v", h.ctrl.SelectedTool())
	}

	h.emit("renderend", gen, nil)
	if h.eng.CallCount("CanScroll") != 1 {
		t.Errorf("CanScroll queried %d times", h.eng.CallCount("CanScroll"))
	}
}

func TestNoAutoSelectWithoutCapability(t *testing.T) {
	h := newHarness(t, []tools.Descriptor{{Name: "WindowLevel"}, {Name: "Scroll"}})
	_ = h.ctrl.LoadFiles(oneFile())

	h.emit("renderend", h.gen(), nil)
	if h.ctrl.SelectedTool().Kind != tools.WindowLevel {
		t.Errorf("tool changed without scroll capability: %v", h.ctrl.SelectedTool())
	}
}

func TestNoAutoSelectWhenScrollUnregistered(t *testing.T) {
	h := newHarness(t, []tools.Descriptor{{Name: "ZoomAndPan"}})
	h.eng.Scroll = true
	_ = h.ctrl.LoadFiles(oneFile())

	h.emit("renderend", h.gen(), nil)
	if h.eng.CallCount("CanScroll") != 0 || h.eng.CallCount("SetTool") != 0 {
		t.Errorf("engine queried for unregistered scroll: %v", h.eng.Methods())
	}
}

// ============================================================================
// Orientation
// ============================================================================

func TestToggleOrientationCycle(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")

	want := []orientation.Orientation{
		orientation.Coronal,
		orientation.Sagittal,
		orientation.Axial,
		orientation.Coronal,
	}
	for i, w := range want {
		got, err := h.ctrl.ToggleOrientation()
		if err != nil {
			t.Fatalf("toggle %d failed: %v", i+1, err)
		}
		if got != w || h.ctrl.Orientation() != w {
			t.Errorf("toggle %d: got %v, want %v", i+1, got, w)
		}
		call, _ := h.eng.LastCall("SetDataViewConfigs")
		cfg := call.Args[0].(engine.DataViewConfigs)
		if cfg[engine.AllData][0].Orientation != w || cfg[engine.AllData][0].ContainerID != DefaultContainerID {
			t.Errorf("toggle %d: engine config %+v", i+1, cfg)
		}
	}
}

func TestToggleOrientationRendersInOrder(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	_ = h.ctrl.LoadFiles(oneFile())
	gen := h.gen()
	for _, id := range []string{"c", "a", "b"} {
		h.eng.AddData(id, nil)
		h.emit("load", gen, map[string]any{"dataid": id})
	}
	h.emit("loadend", gen, nil)
	h.eng.ClearCalls()

	if _, err := h.ctrl.ToggleOrientation(); err != nil {
		t.Fatalf("ToggleOrientation failed: %v", err)
	}
	var rendered []string
	for _, c := range h.eng.Calls() {
		if c.Method == "Render" {
			rendered = append(rendered, c.Args[0].(string))
		}
	}
	if len(rendered) != 3 || rendered[0] != "c" || rendered[1] != "a" || rendered[2] != "b" {
		t.Errorf("render order = %v", rendered)
	}
	if h.eng.Methods()[0] != "SetDataViewConfigs" {
		t.Errorf("views not reconfigured before rendering: %v", h.eng.Methods())
	}
}

func TestToggleOrientationWithoutData(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())

	got, err := h.ctrl.ToggleOrientation()
	if !errors.Is(err, ErrOrientationUnsupported) {
		t.Fatalf("expected ErrOrientationUnsupported, got %v", err)
	}
	if got != orientation.Unset || len(h.eng.Calls()) != 0 {
		t.Errorf("toggle without data touched state: %v %v", got, h.eng.Methods())
	}
}

func TestToggleOrientationEngineFailure(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")
	h.eng.ViewErr = errors.New("viewport gone")

	if _, err := h.ctrl.ToggleOrientation(); err == nil {
		t.Fatal("expected error")
	}
	if h.ctrl.Orientation() != orientation.Unset {
		t.Errorf("orientation advanced on failure: %v", h.ctrl.Orientation())
	}
}

func TestOrientationSurvivesReset(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")
	_, _ = h.ctrl.ToggleOrientation()

	_ = h.ctrl.Reset()
	if h.ctrl.Orientation() != orientation.Coronal {
		t.Errorf("orientation after reset = %v", h.ctrl.Orientation())
	}
}

// ============================================================================
// ResetDisplay
// ============================================================================

func TestResetDisplayIdleIsNoop(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())

	if h.ctrl.ResetDisplay() {
		t.Error("ResetDisplay reported success while idle")
	}
	if len(h.eng.Calls()) != 0 {
		t.Errorf("engine called while idle: %v", h.eng.Methods())
	}
}

func TestResetDisplayLoaded(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.load(t, "ds-1")

	if !h.ctrl.ResetDisplay() {
		t.Error("ResetDisplay failed while loaded")
	}
	if h.eng.CallCount("ResetDisplay") != 1 {
		t.Errorf("engine ResetDisplay calls: %d", h.eng.CallCount("ResetDisplay"))
	}
}

// ============================================================================
// Watchers
// ============================================================================

func TestWatchReceivesReasons(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())

	var reasons []Reason
	release := h.ctrl.Watch(func(ch Change) { reasons = append(reasons, ch.Reason) })
	h.load(t, "ds-1")
	release()
	release()
	_ = h.ctrl.Reset()

	want := []Reason{ReasonLoad, ReasonData, ReasonLoaded}
	if len(reasons) != len(want) {
		t.Fatalf("reasons = %v, want %v", reasons, want)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Errorf("reason %d = %s, want %s", i, reasons[i], want[i])
		}
	}
}

func TestWatchSnapshotIsCopy(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.ctrl.Watch(func(ch Change) {
		if ch.Reason == ReasonData {
			ch.Session.Metadata["ds-1"]["Modality"] = "tampered"
			ch.Session.DataIDs[0] = "tampered"
		}
	})
	h.load(t, "ds-1")

	s := h.ctrl.Session()
	if s.DataIDs[0] != "ds-1" || s.Metadata["ds-1"]["Modality"] != "CT" {
		t.Errorf("watcher mutated session: %+v", s)
	}
}

func TestPanickingWatcherIsolated(t *testing.T) {
	h := newHarness(t, tools.DefaultDescriptors())
	h.ctrl.Watch(func(Change) { panic("ui bug") })
	called := 0
	h.ctrl.Watch(func(Change) { called++ })

	_ = h.ctrl.LoadFiles(oneFile())
	if called != 1 {
		t.Errorf("second watcher called %d times", called)
	}
}
