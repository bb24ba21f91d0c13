package history

import (
	"context"
	"testing"
	"time"

	"github.com/Mr-Dark-debug/radview/internal/database"
	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/engine/enginetest"
	"github.com/Mr-Dark-debug/radview/internal/event"
	"github.com/Mr-Dark-debug/radview/internal/session"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

type fixture struct {
	ctrl  *session.Controller
	fake  *enginetest.Fake
	bus   *event.Bus
	store *database.DBService
	rec   *Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := database.NewDBService(":memory:")
	if err != nil {
		t.Fatalf("NewDBService failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg, _ := tools.NewRegistryFrom(tools.DefaultDescriptors())
	fake := enginetest.New()
	bus := event.NewBus(fake, event.Options{})
	ctrl := session.NewController(fake, reg, bus, session.Options{})
	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	clock := time.Unix(1700000000, 0)
	rec := NewRecorder(store, Options{
		ContainerID: "layerGroup0",
		Now: func() time.Time {
			clock = clock.Add(250 * time.Millisecond)
			return clock
		},
	})
	rec.Attach(ctrl)
	return &fixture{ctrl: ctrl, fake: fake, bus: bus, store: store, rec: rec}
}

func (f *fixture) emit(typ string, payload map[string]any) {
	f.fake.Emit(typ, f.ctrl.Session().Generation, payload)
	f.bus.Drain()
}

func files() []engine.File {
	return []engine.File{
		{Name: "a.dcm", Path: "/d/a.dcm", Size: 100},
		{Name: "b.dcm", Path: "/d/b.dcm", Size: 300},
	}
}

func TestRecordsSuccessfulLoad(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.LoadFiles(files()); err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}
	loadID, ok := f.rec.ActiveLoadID()
	if !ok {
		t.Fatal("no active load recorded")
	}

	f.fake.AddData("ds-1", map[string]string{"Modality": "MR", "SeriesInstanceUID": "1.2.3"})
	f.emit("load", map[string]any{"dataid": "ds-1"})
	f.emit("loadend", nil)

	if f.rec.LastError() != nil {
		t.Fatalf("recorder error: %v", f.rec.LastError())
	}
	load, err := f.store.GetLoad(loadID)
	if err != nil {
		t.Fatalf("GetLoad failed: %v", err)
	}
	if load.State != database.StateLoaded || load.FileCount != 2 || load.TotalBytes != 400 || load.DatasetCount != 1 {
		t.Errorf("unexpected load: %+v", load)
	}
	if load.DurationMs() != 250 {
		t.Errorf("duration = %dms", load.DurationMs())
	}

	datasets, _ := f.store.GetDatasets(loadID)
	if len(datasets) != 1 || datasets[0].Modality != "MR" || datasets[0].SeriesUID != "1.2.3" {
		t.Errorf("datasets = %+v", datasets)
	}
	if _, ok := f.rec.ActiveLoadID(); ok {
		t.Error("load still active after completion")
	}
}

func TestRecordsFailure(t *testing.T) {
	f := newFixture(t)
	_ = f.ctrl.LoadFiles(files())
	loadID, _ := f.rec.ActiveLoadID()

	f.emit("error", map[string]any{"code": "format", "message": "bad header"})

	load, _ := f.store.GetLoad(loadID)
	if load.State != database.StateError || load.ErrorCode == nil || *load.ErrorCode != "format" {
		t.Errorf("unexpected load: %+v", load)
	}
}

func TestResetCancelsActiveLoad(t *testing.T) {
	f := newFixture(t)
	_ = f.ctrl.LoadFiles(files())
	loadID, _ := f.rec.ActiveLoadID()

	_ = f.ctrl.Reset()

	load, _ := f.store.GetLoad(loadID)
	if load.State != database.StateCancelled || load.EndTime == nil {
		t.Errorf("unexpected load: %+v", load)
	}
}

func TestSupersededLoadCancelled(t *testing.T) {
	f := newFixture(t)
	_ = f.ctrl.LoadFiles(files())
	first, _ := f.rec.ActiveLoadID()
	_ = f.ctrl.LoadFiles(files()[:1])
	second, _ := f.rec.ActiveLoadID()

	if first == second {
		t.Fatal("second load reused the first load id")
	}
	load, _ := f.store.GetLoad(first)
	if load.State != database.StateCancelled {
		t.Errorf("superseded load state = %s", load.State)
	}
	loads, _ := f.store.QueryLoads(database.LoadFilter{})
	if len(loads) != 2 {
		t.Errorf("expected 2 loads, got %d", len(loads))
	}
}

func TestStaleEventsNotRecorded(t *testing.T) {
	f := newFixture(t)
	_ = f.ctrl.LoadFiles(files())
	stale := f.ctrl.Session().Generation
	loadID, _ := f.rec.ActiveLoadID()
	_ = f.ctrl.Reset()

	f.fake.Emit("loadend", stale, nil)
	f.bus.Drain()

	load, _ := f.store.GetLoad(loadID)
	if load.State != database.StateCancelled {
		t.Errorf("stale loadend overwrote history: %s", load.State)
	}
}
