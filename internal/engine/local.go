package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

var (
	ErrNotInitialized   = errors.New("engine not initialized")
	ErrUnknownContainer = errors.New("unknown container")
	ErrUnknownData      = errors.New("unknown data id")
	ErrUnsupportedTool  = errors.New("tool not installed")
)

// Error codes carried by the error event.
const (
	CodeFormat   = "format"
	CodeIO       = "io"
	CodeInternal = "internal"
)

// LocalOptions configures the in-process engine.
type LocalOptions struct {
	// Containers restricts Init to these container ids. Empty allows any.
	Containers []string
	// Workers bounds concurrent header parsing. Defaults to 4.
	Workers int
	// Throttle delays each progress event, which keeps progress visible
	// for small batches.
	Throttle time.Duration
	Logger   *logging.Logger
}

// Local is an Engine that parses DICOM headers in-process. Pixel data is
// never read; "rendering" only tracks which datasets have been drawn.
type Local struct {
	Listeners

	opts LocalOptions
	log  *logging.Logger

	mu          sync.Mutex
	initialized bool
	containerID string
	toolset     []tools.Descriptor
	tool        tools.Tool
	views       DataViewConfigs
	datasets    map[string]*dataset
	order       []string
	renders     map[string]int
	resets      int
	active      int64
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

type dataset struct {
	id     string
	series string
	files  []string
	frames int
	meta   map[string]string
}

// parsedFile is the header summary of one input file.
type parsedFile struct {
	index  int
	path   string
	series string
	frames int
	meta   map[string]string
}

// NewLocal returns an uninitialized engine.
func NewLocal(opts LocalOptions) *Local {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	log := opts.Logger
	if log == nil {
		log = logging.NopLogger()
	}
	return &Local{
		opts:     opts,
		log:      log.WithComponent("engine"),
		datasets: make(map[string]*dataset),
		renders:  make(map[string]int),
	}
}

func (e *Local) Init(ctx context.Context, opts InitOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(opts.ContainerID) == "" {
		return fmt.Errorf("%w: empty container id", ErrUnknownContainer)
	}
	if len(e.opts.Containers) > 0 && !containsString(e.opts.Containers, opts.ContainerID) {
		return fmt.Errorf("%w: %s", ErrUnknownContainer, opts.ContainerID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.containerID = opts.ContainerID
	e.toolset = append([]tools.Descriptor(nil), opts.Tools...)
	e.views = cloneViews(opts.DataViewConfigs)
	e.initialized = true
	e.log.Info("engine initialized", "container", opts.ContainerID, "tools", len(opts.Tools))
	return nil
}

// LoadFiles starts parsing req.Files in the background and returns at once.
// A load in flight is cancelled first.
func (e *Local) LoadFiles(req LoadRequest) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.active = req.Generation
	files := append([]File(nil), req.Files...)
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.run(ctx, req.Generation, files)
	}()
	return nil
}

func (e *Local) run(ctx context.Context, gen int64, files []File) {
	log := e.log.WithGeneration(gen)
	emit := func(typ string, payload map[string]any) {
		if ctx.Err() != nil {
			return
		}
		e.Emit(RawEvent{Type: typ, LoadID: gen, Payload: payload})
	}

	start := time.Now()
	emit(EventLoadStart, map[string]any{"total": len(files)})

	var (
		progressMu sync.Mutex
		loaded     int
		parsed     = make([]parsedFile, len(files))
	)
	p := pool.New().
		WithMaxGoroutines(e.opts.Workers).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for i, f := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pf, err := parseHeader(f.Path)
			if err != nil {
				return fmt.Errorf("%s: %w", displayName(f), err)
			}
			pf.index = i
			parsed[i] = pf

			progressMu.Lock()
			defer progressMu.Unlock()
			loaded++
			if e.opts.Throttle > 0 {
				time.Sleep(e.opts.Throttle)
			}
			emit(EventLoadProgress, map[string]any{"loaded": loaded, "total": len(files)})
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			log.Debug("load cancelled")
			return
		}
		log.Warn("load failed", "error", err)
		emit(EventError, map[string]any{"code": CodeFormat, "message": err.Error()})
		return
	}

	groups := groupSeries(parsed)

	e.mu.Lock()
	if ctx.Err() != nil || e.active != gen {
		e.mu.Unlock()
		return
	}
	for _, ds := range groups {
		e.datasets[ds.id] = ds
		e.order = append(e.order, ds.id)
	}
	e.mu.Unlock()

	for _, ds := range groups {
		emit(EventLoad, map[string]any{"dataid": ds.id})
		e.mu.Lock()
		e.renders[ds.id]++
		e.mu.Unlock()
		emit(EventRenderEnd, map[string]any{"dataid": ds.id})
	}
	emit(EventLoadEnd, map[string]any{"datasets": len(groups)})
	log.Info("load finished", "files", len(files), "datasets", len(groups), "elapsed", time.Since(start).String())
}

// Wait blocks until any background load has exited.
func (e *Local) Wait() {
	e.wg.Wait()
}

// Reset cancels a running load and drops every dataset. View configs and
// the selected tool survive.
func (e *Local) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.active = 0
	e.datasets = make(map[string]*dataset)
	e.order = nil
	e.renders = make(map[string]int)
	return nil
}

func (e *Local) SetTool(t tools.Tool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	for _, d := range e.toolset {
		if d.Name != t.Kind.String() {
			continue
		}
		if t.Option == "" || containsString(d.SubOptions, t.Option) {
			e.tool = t
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedTool, t)
}

func (e *Local) SetDataViewConfigs(cfg DataViewConfigs) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	for _, views := range cfg {
		for _, v := range views {
			if v.ContainerID != e.containerID {
				return fmt.Errorf("%w: %s", ErrUnknownContainer, v.ContainerID)
			}
		}
	}
	e.views = cloneViews(cfg)
	return nil
}

func (e *Local) DataIDs() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...), nil
}

func (e *Local) Render(dataID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.datasets[dataID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownData, dataID)
	}
	e.renders[dataID]++
	return nil
}

func (e *Local) MetaData(dataID string) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds, ok := e.datasets[dataID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownData, dataID)
	}
	out := make(map[string]string, len(ds.meta)+2)
	for k, v := range ds.meta {
		out[k] = v
	}
	out["SliceCount"] = strconv.Itoa(len(ds.files))
	out["FrameCount"] = strconv.Itoa(ds.frames)
	return out, nil
}

func (e *Local) CanScroll() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ds := range e.datasets {
		if len(ds.files) > 1 || ds.frames > 1 {
			return true, nil
		}
	}
	return false, nil
}

func (e *Local) ResetDisplay() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	e.resets++
	return nil
}

// LocalState is a point-in-time view of the engine, used by the daemon's
// status endpoint.
type LocalState struct {
	ContainerID  string          `json:"container_id"`
	Tool         string          `json:"tool"`
	Views        DataViewConfigs `json:"views"`
	DataIDs      []string        `json:"data_ids"`
	Renders      int             `json:"renders"`
	DisplayReset int             `json:"display_resets"`
}

// State returns a snapshot of the engine.
func (e *Local) State() LocalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	renders := 0
	for _, n := range e.renders {
		renders += n
	}
	return LocalState{
		ContainerID:  e.containerID,
		Tool:         e.tool.String(),
		Views:        cloneViews(e.views),
		DataIDs:      append([]string(nil), e.order...),
		Renders:      renders,
		DisplayReset: e.resets,
	}
}

// ============================================================================
// Header parsing
// ============================================================================

// headerTags are the attributes surfaced as dataset metadata.
var headerTags = []struct {
	key string
	tag tag.Tag
}{
	{"PatientName", tag.PatientName},
	{"PatientID", tag.PatientID},
	{"StudyInstanceUID", tag.StudyInstanceUID},
	{"StudyDate", tag.StudyDate},
	{"StudyDescription", tag.StudyDescription},
	{"SeriesInstanceUID", tag.SeriesInstanceUID},
	{"SeriesDescription", tag.SeriesDescription},
	{"Modality", tag.Modality},
	{"Manufacturer", tag.Manufacturer},
	{"Rows", tag.Rows},
	{"Columns", tag.Columns},
	{"NumberOfFrames", tag.NumberOfFrames},
	{"SliceThickness", tag.SliceThickness},
	{"PixelSpacing", tag.PixelSpacing},
}

func parseHeader(path string) (parsedFile, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return parsedFile{}, fmt.Errorf("parsing dicom header: %w", err)
	}
	meta := extractMetadata(ds)
	frames := 1
	if n, err := strconv.Atoi(meta["NumberOfFrames"]); err == nil && n > 0 {
		frames = n
	}
	return parsedFile{
		path:   path,
		series: meta["SeriesInstanceUID"],
		frames: frames,
		meta:   meta,
	}, nil
}

func extractMetadata(ds dicom.Dataset) map[string]string {
	meta := make(map[string]string, len(headerTags))
	for _, h := range headerTags {
		el, err := ds.FindElementByTag(h.tag)
		if err != nil || el == nil || el.Value == nil {
			continue
		}
		if s := formatValue(el.Value.GetValue()); s != "" {
			meta[h.key] = s
		}
	}
	return meta
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.TrimSpace(strings.Join(val, `\`))
	case []int:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, `\`)
	case []float64:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strings.Join(parts, `\`)
	default:
		return ""
	}
}

// groupSeries folds parsed files into datasets by SeriesInstanceUID, in the
// order each series first appears. Files without a series get their own
// dataset.
func groupSeries(files []parsedFile) []*dataset {
	sorted := append([]parsedFile(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].index < sorted[j].index })

	var out []*dataset
	bySeries := make(map[string]*dataset)
	for _, f := range sorted {
		key := f.series
		if key == "" {
			key = "file:" + f.path
		}
		ds, ok := bySeries[key]
		if !ok {
			ds = &dataset{id: uuid.NewString(), series: f.series, meta: f.meta}
			bySeries[key] = ds
			out = append(out, ds)
		}
		ds.files = append(ds.files, f.path)
		ds.frames += f.frames
	}
	return out
}

func displayName(f File) string {
	if f.Name != "" {
		return f.Name
	}
	return filepath.Base(f.Path)
}

func cloneViews(cfg DataViewConfigs) DataViewConfigs {
	if cfg == nil {
		return nil
	}
	out := make(DataViewConfigs, len(cfg))
	for k, v := range cfg {
		out[k] = append([]ViewConfig(nil), v...)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
