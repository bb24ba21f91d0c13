// Package engine defines the contract between the session controller and
// the image engine that decodes, reconstructs and renders studies. Engines
// are driven by method calls and answer asynchronously through named events.
package engine

import (
	"context"

	"github.com/Mr-Dark-debug/radview/internal/orientation"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

// Event names emitted by engines. Aliases are spellings older engines use
// for the same lifecycle step.
const (
	EventLoadStart    = "loadstart"
	EventLoadProgress = "loadprogress"
	EventRenderEnd    = "renderend"
	EventLoad         = "load"
	EventLoadEnd      = "loadend"
	EventError        = "error"
)

// Aliases maps every accepted event name to its canonical name.
var Aliases = map[string]string{
	"loadstart":     EventLoadStart,
	"load-start":    EventLoadStart,
	"loadprogress":  EventLoadProgress,
	"load-progress": EventLoadProgress,
	"progress":      EventLoadProgress,
	"renderend":     EventRenderEnd,
	"render-end":    EventRenderEnd,
	"load":          EventLoad,
	"loadend":       EventLoadEnd,
	"load-end":      EventLoadEnd,
	"error":         EventError,
	"loaderror":     EventError,
	"load-error":    EventError,
}

// EventNames returns every name in Aliases.
func EventNames() []string {
	names := make([]string, 0, len(Aliases))
	for name := range Aliases {
		names = append(names, name)
	}
	return names
}

// File is one input file handed to the engine.
type File struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ViewConfig binds a container to a viewing plane.
type ViewConfig struct {
	ContainerID string                  `json:"container_id"`
	Orientation orientation.Orientation `json:"orientation"`
}

// DataViewConfigs maps a data id (or "*" for all) to its views.
type DataViewConfigs map[string][]ViewConfig

// AllData is the DataViewConfigs key that applies to every dataset.
const AllData = "*"

// InitOptions is passed once to Init.
type InitOptions struct {
	ContainerID     string             `json:"container_id"`
	DataViewConfigs DataViewConfigs    `json:"data_view_configs"`
	Tools           []tools.Descriptor `json:"tools"`
}

// LoadRequest is one batch of files tagged with the session generation that
// issued it. Engines echo the generation as RawEvent.LoadID.
type LoadRequest struct {
	Files      []File `json:"files"`
	Generation int64  `json:"generation"`
}

// RawEvent is an engine notification before normalization. Payload keys
// depend on the engine; see the event package for the accepted shapes.
type RawEvent struct {
	Type    string         `json:"type"`
	LoadID  int64          `json:"load_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Listener receives raw engine events. Implementations must be comparable
// so they can be removed again.
type Listener interface {
	HandleEngineEvent(ev RawEvent)
}

// ListenerFunc adapts a function to Listener. Use it by pointer so the
// listener stays comparable.
type ListenerFunc struct {
	Fn func(RawEvent)
}

func (l *ListenerFunc) HandleEngineEvent(ev RawEvent) { l.Fn(ev) }

// Engine is the image engine driven by the session controller. LoadFiles
// returns once the load has been accepted; progress and completion arrive
// as events on registered listeners, possibly on other goroutines.
type Engine interface {
	Init(ctx context.Context, opts InitOptions) error
	LoadFiles(req LoadRequest) error
	Reset() error
	SetTool(t tools.Tool) error
	SetDataViewConfigs(cfg DataViewConfigs) error
	DataIDs() ([]string, error)
	Render(dataID string) error
	MetaData(dataID string) (map[string]string, error)
	CanScroll() (bool, error)
	ResetDisplay() error
	AddEventListener(name string, l Listener)
	RemoveEventListener(name string, l Listener)
}
