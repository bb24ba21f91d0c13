// Package event normalizes raw engine notifications into typed lifecycle
// events and fans them out to in-process subscribers.
package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Mr-Dark-debug/radview/internal/engine"
)

// Event type identifiers.
const (
	TypeLoadStart  = "load.start"
	TypeProgress   = "load.progress"
	TypeRenderEnd  = "render.end"
	TypeDataLoaded = "data.loaded"
	TypeLoadEnd    = "load.end"
	TypeLoadFailed = "load.failed"
)

// Event is implemented by every normalized event. Generation is the session
// generation of the load that produced it.
type Event interface {
	EventType() string
	Generation() int64
	Timestamp() time.Time
}

type baseEvent struct {
	Type string    `json:"type"`
	Gen  int64     `json:"generation"`
	Time time.Time `json:"timestamp"`
}

func newBase(typ string, gen int64) baseEvent {
	return baseEvent{Type: typ, Gen: gen, Time: time.Now()}
}

func (e baseEvent) EventType() string    { return e.Type }
func (e baseEvent) Generation() int64    { return e.Gen }
func (e baseEvent) Timestamp() time.Time { return e.Time }

// LoadStart marks the engine accepting a batch.
type LoadStart struct {
	baseEvent
}

// NewLoadStart builds a LoadStart for gen.
func NewLoadStart(gen int64) LoadStart {
	return LoadStart{newBase(TypeLoadStart, gen)}
}

// Progress reports how much of a batch has been read. Legacy engines send
// only a percentage, carried in Loaded with Legacy set.
type Progress struct {
	baseEvent
	Loaded float64 `json:"loaded"`
	Total  float64 `json:"total,omitempty"`
	Legacy bool    `json:"legacy,omitempty"`
}

// NewProgress builds a Progress from a loaded/total pair.
func NewProgress(gen int64, loaded, total float64) Progress {
	return Progress{baseEvent: newBase(TypeProgress, gen), Loaded: loaded, Total: total}
}

// NewLegacyProgress builds a Progress from a bare percentage.
func NewLegacyProgress(gen int64, percent float64) Progress {
	return Progress{baseEvent: newBase(TypeProgress, gen), Loaded: percent, Legacy: true}
}

// Percent returns completion in [0, 100]. Non-finite inputs report 0.
func (p Progress) Percent() float64 {
	var pct float64
	switch {
	case p.Legacy:
		pct = p.Loaded
	case p.Total > 0:
		pct = p.Loaded / p.Total * 100
	default:
		return 0
	}
	if !finite(pct) || pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// RenderEnd marks a dataset drawn for the first time.
type RenderEnd struct {
	baseEvent
	DataID string `json:"data_id,omitempty"`
}

// NewRenderEnd builds a RenderEnd.
func NewRenderEnd(gen int64, dataID string) RenderEnd {
	return RenderEnd{baseEvent: newBase(TypeRenderEnd, gen), DataID: dataID}
}

// DataLoaded announces a dataset whose metadata can now be queried.
type DataLoaded struct {
	baseEvent
	DataID string `json:"data_id"`
}

// NewDataLoaded builds a DataLoaded.
func NewDataLoaded(gen int64, dataID string) DataLoaded {
	return DataLoaded{baseEvent: newBase(TypeDataLoaded, gen), DataID: dataID}
}

// LoadEnd marks successful completion of a batch.
type LoadEnd struct {
	baseEvent
}

// NewLoadEnd builds a LoadEnd.
func NewLoadEnd(gen int64) LoadEnd {
	return LoadEnd{newBase(TypeLoadEnd, gen)}
}

// LoadFailed is terminal for its generation.
type LoadFailed struct {
	baseEvent
	Code    string `json:"code"`
	Message string `json:"message"`
	DataID  string `json:"data_id,omitempty"`
}

// NewLoadFailed builds a LoadFailed.
func NewLoadFailed(gen int64, code, message string) LoadFailed {
	return LoadFailed{baseEvent: newBase(TypeLoadFailed, gen), Code: code, Message: message}
}

// ============================================================================
// Normalization
// ============================================================================

// DefaultErrorCode is used when an engine error carries no code.
const DefaultErrorCode = "load"

// Normalize converts a raw engine event. It reports false for unknown event
// names and for payloads that cannot be interpreted.
func Normalize(raw engine.RawEvent) (Event, bool) {
	name, ok := engine.Aliases[raw.Type]
	if !ok {
		return nil, false
	}
	gen := raw.LoadID
	p := raw.Payload

	switch name {
	case engine.EventLoadStart:
		return NewLoadStart(gen), true

	case engine.EventLoadProgress:
		loaded, ok := number(p, "loaded")
		if !ok {
			return nil, false
		}
		// Only a payload without a total is a legacy percentage.
		if _, present := p["total"]; !present {
			return NewLegacyProgress(gen, loaded), true
		}
		total, ok := number(p, "total")
		if !ok || total <= 0 {
			return nil, false
		}
		return NewProgress(gen, loaded, total), true

	case engine.EventRenderEnd:
		return NewRenderEnd(gen, dataID(p)), true

	case engine.EventLoad:
		id := dataID(p)
		if id == "" {
			return nil, false
		}
		return NewDataLoaded(gen, id), true

	case engine.EventLoadEnd:
		return NewLoadEnd(gen), true

	case engine.EventError:
		code := str(p, "code")
		if code == "" {
			code = DefaultErrorCode
		}
		msg := str(p, "message")
		if msg == "" {
			msg = str(p, "error")
		}
		if msg == "" {
			msg = "load failed"
		}
		ev := NewLoadFailed(gen, code, msg)
		ev.DataID = dataID(p)
		return ev, true
	}
	return nil, false
}

var dataIDKeys = []string{"dataid", "dataId", "data_id"}

func dataID(p map[string]any) string {
	for _, k := range dataIDKeys {
		if s := str(p, k); s != "" {
			return s
		}
	}
	return ""
}

func str(p map[string]any, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case error:
		return s.Error()
	default:
		return fmt.Sprint(s)
	}
}

// number reads a finite numeric field.
func number(p map[string]any, key string) (float64, bool) {
	f, ok := rawNumber(p[key])
	if !ok || !finite(f) {
		return 0, false
	}
	return f, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func rawNumber(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
