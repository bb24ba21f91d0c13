// Package enginetest provides a scriptable engine for controller tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

// Call is one recorded engine method invocation.
type Call struct {
	Method string
	Args   []any
}

// Fake records every call and returns the values configured on it. Events
// are delivered only when the test calls Emit.
type Fake struct {
	engine.Listeners

	mu    sync.Mutex
	calls []Call

	IDs       []string
	Meta      map[string]map[string]string
	Scroll    bool
	InitErr   error
	LoadErr   error
	ToolErr   error
	ViewErr   error
	RenderErr error
	MetaErr   error
}

// New returns a Fake with no data.
func New() *Fake {
	return &Fake{Meta: make(map[string]map[string]string)}
}

func (f *Fake) record(method string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Methods returns the recorded method names in order.
func (f *Fake) Methods() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// CallCount counts invocations of method.
func (f *Fake) CallCount(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// LastCall returns the most recent call of method.
func (f *Fake) LastCall(method string) (Call, bool) {
	calls := f.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method {
			return calls[i], true
		}
	}
	return Call{}, false
}

// ClearCalls forgets everything recorded so far.
func (f *Fake) ClearCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Emit delivers a raw event synchronously to registered listeners.
func (f *Fake) Emit(typ string, loadID int64, payload map[string]any) {
	f.Listeners.Emit(engine.RawEvent{Type: typ, LoadID: loadID, Payload: payload})
}

// ListenerCount is the number of listener registrations.
func (f *Fake) ListenerCount() int { return f.Count() }

// AddData makes id visible through DataIDs and MetaData.
func (f *Fake) AddData(id string, meta map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.IDs = append(f.IDs, id)
	f.Meta[id] = meta
}

func (f *Fake) Init(_ context.Context, opts engine.InitOptions) error {
	f.record("Init", opts)
	return f.InitErr
}

func (f *Fake) LoadFiles(req engine.LoadRequest) error {
	f.record("LoadFiles", req)
	return f.LoadErr
}

func (f *Fake) Reset() error {
	f.record("Reset")
	f.mu.Lock()
	f.IDs = nil
	f.Meta = make(map[string]map[string]string)
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetTool(t tools.Tool) error {
	f.record("SetTool", t)
	return f.ToolErr
}

func (f *Fake) SetDataViewConfigs(cfg engine.DataViewConfigs) error {
	f.record("SetDataViewConfigs", cfg)
	return f.ViewErr
}

func (f *Fake) DataIDs() ([]string, error) {
	f.record("DataIDs")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.IDs...), nil
}

func (f *Fake) Render(id string) error {
	f.record("Render", id)
	return f.RenderErr
}

func (f *Fake) MetaData(id string) (map[string]string, error) {
	f.record("MetaData", id)
	if f.MetaErr != nil {
		return nil, f.MetaErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.Meta[id]
	if !ok {
		return nil, fmt.Errorf("no metadata for %s", id)
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) CanScroll() (bool, error) {
	f.record("CanScroll")
	return f.Scroll, nil
}

func (f *Fake) ResetDisplay() error {
	f.record("ResetDisplay")
	return nil
}

var _ engine.Engine = (*Fake)(nil)
