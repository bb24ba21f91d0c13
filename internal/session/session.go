// Package session owns the viewer session: its load lifecycle, the selected
// tool and the viewing plane. A Controller is driven from a single host
// goroutine; engine events reach it through an event.Bus that the host
// drains.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the load lifecycle state.
type State int

const (
	Idle State = iota
	Loading
	Loaded
	Error
)

var stateNames = map[State]string{
	Idle:    "idle",
	Loading: "loading",
	Loaded:  "loaded",
	Error:   "error",
}

var stateValues = map[string]State{
	"idle":    Idle,
	"loading": Loading,
	"loaded":  Loaded,
	"error":   Error,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState is the inverse of String.
func ParseState(s string) (State, error) {
	v, ok := stateValues[s]
	if !ok {
		return Idle, fmt.Errorf("unknown session state %q", s)
	}
	return v, nil
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ErrorDetail is the engine's description of a failed load.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	DataID  string `json:"data_id,omitempty"`
}

// Session is the observable state of one viewer.
type Session struct {
	State      State                        `json:"state"`
	Progress   float64                      `json:"progress"`
	DataIDs    []string                     `json:"data_ids"`
	Metadata   map[string]map[string]string `json:"metadata"`
	Generation int64                        `json:"generation"`
	ErrorInfo  *ErrorDetail                 `json:"error,omitempty"`
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.DataIDs = append([]string(nil), s.DataIDs...)
	out.Metadata = make(map[string]map[string]string, len(s.Metadata))
	for id, meta := range s.Metadata {
		m := make(map[string]string, len(meta))
		for k, v := range meta {
			m[k] = v
		}
		out.Metadata[id] = m
	}
	if s.ErrorInfo != nil {
		detail := *s.ErrorInfo
		out.ErrorInfo = &detail
	}
	return out
}

// Err returns a *LoadError while the session is in the Error state.
func (s Session) Err() error {
	if s.State != Error || s.ErrorInfo == nil {
		return nil
	}
	return &LoadError{Generation: s.Generation, Detail: *s.ErrorInfo}
}

// Viewport is the display container bound by Init.
type Viewport struct {
	ContainerID string    `json:"container_id"`
	BoundAt     time.Time `json:"bound_at"`
}
