// Package tools holds the catalog of interaction tools a viewer session can
// activate. The catalog is populated once at startup and frozen when the
// session controller installs it into the engine.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Kind is the closed set of tool families understood by the engine.
type Kind int

const (
	KindUnknown Kind = iota
	Scroll
	ZoomAndPan
	WindowLevel
	Draw
)

var kindNames = map[Kind]string{
	Scroll:      "Scroll",
	ZoomAndPan:  "ZoomAndPan",
	WindowLevel: "WindowLevel",
	Draw:        "Draw",
}

var kindFromName = map[string]Kind{
	"scroll":      Scroll,
	"zoomandpan":  ZoomAndPan,
	"windowlevel": WindowLevel,
	"draw":        Draw,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalText encodes the kind by name so wire formats stay readable.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	if name == "unknown" || name == "" {
		*k = KindUnknown
		return nil
	}
	v, ok := kindFromName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTool, string(b))
	}
	*k = v
	return nil
}

// Shapes accepted as Draw sub-options.
var drawShapes = map[string]string{
	"ruler":      "Ruler",
	"ellipse":    "Ellipse",
	"rectangle":  "Rectangle",
	"arrow":      "Arrow",
	"circle":     "Circle",
	"protractor": "Protractor",
	"roi":        "Roi",
	"freehand":   "FreeHand",
}

// Tool is a concrete selection: a kind plus, for Draw, the shape.
type Tool struct {
	Kind   Kind   `json:"kind"`
	Option string `json:"option,omitempty"`
}

// String renders the tool the way Parse accepts it, e.g. "Draw:Ruler".
func (t Tool) String() string {
	if t.Option == "" {
		return t.Kind.String()
	}
	return t.Kind.String() + ":" + t.Option
}

// IsZero reports whether no tool is selected.
func (t Tool) IsZero() bool { return t.Kind == KindUnknown }

// Descriptor describes one registered tool and its sub-options.
type Descriptor struct {
	Name       string   `json:"name" yaml:"name"`
	SubOptions []string `json:"sub_options,omitempty" yaml:"sub_options,omitempty"`
}

// DefaultDescriptors is the stock tool set of the viewer.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{Name: "Scroll"},
		{Name: "ZoomAndPan"},
		{Name: "WindowLevel"},
		{Name: "Draw", SubOptions: []string{"Ruler", "Ellipse", "Rectangle"}},
	}
}

// Configuration errors.
var (
	ErrDuplicateTool  = errors.New("duplicate tool")
	ErrUnknownTool    = errors.New("unknown tool")
	ErrUnknownOption  = errors.New("unknown tool option")
	ErrRegistryFrozen = errors.New("tool registry is frozen")
	ErrEmptyRegistry  = errors.New("tool registry is empty")
)

// ConfigError reports an invalid tool catalog.
type ConfigError struct {
	Tool string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("tool config: %v", e.Err)
	}
	return fmt.Sprintf("tool config %q: %v", e.Tool, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

type entry struct {
	kind Kind
	desc Descriptor
}

// Registry is an ordered, append-only catalog of tools.
type Registry struct {
	entries []entry
	byKind  map[Kind]int
	frozen  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[Kind]int)}
}

// NewRegistryFrom registers every descriptor in order.
func NewRegistryFrom(descs []Descriptor) (*Registry, error) {
	r := NewRegistry()
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names are matched case-insensitively against the
// known kinds and normalized to their canonical spelling.
func (r *Registry) Register(d Descriptor) error {
	if r.frozen {
		return &ConfigError{Tool: d.Name, Err: ErrRegistryFrozen}
	}
	kind, ok := kindFromName[strings.ToLower(strings.TrimSpace(d.Name))]
	if !ok {
		return &ConfigError{Tool: d.Name, Err: ErrUnknownTool}
	}
	if _, dup := r.byKind[kind]; dup {
		return &ConfigError{Tool: d.Name, Err: ErrDuplicateTool}
	}

	opts := make([]string, 0, len(d.SubOptions))
	seen := make(map[string]bool, len(d.SubOptions))
	for _, o := range d.SubOptions {
		canon, ok := drawShapes[strings.ToLower(o)]
		if kind != Draw || !ok {
			return &ConfigError{Tool: d.Name, Err: fmt.Errorf("%w: %s", ErrUnknownOption, o)}
		}
		if seen[canon] {
			return &ConfigError{Tool: d.Name, Err: fmt.Errorf("%w: %s", ErrDuplicateTool, o)}
		}
		seen[canon] = true
		opts = append(opts, canon)
	}

	r.byKind[kind] = len(r.entries)
	r.entries = append(r.entries, entry{
		kind: kind,
		desc: Descriptor{Name: kind.String(), SubOptions: opts},
	})
	return nil
}

// Freeze rejects any further registration. It fails on an empty registry.
func (r *Registry) Freeze() error {
	if len(r.entries) == 0 {
		return &ConfigError{Err: ErrEmptyRegistry}
	}
	r.frozen = true
	return nil
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen }

// List returns copies of the registered descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = Descriptor{
			Name:       e.desc.Name,
			SubOptions: append([]string(nil), e.desc.SubOptions...),
		}
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.entries) }

// Default returns the first registered tool with its first sub-option.
func (r *Registry) Default() (Tool, bool) {
	if len(r.entries) == 0 {
		return Tool{}, false
	}
	return r.toolFor(r.entries[0], ""), true
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.byKind[kind]
	return ok
}

// Lookup resolves a user-facing name such as "WindowLevel" or "Draw:Ellipse"
// to a registered tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	base, option, _ := strings.Cut(strings.TrimSpace(name), ":")
	kind, ok := kindFromName[strings.ToLower(base)]
	if !ok {
		return Tool{}, false
	}
	idx, ok := r.byKind[kind]
	if !ok {
		return Tool{}, false
	}
	e := r.entries[idx]
	if option != "" {
		canon, ok := drawShapes[strings.ToLower(option)]
		if !ok || !contains(e.desc.SubOptions, canon) {
			return Tool{}, false
		}
		return Tool{Kind: kind, Option: canon}, true
	}
	return r.toolFor(e, ""), true
}

// Contains reports whether t is selectable from this registry.
func (r *Registry) Contains(t Tool) bool {
	idx, ok := r.byKind[t.Kind]
	if !ok {
		return false
	}
	opts := r.entries[idx].desc.SubOptions
	if t.Option == "" {
		return len(opts) == 0
	}
	return contains(opts, t.Option)
}

// Suggest returns the registered name closest to name, or "" when nothing
// is reasonably close.
func (r *Registry) Suggest(name string) string {
	base, _, _ := strings.Cut(name, ":")
	base = strings.ToLower(base)
	best, bestDist := "", 4
	for _, e := range r.entries {
		d := levenshtein.ComputeDistance(base, strings.ToLower(e.desc.Name))
		if d < bestDist {
			best, bestDist = e.desc.Name, d
		}
	}
	return best
}

func (r *Registry) toolFor(e entry, option string) Tool {
	if option == "" && len(e.desc.SubOptions) > 0 {
		option = e.desc.SubOptions[0]
	}
	return Tool{Kind: e.kind, Option: option}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
