package tools

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := NewRegistryFrom(DefaultDescriptors())
	if err != nil {
		t.Fatalf("NewRegistryFrom(defaults) failed: %v", err)
	}

	list := r.List()
	want := []string{"Scroll", "ZoomAndPan", "WindowLevel", "Draw"}
	if len(list) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(list))
	}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("list[%d]: expected %s, got %s", i, name, list[i].Name)
		}
	}
	if got := list[3].SubOptions; len(got) != 3 || got[0] != "Ruler" {
		t.Errorf("unexpected Draw sub-options: %v", got)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{Name: "Scroll"}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	err := r.Register(Descriptor{Name: "scroll"})
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if r.Len() != 1 {
		t.Errorf("registry grew after rejected registration: %d", r.Len())
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
		want error
	}{
		{"UnknownTool", Descriptor{Name: "Lasso"}, ErrUnknownTool},
		{"OptionOnNonDraw", Descriptor{Name: "Scroll", SubOptions: []string{"Ruler"}}, ErrUnknownOption},
		{"UnknownShape", Descriptor{Name: "Draw", SubOptions: []string{"Hexagon"}}, ErrUnknownOption},
		{"RepeatedShape", Descriptor{Name: "Draw", SubOptions: []string{"Ruler", "ruler"}}, ErrDuplicateTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.desc)
			if !errors.Is(err, tt.want) {
				t.Errorf("Register(%+v) = %v, want %v", tt.desc, err, tt.want)
			}
		})
	}
}

func TestFreeze(t *testing.T) {
	r := NewRegistry()
	if err := r.Freeze(); !errors.Is(err, ErrEmptyRegistry) {
		t.Fatalf("Freeze on empty registry = %v, want ErrEmptyRegistry", err)
	}

	_ = r.Register(Descriptor{Name: "ZoomAndPan"})
	if err := r.Freeze(); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	if err := r.Register(Descriptor{Name: "Scroll"}); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("Register after Freeze = %v, want ErrRegistryFrozen", err)
	}
}

func TestLookup(t *testing.T) {
	r, _ := NewRegistryFrom(DefaultDescriptors())

	tests := []struct {
		name   string
		want   Tool
		wantOK bool
	}{
		{"Scroll", Tool{Kind: Scroll}, true},
		{"windowlevel", Tool{Kind: WindowLevel}, true},
		{"Draw", Tool{Kind: Draw, Option: "Ruler"}, true},
		{"Draw:ellipse", Tool{Kind: Draw, Option: "Ellipse"}, true},
		{"Draw:Arrow", Tool{}, false},
		{"Lasso", Tool{}, false},
	}

	for _, tt := range tests {
		got, ok := r.Lookup(tt.name)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Lookup(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestLookupUnregisteredKind(t *testing.T) {
	r, _ := NewRegistryFrom([]Descriptor{{Name: "ZoomAndPan"}})
	if _, ok := r.Lookup("Scroll"); ok {
		t.Error("Lookup found a kind that was never registered")
	}
	if r.Has(Scroll) {
		t.Error("Has(Scroll) = true for registry without Scroll")
	}
}

func TestContainsAndDefault(t *testing.T) {
	r, _ := NewRegistryFrom(DefaultDescriptors())

	def, ok := r.Default()
	if !ok || def != (Tool{Kind: Scroll}) {
		t.Fatalf("Default() = %v, %v", def, ok)
	}
	if !r.Contains(Tool{Kind: Draw, Option: "Rectangle"}) {
		t.Error("Contains(Draw:Rectangle) = false")
	}
	if r.Contains(Tool{Kind: Draw}) {
		t.Error("Contains(Draw) without option should be false")
	}
	if r.Contains(Tool{}) {
		t.Error("Contains(zero tool) should be false")
	}
}

func TestSuggest(t *testing.T) {
	r, _ := NewRegistryFrom(DefaultDescriptors())

	if got := r.Suggest("Scrol"); got != "Scroll" {
		t.Errorf("Suggest(Scrol) = %q, want Scroll", got)
	}
	if got := r.Suggest("Zoom&Pan"); got != "ZoomAndPan" {
		t.Errorf("Suggest(Zoom&Pan) = %q, want ZoomAndPan", got)
	}
	if got := r.Suggest("Histogram"); got != "" {
		t.Errorf("Suggest(Histogram) = %q, want empty", got)
	}
}

func TestListReturnsCopy(t *testing.T) {
	r, _ := NewRegistryFrom(DefaultDescriptors())
	list := r.List()
	list[3].SubOptions[0] = "Mutated"

	if r.List()[3].SubOptions[0] != "Ruler" {
		t.Error("List did not return a copy; mutation leaked into registry")
	}
}

func TestToolString(t *testing.T) {
	if got := (Tool{Kind: Draw, Option: "Ruler"}).String(); got != "Draw:Ruler" {
		t.Errorf("String() = %q", got)
	}
	if got := (Tool{Kind: WindowLevel}).String(); got != "WindowLevel" {
		t.Errorf("String() = %q", got)
	}
}

func TestToolJSON(t *testing.T) {
	in := Tool{Kind: Draw, Option: "Ellipse"}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(raw) != `{"kind":"Draw","option":"Ellipse"}` {
		t.Errorf("encoded as %s", raw)
	}
	var out Tool
	if err := json.Unmarshal(raw, &out); err != nil || out != in {
		t.Errorf("decoded %+v, %v", out, err)
	}

	var zero Tool
	if err := json.Unmarshal([]byte(`{"kind":"unknown"}`), &zero); err != nil || !zero.IsZero() {
		t.Errorf("unknown kind decoded to %+v, %v", zero, err)
	}
	if err := json.Unmarshal([]byte(`{"kind":"Lasso"}`), &zero); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}
