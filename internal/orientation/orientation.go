// Package orientation models the viewing plane of a loaded volume and the
// fixed cycle the viewer walks through when the user toggles it.
package orientation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Orientation is the anatomical plane a volume is displayed in.
type Orientation int

const (
	// Unset means no plane has been chosen; the engine picks its default.
	Unset Orientation = iota
	Axial
	Coronal
	Sagittal
)

var names = map[Orientation]string{
	Unset:    "",
	Axial:    "axial",
	Coronal:  "coronal",
	Sagittal: "sagittal",
}

func (o Orientation) String() string {
	if s, ok := names[o]; ok {
		if s == "" {
			return "unset"
		}
		return s
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// EngineName is the value passed to the engine view config; empty for Unset.
func (o Orientation) EngineName() string {
	return names[o]
}

// Next returns the plane that follows o in the toggle cycle
// axial -> coronal -> sagittal -> axial. Unset advances to coronal,
// since the engine default for an unset plane is axial.
func Next(o Orientation) Orientation {
	switch o {
	case Axial, Unset:
		return Coronal
	case Coronal:
		return Sagittal
	default:
		return Axial
	}
}

// Parse converts a plane name to an Orientation.
func Parse(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unset":
		return Unset, nil
	case "axial":
		return Axial, nil
	case "coronal":
		return Coronal, nil
	case "sagittal":
		return Sagittal, nil
	}
	return Unset, fmt.Errorf("unknown orientation %q", s)
}

func (o Orientation) MarshalJSON() ([]byte, error) {
	return json.Marshal(names[o])
}

func (o *Orientation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*o = v
	return nil
}
