package rules

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ServeKind tags which arm of a Serve is set.
type ServeKind int

const (
	ServeUnset ServeKind = iota
	ServeFixed
	ServePercentage
)

func (k ServeKind) String() string {
	switch k {
	case ServeFixed:
		return "variation"
	case ServePercentage:
		return "distribution"
	default:
		return "unset"
	}
}

// Serve is the outcome of a matched rule or the default rule: either a fixed
// variation or a percentage distribution, never both. The zero value is unset.
type Serve struct {
	kind         ServeKind
	variation    string
	distribution Distribution
}

// FixedServe serves a single variation.
func FixedServe(variation string) Serve {
	return Serve{kind: ServeFixed, variation: variation}
}

// PercentageServe serves a percentage rollout.
func PercentageServe(d Distribution) Serve {
	return Serve{kind: ServePercentage, distribution: d.Clone()}
}

// Kind reports which arm is set.
func (s Serve) Kind() ServeKind { return s.kind }

// IsSet reports whether either arm is set.
func (s Serve) IsSet() bool { return s.kind != ServeUnset }

// Variation returns the fixed variation, if this is a fixed serve.
func (s Serve) Variation() (string, bool) {
	if s.kind != ServeFixed {
		return "", false
	}
	return s.variation, true
}

// Distribution returns the distribution, if this is a percentage serve.
func (s Serve) Distribution() (Distribution, bool) {
	if s.kind != ServePercentage {
		return Distribution{}, false
	}
	return s.distribution.Clone(), true
}

// Clone returns a deep copy.
func (s Serve) Clone() Serve {
	s.distribution = s.distribution.Clone()
	return s
}

// serveWire is the shape exchanged with the flag service.
type serveWire struct {
	Variation    *string       `json:"variation,omitempty" yaml:"variation,omitempty"`
	Distribution *Distribution `json:"distribution,omitempty" yaml:"distribution,omitempty"`
}

func (s Serve) toWire() serveWire {
	switch s.kind {
	case ServeFixed:
		v := s.variation
		return serveWire{Variation: &v}
	case ServePercentage:
		d := s.distribution.Clone()
		return serveWire{Distribution: &d}
	}
	return serveWire{}
}

func (w serveWire) toServe() (Serve, error) {
	switch {
	case w.Variation != nil && w.Distribution != nil:
		return Serve{}, fmt.Errorf("%w: both variation and distribution set", ErrInvalidServe)
	case w.Variation != nil:
		return FixedServe(*w.Variation), nil
	case w.Distribution != nil:
		return PercentageServe(*w.Distribution), nil
	}
	// Decodes to an unset serve; ValidateServe rejects it before anything is saved.
	return Serve{}, nil
}

// MarshalJSON implements json.Marshaler. An unset serve encodes as {} and decodes back to unset.
func (s Serve) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toWire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Serve) UnmarshalJSON(data []byte) error {
	var w serveWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out, err := w.toServe()
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Serve) MarshalYAML() (interface{}, error) {
	return s.toWire(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Serve) UnmarshalYAML(node *yaml.Node) error {
	var w serveWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	out, err := w.toServe()
	if err != nil {
		return err
	}
	*s = out
	return nil
}
