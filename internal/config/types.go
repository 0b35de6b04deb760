package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Duration is a YAML scalar in seconds ("2", 0.25) or a Go duration string
// ("1500ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if s, ok := raw.(string); ok && strings.IndexFunc(s, isUnit) >= 0 {
		v, err := cast.ToDurationE(s)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		*d = Duration(v)
		return nil
	}
	secs, err := cast.ToFloat64E(raw)
	if err != nil {
		return fmt.Errorf("line %d: expected seconds, got %q", n.Line, n.Value)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func isUnit(r rune) bool {
	return r >= 'a' && r <= 'z' && r != 'e'
}

// Port accepts 5432 or "5432".
type Port int

func (p *Port) UnmarshalYAML(n *yaml.Node) error {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return err
	}
	v, err := cast.ToIntE(raw)
	if err != nil || v < 0 || v > 65535 {
		return fmt.Errorf("line %d: invalid port %q", n.Line, n.Value)
	}
	*p = Port(v)
	return nil
}
