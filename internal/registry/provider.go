package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider says how a service stores its pages. It is a closed set:
// Neuroscope or JSONFiles.
type Provider interface {
	provider()
}

// Neuroscope pages are codec files under <model>/neuroscope.
type Neuroscope struct{}

// JSONFiles pages are ready-made JSON documents under <model>/<Path>.
type JSONFiles struct {
	Path string
}

func (Neuroscope) provider() {}
func (JSONFiles) provider()  {}

// Service is one named entry in config.json.
type Service struct {
	Name     string
	Provider Provider
}

type serviceJSON struct {
	Name     string          `json:"name"`
	Provider json.RawMessage `json:"provider"`
}

type jsonFilesJSON struct {
	Path string `json:"path"`
}

// MarshalJSON renders {"name":..., "provider":"neuroscope"} or
// {"name":..., "provider":{"json":{"path":...}}}.
func (s Service) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	switch p := s.Provider.(type) {
	case Neuroscope:
		raw, err = json.Marshal("neuroscope")
	case JSONFiles:
		raw, err = json.Marshal(map[string]jsonFilesJSON{"json": {Path: p.Path}})
	case nil:
		return nil, fmt.Errorf("service %q has no provider", s.Name)
	default:
		return nil, fmt.Errorf("service %q: unknown provider %T", s.Name, p)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(serviceJSON{Name: s.Name, Provider: raw})
}

// UnmarshalJSON accepts the tag names case-insensitively.
func (s *Service) UnmarshalJSON(data []byte) error {
	var wire serviceJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Name == "" {
		return fmt.Errorf("service name is required")
	}
	p, err := decodeProvider(wire.Provider)
	if err != nil {
		return fmt.Errorf("service %q: %w", wire.Name, err)
	}
	*s = Service{Name: wire.Name, Provider: p}
	return nil
}

func decodeProvider(raw json.RawMessage) (Provider, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("provider is required")
	}
	if raw[0] == '"' {
		var tag string
		if err := json.Unmarshal(raw, &tag); err != nil {
			return nil, err
		}
		if strings.EqualFold(tag, "neuroscope") {
			return Neuroscope{}, nil
		}
		return nil, fmt.Errorf("unknown provider %q", tag)
	}
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("decode provider: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("provider must have exactly one variant, got %d", len(tagged))
	}
	for tag, body := range tagged {
		switch strings.ToLower(tag) {
		case "neuroscope":
			return Neuroscope{}, nil
		case "json":
			var files jsonFilesJSON
			if err := json.Unmarshal(body, &files); err != nil {
				return nil, fmt.Errorf("decode json provider: %w", err)
			}
			if err := validateSubpath(files.Path); err != nil {
				return nil, err
			}
			return JSONFiles{Path: files.Path}, nil
		default:
			return nil, fmt.Errorf("unknown provider %q", tag)
		}
	}
	return nil, fmt.Errorf("provider is required")
}
