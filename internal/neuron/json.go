package neuron

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type pageJSON struct {
	ImportantNeurons []importanceJSON `json:"important_neurons"`
}

type importanceJSON struct {
	Layer      uint32 `json:"layer"`
	Neuron     uint32 `json:"neuron"`
	Importance score  `json:"importance"`
}

// score carries float32 values through JSON. Non-finite values have no JSON
// number form and are written as the strings "NaN", "Infinity", "-Infinity".
type score float32

func (s score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 32), nil
}

func (s *score) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		switch text {
		case "NaN":
			*s = score(math.NaN())
		case "Infinity":
			*s = score(math.Inf(1))
		case "-Infinity":
			*s = score(math.Inf(-1))
		default:
			return fmt.Errorf("invalid importance %q", text)
		}
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 32)
	if err != nil {
		return fmt.Errorf("invalid importance %s: %w", data, err)
	}
	*s = score(f)
	return nil
}

// MarshalJSON renders the page in its interchange form.
func (p Page) MarshalJSON() ([]byte, error) {
	out := pageJSON{ImportantNeurons: make([]importanceJSON, 0, len(p.entries))}
	for _, e := range p.entries {
		out.ImportantNeurons = append(out.ImportantNeurons, importanceJSON{
			Layer:      e.Target.Layer,
			Neuron:     e.Target.Neuron,
			Importance: score(e.Score),
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the interchange form and re-sorts the entries.
func (p *Page) UnmarshalJSON(data []byte) error {
	var in pageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode page json: %w", err)
	}
	entries := make([]Importance, 0, len(in.ImportantNeurons))
	for _, e := range in.ImportantNeurons {
		entries = append(entries, Importance{
			Target: Index{Layer: e.Layer, Neuron: e.Neuron},
			Score:  float32(e.Importance),
		})
	}
	*p = NewPage(entries)
	return nil
}
