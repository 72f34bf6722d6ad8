package fabric

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the serialization of a topology description.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks a format from a file extension, defaulting to YAML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Marshal serializes the topology description.
func Marshal(t *Topology, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		raw, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling topology to json: %w", err)
		}
		return append(raw, '\n'), nil
	case FormatYAML, "":
		raw, err := yaml.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("marshaling topology to yaml: %w", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("unknown description format %q", format)
}

// Unmarshal parses a description and runs the structural self-checks on it.
func Unmarshal(raw []byte, format Format) (*Topology, error) {
	var t Topology
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(raw, &t)
	case FormatYAML, "":
		err = yaml.Unmarshal(raw, &t)
	default:
		return nil, fmt.Errorf("unknown description format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing topology description: %w", err)
	}

	t.index()
	if err := Validate(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// WriteFile stores the description, choosing the format from the extension.
func WriteFile(path string, t *Topology) error {
	raw, err := Marshal(t, FormatForPath(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing topology to %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a description written by WriteFile.
func ReadFile(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw, FormatForPath(path))
}

// DumpConnections writes one line per node listing "port:peer" pairs,
// hosts first.
func DumpConnections(w io.Writer, t *Topology) error {
	conns := make(map[string][]Link)
	for _, l := range t.Links {
		conns[l.A.Node] = append(conns[l.A.Node], l)
		conns[l.B.Node] = append(conns[l.B.Node], l)
	}

	line := func(node string) error {
		links := conns[node]
		parts := make([]string, 0, len(links))
		for _, l := range links {
			local, remote := l.A, l.B
			if l.B.Node == node {
				local, remote = l.B, l.A
			}
			parts = append(parts, fmt.Sprintf("%d:%s", local.Port, remote))
		}
		sort.Strings(parts)
		_, err := fmt.Fprintf(w, "%s %s\n", node, strings.Join(parts, " "))
		return err
	}

	for _, h := range t.Hosts {
		if err := line(h.Name); err != nil {
			return err
		}
	}
	for _, sw := range t.Switches {
		if err := line(sw.Name); err != nil {
			return err
		}
	}
	return nil
}

// Summary is the count breakdown of a topology.
type Summary struct {
	K           int `json:"k" yaml:"k"`
	Pods        int `json:"pods" yaml:"pods"`
	Core        int `json:"core" yaml:"core"`
	Aggregation int `json:"aggregation" yaml:"aggregation"`
	Edge        int `json:"edge" yaml:"edge"`
	Hosts       int `json:"hosts" yaml:"hosts"`
	Links       int `json:"links" yaml:"links"`
}

// Summarize counts the elements of t.
func Summarize(t *Topology) Summary {
	return Summary{
		K:           t.K,
		Pods:        t.K,
		Core:        len(t.SwitchesInTier(TierCore)),
		Aggregation: len(t.SwitchesInTier(TierAggregation)),
		Edge:        len(t.SwitchesInTier(TierEdge)),
		Hosts:       len(t.Hosts),
		Links:       len(t.Links),
	}
}
