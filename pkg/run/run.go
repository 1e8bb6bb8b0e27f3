// Package run defines the profiling run record accepted by dperfd and the
// rules an inbound record must satisfy before it is stored.
package run

import (
	"bytes"
	"encoding/json"
)

// Run is a single recorded profiling session.
type Run struct {
	Name       string    `json:"name"`
	RunID      int64     `json:"runId"`
	Time       float64   `json:"time"`
	Version    string    `json:"version"`
	Model      string    `json:"model"`
	SampleRate float64   `json:"sampleRate"`
	Duration   float64   `json:"duration"`
	Samples    []float64 `json:"samples"`
}

// Summary is the listing projection of a Run.
type Summary struct {
	RunID int64   `json:"runId"`
	Name  string  `json:"name"`
	Time  float64 `json:"time"`
}

// Summary returns the listing projection of r.
func (r *Run) Summary() Summary {
	return Summary{
		RunID: r.RunID,
		Name:  r.Name,
		Time:  r.Time,
	}
}

// Groups holds run summaries grouped by name. Names keep the order in
// which they were first seen, and that is also their key order in JSON.
type Groups struct {
	names  []string
	byName map[string][]Summary
}

// GroupByName groups summaries by run name. Within each group the input
// order is preserved.
func GroupByName(summaries []Summary) *Groups {
	g := &Groups{byName: make(map[string][]Summary, len(summaries))}

	for _, s := range summaries {
		if _, ok := g.byName[s.Name]; !ok {
			g.names = append(g.names, s.Name)
		}

		g.byName[s.Name] = append(g.byName[s.Name], s)
	}

	return g
}

// Names returns the group names in first-seen order.
func (g *Groups) Names() []string {
	return g.names
}

// Get returns the summaries stored under name.
func (g *Groups) Get(name string) []Summary {
	return g.byName[name]
}

// Len returns the number of groups.
func (g *Groups) Len() int {
	return len(g.names)
}

// MarshalJSON encodes the groups as an object keyed by name.
func (g *Groups) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, name := range g.names {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}

		runs, err := json.Marshal(g.byName[name])
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(runs)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
