package serializer

import (
	"sort"
)

// StreamStats summarizes what was written for one stream.
type StreamStats struct {
	Events      int64  `json:"events"`
	Skipped     int64  `json:"skipped,omitempty"`
	FirstSeq    int64  `json:"first_seq_num"`
	LastSeq     int64  `json:"last_seq_num"`
	Missing     uint64 `json:"missing,omitempty"`
	Gaps        []Gap  `json:"gaps,omitempty"`
	Generations int    `json:"generations"`
}

// Manifest is returned when a run ends. Streams maps each stream name to
// the locations of the files written for it, in creation order.
type Manifest struct {
	RunUID  string                 `json:"run_uid"`
	Status  string                 `json:"status"`
	Streams map[string][]string    `json:"streams"`
	Stats   map[string]StreamStats `json:"stats"`
	Sidecar string                 `json:"sidecar,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Paths returns the files written for stream.
func (m *Manifest) Paths(stream string) []string {
	if m == nil {
		return nil
	}
	return m.Streams[stream]
}

// Files returns every written location, sorted.
func (m *Manifest) Files() []string {
	if m == nil {
		return nil
	}
	var out []string
	for _, paths := range m.Streams {
		out = append(out, paths...)
	}
	if m.Sidecar != "" {
		out = append(out, m.Sidecar)
	}
	sort.Strings(out)
	return out
}

// StreamNames returns the names of streams with stats, sorted.
func (m *Manifest) StreamNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Stats))
	for name := range m.Stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Serializer) buildManifest() *Manifest {
	m := &Manifest{
		RunUID:  s.start.UID,
		Status:  s.state.String(),
		Streams: map[string][]string{},
		Stats:   make(map[string]StreamStats, len(s.streams)),
	}
	for label, locs := range s.files.Artifacts(s.owner) {
		if label == sidecarLabel {
			m.Sidecar = locs[0]
			continue
		}
		m.Streams[label] = locs
	}
	for name, st := range s.streams {
		m.Stats[name] = st.stats()
	}
	if s.err != nil {
		m.Error = s.err.Error()
	}
	return m
}
