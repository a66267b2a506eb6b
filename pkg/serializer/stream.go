package serializer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/logflow/docexport/internal/model"
	"github.com/logflow/docexport/pkg/filemanager"
	"github.com/logflow/docexport/pkg/format"
)

type streamRole int

const (
	roleData streamRole = iota
	roleIgnored
	roleMetadata
)

// stream is the state of one named stream of the open run. A schema change
// starts a new generation; earlier generations keep their handles until the
// run is released.
type stream struct {
	name        string
	desc        model.Descriptor
	fingerprint string
	generation  int

	// Output of the current generation, set by the first event.
	handle *filemanager.Handle
	enc    format.Encoder
	schema format.Schema

	// files lists the locations of every generation opened so far.
	files []string

	hasSeq  bool
	lastSeq int64

	events   int64
	skipped  int64
	firstSeq int64
	maxSeq   int64
	seqs     *coverage
}

func newStream(desc model.Descriptor, fp string) *stream {
	return &stream{
		name:        desc.Name,
		desc:        desc,
		fingerprint: fp,
		generation:  1,
		seqs:        newCoverage(),
	}
}

// rotate starts a new generation for desc. The sequence carries over: a
// stream's seq_num keeps increasing across schema changes.
func (st *stream) rotate(desc model.Descriptor, fp string) {
	st.desc = desc
	st.fingerprint = fp
	st.generation++
	st.handle = nil
	st.enc = nil
	st.schema = format.Schema{}
}

// accept reports whether seq is past the last written sequence number of
// the stream.
func (st *stream) accept(seq int64) bool {
	return !st.hasSeq || seq > st.lastSeq
}

func (st *stream) written(seq int64) {
	if st.events == 0 || seq < st.firstSeq {
		st.firstSeq = seq
	}
	if st.events == 0 || seq > st.maxSeq {
		st.maxSeq = seq
	}
	st.events++
	st.hasSeq = true
	st.lastSeq = seq
	st.seqs.add(seq)
}

func (st *stream) stats() StreamStats {
	gaps, missing := st.seqs.gaps()
	return StreamStats{
		Events:      st.events,
		Skipped:     st.skipped,
		FirstSeq:    st.firstSeq,
		LastSeq:     st.maxSeq,
		Missing:     missing,
		Gaps:        gaps,
		Generations: st.generation,
	}
}

// fingerprint identifies the schema of a descriptor. Descriptors with equal
// fingerprints write into the same file.
func fingerprint(d model.Descriptor) string {
	var sb strings.Builder
	for _, key := range d.Keys() {
		dk := d.DataKeys[key]
		fmt.Fprintf(&sb, "%s|%s|%v|%t|%s;", key, strings.ToLower(dk.Dtype), dk.Shape, dk.IsExternal(),
			strings.Join(dk.MemberNames(), ","))
	}
	return sb.String()
}

// plotAnnotations returns the axes and signals configured for stream.
func plotAnnotations(plots []Plot, stream string) (axes, signals []string) {
	for _, p := range plots {
		if p.Stream != stream {
			continue
		}
		if p.X != "" {
			axes = appendUnique(axes, p.X)
		}
		if p.Z != "" {
			if len(p.Y) > 0 {
				axes = appendUnique(axes, p.Y[0])
			}
			signals = appendUnique(signals, p.Z)
			continue
		}
		for _, y := range p.Y {
			signals = appendUnique(signals, y)
		}
	}
	return axes, signals
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
