package serializer

import (
	"github.com/RoaringBitmap/roaring/roaring64"
)

// maxReportedGaps bounds the gap list of one stream in the manifest.
const maxReportedGaps = 64

// Gap is an inclusive range of sequence numbers that never arrived.
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// coverage records which sequence numbers of a stream were written.
type coverage struct {
	seen *roaring64.Bitmap
}

func newCoverage() *coverage {
	return &coverage{seen: roaring64.New()}
}

// add marks seq as written. Negative numbers are not tracked.
func (c *coverage) add(seq int64) {
	if seq >= 0 {
		c.seen.Add(uint64(seq))
	}
}

func (c *coverage) count() uint64 {
	return c.seen.GetCardinality()
}

// gaps returns the missing ranges between the lowest and highest written
// sequence number, and the total count of missing numbers.
func (c *coverage) gaps() ([]Gap, uint64) {
	if c.seen.IsEmpty() {
		return nil, 0
	}
	lo, hi := c.seen.Minimum(), c.seen.Maximum()
	missing := roaring64.Flip(c.seen, lo, hi+1)
	total := missing.GetCardinality()
	if total == 0 {
		return nil, 0
	}

	var out []Gap
	it := missing.Iterator()
	for it.HasNext() {
		v := int64(it.Next())
		if n := len(out); n > 0 && out[n-1].To == v-1 {
			out[n-1].To = v
			continue
		}
		if len(out) == maxReportedGaps {
			break
		}
		out = append(out, Gap{From: v, To: v})
	}
	return out, total
}
