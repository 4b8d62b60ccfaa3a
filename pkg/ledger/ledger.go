// Package ledger records detections removed from the working data set, one
// append-only list per processing stage.
package ledger

import (
	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
)

// Entry describes one removed row. Representative is set for rows merged into
// another detection and invalid for rows that were filtered out.
type Entry struct {
	Stage          string
	RemovedID      int
	Representative null.Int
	Saved          map[core.Column]any
}

// Ledger holds entries grouped by stage, in the order stages first appeared.
// Entries are never modified after Append.
type Ledger struct {
	stages  []string
	entries map[string][]Entry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string][]Entry)}
}

// Append adds entries to the ledger.
func (l *Ledger) Append(entries ...Entry) {
	for _, e := range entries {
		if _, ok := l.entries[e.Stage]; !ok {
			l.stages = append(l.stages, e.Stage)
		}
		l.entries[e.Stage] = append(l.entries[e.Stage], e)
	}
}

// Merge appends every entry of other, keeping other's stage order.
func (l *Ledger) Merge(other *Ledger) {
	for _, stage := range other.stages {
		l.Append(other.entries[stage]...)
	}
}

// Stages returns the stage names that have entries.
func (l *Ledger) Stages() []string {
	return append([]string(nil), l.stages...)
}

// Entries returns the entries of one stage.
func (l *Ledger) Entries(stage string) []Entry {
	return append([]Entry(nil), l.entries[stage]...)
}

// All returns every entry, stage by stage.
func (l *Ledger) All() []Entry {
	var out []Entry
	for _, stage := range l.stages {
		out = append(out, l.entries[stage]...)
	}
	return out
}

// Len returns the total number of entries.
func (l *Ledger) Len() int {
	n := 0
	for _, e := range l.entries {
		n += len(e)
	}
	return n
}

// Resolve follows representative back-references from id until it reaches a
// row that was never removed. A representative may itself be merged away by
// a later stage. ok is false when the chain ends in a filtered row.
func (l *Ledger) Resolve(id int) (final int, ok bool) {
	next := make(map[int]null.Int, l.Len())
	for _, e := range l.All() {
		next[e.RemovedID] = e.Representative
	}

	seen := make(map[int]struct{})
	for {
		rep, removed := next[id]
		if !removed {
			return id, true
		}
		if !rep.Valid {
			return id, false
		}
		if _, loop := seen[id]; loop {
			return id, false
		}
		seen[id] = struct{}{}
		id = int(rep.Int64)
	}
}

// Save projects the configured columns of d. Columns that cannot be
// projected are skipped.
func Save(d *core.Detection, columns []core.Column) map[core.Column]any {
	saved := make(map[core.Column]any, len(columns))
	for _, c := range columns {
		v, err := d.Value(c)
		if err != nil {
			continue
		}
		saved[c] = v
	}
	return saved
}

// Merged builds the entry for a row collapsed into representative.
func Merged(stage string, d *core.Detection, representative int, columns []core.Column) Entry {
	return Entry{
		Stage:          stage,
		RemovedID:      d.ID,
		Representative: null.IntFrom(int64(representative)),
		Saved:          Save(d, columns),
	}
}

// Filtered builds the entry for a row dropped without a representative.
func Filtered(stage string, d *core.Detection, columns []core.Column) Entry {
	return Entry{
		Stage:     stage,
		RemovedID: d.ID,
		Saved:     Save(d, columns),
	}
}
