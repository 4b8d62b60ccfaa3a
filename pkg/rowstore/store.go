// Package rowstore provides the in-memory table of PSM detections that the
// collapse stages transform.
package rowstore

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
)

// Store holds detections keyed by row id and remembers insertion order, so
// every traversal is deterministic.
type Store struct {
	nChannels int
	order     []int
	rows      map[int]*core.Detection
}

// Group is a set of row ids sharing one column value.
type Group struct {
	Key string
	IDs []int
}

// New creates an empty store for detections with nChannels reporter intensities.
func New(nChannels int) *Store {
	return &Store{
		nChannels: nChannels,
		rows:      make(map[int]*core.Detection),
	}
}

// NumChannels returns the number of reporter channels per row.
func (s *Store) NumChannels() int {
	return s.nChannels
}

// Add validates and inserts a detection. A zero degeneracy is set to 1.
func (s *Store) Add(d *core.Detection) error {
	if d.Degeneracy == 0 {
		d.Degeneracy = 1
	}
	if err := d.Validate(s.nChannels); err != nil {
		return err
	}
	if _, ok := s.rows[d.ID]; ok {
		return fmt.Errorf("duplicate row id %d", d.ID)
	}
	s.rows[d.ID] = d
	s.order = append(s.order, d.ID)
	return nil
}

// Len returns the number of rows.
func (s *Store) Len() int {
	return len(s.order)
}

// IDs returns the row ids in insertion order.
func (s *Store) IDs() []int {
	return append([]int(nil), s.order...)
}

// Get returns the detection with the given id.
func (s *Store) Get(id int) (*core.Detection, bool) {
	d, ok := s.rows[id]
	return d, ok
}

// Rows returns the detections for ids, in the order given.
func (s *Store) Rows(ids []int) ([]*core.Detection, error) {
	out := make([]*core.Detection, len(ids))
	for i, id := range ids {
		d, ok := s.rows[id]
		if !ok {
			return nil, fmt.Errorf("row %d not found", id)
		}
		out[i] = d
	}
	return out, nil
}

// Delete removes rows. Unknown ids are an error and leave the store untouched.
func (s *Store) Delete(ids ...int) error {
	drop := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.rows[id]; !ok {
			return fmt.Errorf("cannot delete row %d: not found", id)
		}
		drop[id] = struct{}{}
	}
	if len(drop) == 0 {
		return nil
	}

	kept := s.order[:0:0]
	for _, id := range s.order {
		if _, ok := drop[id]; ok {
			delete(s.rows, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

// SetIntensities overwrites the reporter intensities of a row.
func (s *Store) SetIntensities(id int, values []float64) error {
	d, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("row %d not found", id)
	}
	if len(values) != s.nChannels {
		return fmt.Errorf("row %d: expected %d intensities, got %d", id, s.nChannels, len(values))
	}
	d.Intensities = append(d.Intensities[:0], values...)
	return nil
}

// SetDegeneracy overwrites the degeneracy of a row. Degeneracy never decreases.
func (s *Store) SetDegeneracy(id, degeneracy int) error {
	d, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("row %d not found", id)
	}
	if degeneracy < d.Degeneracy {
		return fmt.Errorf("row %d: degeneracy cannot decrease from %d to %d", id, d.Degeneracy, degeneracy)
	}
	d.Degeneracy = degeneracy
	return nil
}

// GroupBy partitions ids by the value of col. Groups are returned in order of
// the first occurrence of their key; ids keep their relative order.
func (s *Store) GroupBy(ids []int, col core.Column) ([]Group, error) {
	index := make(map[string]int)
	var groups []Group
	for _, id := range ids {
		d, ok := s.rows[id]
		if !ok {
			return nil, fmt.Errorf("row %d not found", id)
		}
		key := d.Key(col)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].IDs = append(groups[i].IDs, id)
	}
	return groups, nil
}

// TotalDegeneracy returns the number of original detections represented.
func (s *Store) TotalDegeneracy() int {
	total := 0
	for _, id := range s.order {
		total += s.rows[id].Degeneracy
	}
	return total
}

// Clone returns an independent deep copy of the store.
func (s *Store) Clone() *Store {
	c := &Store{
		nChannels: s.nChannels,
		order:     append([]int(nil), s.order...),
		rows:      make(map[int]*core.Detection, len(s.rows)),
	}
	for id, d := range s.rows {
		c.rows[id] = d.Clone()
	}
	return c
}

// Matrix returns the intensity matrix (rows in insertion order, one column
// per channel) together with the row ids of each matrix row.
func (s *Store) Matrix() (*mat.Dense, []int) {
	ids := s.IDs()
	if len(ids) == 0 || s.nChannels == 0 {
		return nil, ids
	}
	m := mat.NewDense(len(ids), s.nChannels, nil)
	for i, id := range ids {
		m.SetRow(i, s.rows[id].Intensities)
	}
	return m, ids
}

// SetMatrix writes a matrix produced by Matrix (or derived from it) back
// into the store.
func (s *Store) SetMatrix(m *mat.Dense, ids []int) error {
	r, c := m.Dims()
	if r != len(ids) || c != s.nChannels {
		return fmt.Errorf("matrix is %dx%d, want %dx%d", r, c, len(ids), s.nChannels)
	}
	for i, id := range ids {
		row := mat.Row(nil, i, m)
		for j, v := range row {
			if math.IsInf(v, 0) {
				return fmt.Errorf("row %d channel %d: infinite value", id, j)
			}
		}
		if err := s.SetIntensities(id, row); err != nil {
			return err
		}
	}
	return nil
}
