// Package psm provides a streaming reader for delimited PSM exports
package psm

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// requiredColumns must be present in every input header.
var requiredColumns = []core.Column{
	core.ColumnSequence,
	core.ColumnCharge,
	core.ColumnAlgorithm,
	core.ColumnFirstScan,
}

// Options configures a Reader.
type Options struct {
	Delimiter      rune     // Field delimiter (0 = tab)
	ChannelColumns []string // Reporter intensity headers, in channel order
	ModDB          *core.ModDatabase
}

// Reader provides streaming access to a delimited PSM export
type Reader struct {
	csv      *csv.Reader
	opts     Options
	header   []string
	columns  map[core.Column]int
	channels []int
	lineNum  int
	nextID   int
	current  *core.Detection
	err      error
}

// NewReader creates a new PSM reader and reads the header line.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = '\t'
	}
	if opts.ModDB == nil {
		opts.ModDB = core.DefaultModDatabase()
	}
	if len(opts.ChannelColumns) == 0 {
		return nil, fmt.Errorf("no reporter channel columns configured")
	}

	c := csv.NewReader(r)
	c.Comma = opts.Delimiter
	c.FieldsPerRecord = -1
	c.LazyQuotes = true

	header, err := c.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	rd := &Reader{
		csv:     c,
		opts:    opts,
		header:  header,
		columns: make(map[core.Column]int),
		lineNum: 1,
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.Trim(strings.TrimSpace(name), "\"")
		index[name] = i
		if col, err := core.ParseColumn(name); err == nil {
			rd.columns[col] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := rd.columns[col]; !ok {
			missing = append(missing, string(col))
		}
	}
	for _, name := range opts.ChannelColumns {
		i, ok := index[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		rd.channels = append(rd.channels, i)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns in header: %s", strings.Join(missing, ", "))
	}

	return rd, nil
}

// Header returns the raw header fields.
func (r *Reader) Header() []string {
	return append([]string(nil), r.header...)
}

// Next advances to the next detection. Returns false when no more rows or error.
func (r *Reader) Next() bool {
	r.current = nil
	for {
		record, err := r.csv.Read()
		if err != nil {
			if err != io.EOF {
				r.err = fmt.Errorf("line %d: %w", r.lineNum+1, err)
			}
			return false
		}
		r.lineNum++
		if isBlank(record) {
			continue
		}

		d, err := r.parseRecord(record)
		if err != nil {
			r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
			return false
		}
		r.current = d
		return true
	}
}

// Detection returns the current detection
func (r *Reader) Detection() *core.Detection {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// parseRecord converts one data line into a detection. Row ids are assigned
// in file order starting at 0.
func (r *Reader) parseRecord(record []string) (*core.Detection, error) {
	d := &core.Detection{
		ID:          r.nextID,
		Intensities: make([]float64, len(r.channels)),
		Degeneracy:  1,
	}
	r.nextID++

	d.Sequence = r.field(record, core.ColumnSequence)

	var err error
	if d.Charge, err = strconv.Atoi(r.field(record, core.ColumnCharge)); err != nil {
		return nil, fmt.Errorf("invalid charge: %w", err)
	}
	if d.FirstScan, err = strconv.Atoi(r.field(record, core.ColumnFirstScan)); err != nil {
		return nil, fmt.Errorf("invalid first scan: %w", err)
	}
	if d.Algorithm, err = core.ParseAlgorithm(r.field(record, core.ColumnAlgorithm)); err != nil {
		return nil, err
	}
	if d.Modifications, err = r.opts.ModDB.ParseModifications(r.field(record, core.ColumnModifications), d.Sequence); err != nil {
		return nil, err
	}

	floats := []struct {
		col core.Column
		dst *float64
	}{
		{core.ColumnRetentionTime, &d.RetentionTime},
		{core.ColumnPrecursorIntensity, &d.PrecursorIntensity},
		{core.ColumnIonsScore, &d.IonsScore},
		{core.ColumnXCorr, &d.XCorr},
		{core.ColumnIsolationInterference, &d.IsolationInterference},
	}
	for _, f := range floats {
		if *f.dst, err = parseFloat(r.field(record, f.col)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.col, err)
		}
	}

	for i, idx := range r.channels {
		v := ""
		if idx < len(record) {
			v = record[idx]
		}
		if d.Intensities[i], err = parseFloat(v); err != nil {
			return nil, fmt.Errorf("invalid intensity in channel %s: %w", r.opts.ChannelColumns[i], err)
		}
	}

	d.Confidence = r.field(record, core.ColumnConfidence)
	d.QuanInfo = r.field(record, core.ColumnQuanInfo)
	d.MasterProteins = SplitProteins(r.field(record, core.ColumnMasterProteins))

	if s := r.field(record, core.ColumnDegeneracy); s != "" {
		if d.Degeneracy, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("invalid degeneracy: %w", err)
		}
	}

	return d, nil
}

// field returns the trimmed value of col, or "" when the column is absent.
func (r *Reader) field(record []string, col core.Column) string {
	i, ok := r.columns[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.Trim(strings.TrimSpace(record[i]), "\"")
}

// SplitProteins splits a master protein accession field.
func SplitProteins(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseFloat parses a numeric field. Empty fields and "NaN" are missing.
func parseFloat(s string) (float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "\"")
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// ReadAll reads every detection of r into a new store.
func ReadAll(r io.Reader, opts Options) (*rowstore.Store, error) {
	rd, err := NewReader(r, opts)
	if err != nil {
		return nil, err
	}
	s := rowstore.New(len(opts.ChannelColumns))
	for rd.Next() {
		if err := s.Add(rd.Detection()); err != nil {
			return nil, fmt.Errorf("line %d: %w", rd.lineNum, err)
		}
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}
	return s, nil
}
