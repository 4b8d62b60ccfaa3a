package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Column names one tabular attribute of a detection. The values are the
// Proteome Discoverer header names.
type Column string

const (
	ColumnSequence              Column = "Annotated Sequence"
	ColumnCharge                Column = "Charge"
	ColumnModifications         Column = "Modifications"
	ColumnAlgorithm             Column = "Identifying Node"
	ColumnFirstScan             Column = "First Scan"
	ColumnRetentionTime         Column = "RT [min]"
	ColumnPrecursorIntensity    Column = "Intensity"
	ColumnIonsScore             Column = "Ions Score"
	ColumnXCorr                 Column = "XCorr"
	ColumnConfidence            Column = "Confidence"
	ColumnIsolationInterference Column = "Isolation Interference [%]"
	ColumnQuanInfo              Column = "Quan Info"
	ColumnMasterProteins        Column = "Master Protein Accessions"
	ColumnDegeneracy            Column = "Degeneracy"
)

// Columns lists every known column in export order.
var Columns = []Column{
	ColumnSequence,
	ColumnCharge,
	ColumnModifications,
	ColumnAlgorithm,
	ColumnFirstScan,
	ColumnRetentionTime,
	ColumnPrecursorIntensity,
	ColumnIonsScore,
	ColumnXCorr,
	ColumnConfidence,
	ColumnIsolationInterference,
	ColumnQuanInfo,
	ColumnMasterProteins,
	ColumnDegeneracy,
}

// ProteinSeparator separates accessions in the master protein column.
const ProteinSeparator = "; "

// ParseColumn resolves a header name to a known column.
func ParseColumn(name string) (Column, error) {
	for _, c := range Columns {
		if strings.EqualFold(string(c), strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown column '%s'", name)
}

// Value projects a single column of d. Numeric columns are returned as int or
// float64, all others as string. Missing floats are returned as nil.
func (d *Detection) Value(c Column) (any, error) {
	switch c {
	case ColumnSequence:
		return d.Sequence, nil
	case ColumnCharge:
		return d.Charge, nil
	case ColumnModifications:
		return d.ModString(), nil
	case ColumnAlgorithm:
		return d.Algorithm.NodeName(), nil
	case ColumnFirstScan:
		return d.FirstScan, nil
	case ColumnRetentionTime:
		return floatOrNil(d.RetentionTime), nil
	case ColumnPrecursorIntensity:
		return floatOrNil(d.PrecursorIntensity), nil
	case ColumnIonsScore:
		return floatOrNil(d.IonsScore), nil
	case ColumnXCorr:
		return floatOrNil(d.XCorr), nil
	case ColumnConfidence:
		return d.Confidence, nil
	case ColumnIsolationInterference:
		return floatOrNil(d.IsolationInterference), nil
	case ColumnQuanInfo:
		return d.QuanInfo, nil
	case ColumnMasterProteins:
		return strings.Join(d.MasterProteins, ProteinSeparator), nil
	case ColumnDegeneracy:
		return d.Degeneracy, nil
	}
	return nil, fmt.Errorf("unknown column '%s'", c)
}

// Key returns the canonical grouping key of column c. Two detections share a
// key exactly when their column values are equal.
func (d *Detection) Key(c Column) string {
	v, err := d.Value(c)
	if err != nil || v == nil {
		return ""
	}
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

func floatOrNil(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
