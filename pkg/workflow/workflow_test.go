package workflow

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/collapse"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/config"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/protein"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/reader/psm"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/writer/sqlite"
)

// Rows 0-2 are a PSM and an RT duplicate of AAK, row 4 is shared by P1 and
// P2 and row 6 has no score.
const data = "Annotated Sequence\tCharge\tMaster Protein Accessions\tFirst Scan\tIdentifying Node\tRT [min]\tIons Score\tXCorr\t126\t127\t128\t129\n" +
	"AAK\t2\tP1\t10\tMascot (A6)\t30.0\t40\t\t10\t10\t20\t20\n" +
	"AAK\t2\tP1\t10\tSequest HT (A2)\t30.0\t\t2.1\t12\t12\t22\t22\n" +
	"AAK\t2\tP1\t11\tMascot (A6)\t31.0\t35\t\t12\t12\t22\t22\n" +
	"CCK\t2\tP1\t20\tMascot (A6)\t40.0\t30\t\t5\t6\t10\t12\n" +
	"DDK\t3\tP1; P2\t30\tMascot (A6)\t50.0\t30\t\t1\t1\t1\t1\n" +
	"EEK\t2\tP2\t40\tMascot (A6)\t60.0\t30\t\t3\t3\t3\t3\n" +
	"FFK\t2\tP3\t50\tMascot (A6)\t70.0\t\t\t1\t1\t1\t1\n"

const job = `
name: bsa
output: results.db
conditions: [control, treated]
experiments:
  - name: run1
    data: run1.tsv
    channels: ["126", "127", "128", "129"]
    conditions:
      control: ["126", "127"]
      treated: ["128", "129"]
`

func parseJob(t *testing.T, yaml string) *config.Job {
	t.Helper()
	j, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return j
}

func readData(t *testing.T, e config.Experiment) *rowstore.Store {
	t.Helper()
	s, err := psm.ReadAll(strings.NewReader(data), e.ReaderOptions(nil))
	require.NoError(t, err)
	return s
}

func TestProcess(t *testing.T) {
	j := parseJob(t, job)
	e := j.Experiments[0]
	raw := readData(t, e)

	got, err := Process(e, raw, j.Conditions, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 7, raw.Len())
	assert.Equal(t, collapse.StatePTMCollapsed, got.State)
	assert.Equal(t, []int{0, 3, 4, 5}, got.Store.IDs())
	assert.Equal(t, []string{"missing", "PSMAlgo", "RT"}, got.Ledger.Stages())
	assert.Equal(t, raw.TotalDegeneracy(), got.Store.TotalDegeneracy()+len(got.Ledger.Entries("missing")))

	d, _ := got.Store.Get(0)
	assert.Equal(t, 3, d.Degeneracy)
	assert.Equal(t, []float64{11.5, 11.5, 21.5, 21.5}, d.Intensities)

	assert.Equal(t, []int{0, 3}, got.Mapping.Min["P1"])
	assert.Equal(t, []int{0, 3, 4}, got.Mapping.Max["P1"])
	assert.Equal(t, []int{4, 5}, got.Mapping.Max["P2"])

	require.Len(t, got.RTIsolation, 1)
	assert.Equal(t, 0, got.RTIsolation[0].Representative)
	assert.Equal(t, 31.0, got.RTIsolation[0].Mean.Float64)

	want := []protein.Condition{{Name: "control", Channels: []int{0, 1}}, {Name: "treated", Channels: []int{2, 3}}}
	if diff := cmp.Diff(want, got.Conditions); diff != "" {
		t.Errorf("Conditions mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessRelativeNormalization(t *testing.T) {
	j := parseJob(t, job+"    normalization: relative\n")
	e := j.Experiments[0]

	got, err := Process(e, readData(t, e), j.Conditions, zerolog.Nop())
	require.NoError(t, err)
	for _, id := range got.Store.IDs() {
		d, _ := got.Store.Get(id)
		assert.InDelta(t, 1.0, floats.Sum(d.Intensities), 1e-12)
	}
}

func TestProcessRejectsBadConfig(t *testing.T) {
	j := parseJob(t, job)
	e := j.Experiments[0]
	e.Normalization = "constand"

	_, err := Process(e, readData(t, e), j.Conditions, zerolog.Nop())
	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "normalization", cfgErr.Field)
}

func TestAnalyze(t *testing.T) {
	j := parseJob(t, job)
	e := j.Experiments[0]
	processed, err := Process(e, readData(t, e), j.Conditions, zerolog.Nop())
	require.NoError(t, err)

	a, err := Analyze(j, []*Experiment{processed}, zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, a.Min, 2)
	p1 := a.Min[0]
	assert.Equal(t, "P1", p1.Protein)
	assert.Equal(t, []string{"AAK", "CCK"}, p1.Peptides)
	assert.Equal(t, []float64{11.5, 5, 11.5, 6}, p1.Condition1())
	assert.Equal(t, []float64{21.5, 10, 21.5, 12}, p1.Condition2())
	assert.True(t, p1.PValue.Valid)
	assert.True(t, p1.AdjustedPValue.Valid)
	assert.InDelta(t, (11.5+5+11.5+6)/(21.5+10+21.5+12), p1.FoldChange.Float64, 1e-12)

	require.Len(t, a.Max, 2)
	assert.Equal(t, []string{"AAK", "CCK", "DDK"}, a.Max[0].Peptides)

	assert.Equal(t, []string{"run1/126", "run1/127", "run1/128", "run1/129"}, a.Channels)
	assert.InDelta(t, (11.5+5+1)/3, a.Intensities.At(0, 0), 1e-12)
	require.NotNil(t, a.PCA)
	rows, _ := a.PCA.Scores.Dims()
	assert.Equal(t, 4, rows)
	assert.Len(t, a.Linkage, 3)
	assert.NotNil(t, a.Report)
}

func TestCombineAcrossExperiments(t *testing.T) {
	build := func(values ...float64) *Experiment {
		s := rowstore.New(len(values))
		require.NoError(t, s.Add(&core.Detection{
			ID: 1, Sequence: "AAK", Charge: 2, FirstScan: 1, Algorithm: core.AlgorithmMascot,
			Intensities: values, MasterProteins: []string{"P1"},
		}))
		return &Experiment{Store: s, Mapping: protein.Build(s, zerolog.Nop())}
	}
	a := build(1, 2)
	a.Name = "a"
	a.Conditions = []protein.Condition{{Name: "ctl", Channels: []int{0}}, {Name: "trt"}}
	b := build(3, 4, 5)
	b.Name = "b"
	b.Conditions = []protein.Condition{{Name: "ctl", Channels: []int{2}}, {Name: "trt", Channels: []int{0, 1}}}

	table, err := combine([]string{"ctl", "trt"}, []*Experiment{a, b}, func(e *Experiment) map[string][]int { return e.Mapping.Min })
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, [][]float64{{1, 5}, {3, 4}}, table[0].Intensities)
	assert.Equal(t, []string{"AAK"}, table[0].Peptides)
}

func TestReport(t *testing.T) {
	rec := func(name string, adj, fc float64) *protein.Record {
		return &protein.Record{Protein: name, AdjustedPValue: null.FloatFrom(adj), FoldChange: null.FloatFrom(fc)}
	}
	minTable := protein.Table{rec("P1", 0.04, 2), rec("P2", 0.01, 0.25), rec("P3", 0.2, 3), rec("P4", 0.01, 1.1)}
	maxTable := protein.Table{rec("P1", 0.03, 2), rec("P5", 0.001, 4), {Protein: "P6"}}

	rep := report(minTable, maxTable, 0.05, 1.5)
	names := func(rs []*protein.Record) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.Protein
		}
		return out
	}
	assert.Equal(t, []string{"P2", "P1"}, names(rep.Min))
	assert.Equal(t, []string{"P5", "P1"}, names(rep.Max))
	assert.Equal(t, []string{"P2"}, rep.OnlyMin)
	assert.Equal(t, []string{"P5"}, rep.OnlyMax)
}

func TestSummarize(t *testing.T) {
	j := parseJob(t, job)
	sum := Summarize(readData(t, j.Experiments[0]))

	assert.Equal(t, 7, sum.Detections)
	assert.Equal(t, 5, sum.Sequences)
	assert.Equal(t, 3, sum.Proteins)
	assert.Equal(t, 1, sum.Shared)
	assert.Equal(t, 0, sum.Missing)
	assert.Equal(t, map[core.Algorithm]int{core.AlgorithmMascot: 6, core.AlgorithmSequest: 1}, sum.ByAlgorithm)
	assert.Equal(t, []core.Algorithm{core.AlgorithmMascot, core.AlgorithmSequest}, sum.Algorithms())
}

func TestRunAndWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run1.tsv"), []byte(data), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job.yaml"), []byte(job), 0o644))

	j, err := config.Load(filepath.Join(dir, "job.yaml"))
	require.NoError(t, err)

	res, err := NewRunner(j, 2, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Experiments, 1)

	w, err := sqlite.NewWriter(j.Output, false)
	require.NoError(t, err)
	require.NoError(t, Write(w, j, res))
	require.NoError(t, w.Finalize())

	db, err := sql.Open("sqlite3", j.Output)
	require.NoError(t, err)
	defer db.Close()

	counts := map[string]int{
		"DetectionTable":   4,
		"RemovedDataTable": 3,
		"ProteinTable":     4,
		"RTIsolationTable": 1,
		"PCATable":         8,
		"LinkageTable":     3,
	}
	for table, want := range counts {
		var got int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&got))
		assert.Equal(t, want, got, table)
	}
}

func TestRunMissingData(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job.yaml"), []byte(job), 0o644))
	j, err := config.Load(filepath.Join(dir, "job.yaml"))
	require.NoError(t, err)

	_, err = NewRunner(j, 0, zerolog.Nop()).Run(context.Background())
	assert.ErrorContains(t, err, "experiment run1")
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job.yaml"), []byte(job), 0o644))
	j, err := config.Load(filepath.Join(dir, "job.yaml"))
	require.NoError(t, err)

	// No data yet: the run fails and no output appears.
	_, err = NewRunner(j, 1, zerolog.Nop()).Save(context.Background(), false)
	assert.ErrorContains(t, err, "experiment run1")
	assert.NoFileExists(t, j.Output)
	assert.NoFileExists(t, j.Output+".tmp")

	// A failed forced rerun keeps the previous output.
	require.NoError(t, os.WriteFile(j.Output, []byte("previous"), 0o644))
	_, err = NewRunner(j, 1, zerolog.Nop()).Save(context.Background(), true)
	assert.Error(t, err)
	content, err := os.ReadFile(j.Output)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(content))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run1.tsv"), []byte(data), 0o644))
	_, err = NewRunner(j, 1, zerolog.Nop()).Save(context.Background(), false)
	assert.ErrorIs(t, err, sqlite.ErrOutputExists)

	res, err := NewRunner(j, 1, zerolog.Nop()).Save(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, res.Experiments, 1)

	db, err := sql.Open("sqlite3", j.Output)
	require.NoError(t, err)
	defer db.Close()
	var id string
	require.NoError(t, db.QueryRow(`SELECT JobId FROM JobTable`).Scan(&id))
	assert.Equal(t, res.ID.String(), id)
}

func TestChannelMatrixMissingProtein(t *testing.T) {
	s := rowstore.New(1)
	require.NoError(t, s.Add(&core.Detection{
		ID: 1, Sequence: "AAK", Charge: 2, FirstScan: 1, Algorithm: core.AlgorithmMascot,
		Intensities: []float64{7}, MasterProteins: []string{"P1"},
	}))
	e1 := &Experiment{Name: "x", Channels: []string{"c"}, Store: s, Mapping: protein.Build(s, zerolog.Nop())}
	e2 := &Experiment{Name: "y", Channels: []string{"c"}, Store: rowstore.New(1), Mapping: protein.Mapping{}}

	labels, m := channelMatrix([]*Experiment{e1, e2}, protein.Table{{Protein: "P1"}})
	assert.Equal(t, []string{"x/c", "y/c"}, labels)
	assert.Equal(t, 7.0, m.At(0, 0))
	assert.True(t, math.IsNaN(m.At(0, 1)))
}
