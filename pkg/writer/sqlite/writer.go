// Package sqlite provides SQLite database writing for processing and analysis results
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/analysis"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/ledger"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/protein"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

const (
	// Date format for JobTable (ISO 8601)
	jobDateFormat = "2006-01-02 15:04:05"
)

// ErrOutputExists is returned when the output file exists and overwriting was
// not requested.
var ErrOutputExists = errors.New("output already exists")

// Job describes the run stored in JobTable.
type Job struct {
	ID     uuid.UUID
	Name   string
	Config any // Stored as JSON
}

// Writer handles writing results to SQLite database files. The database is
// built next to the output and only moved into place by Finalize.
type Writer struct {
	db         *sql.DB
	outputPath string
	tmpPath    string
	jobID      uuid.UUID
	closed     bool
}

// CheckOutput refuses an existing file at outputPath unless force is set.
func CheckOutput(outputPath string, force bool) error {
	_, err := os.Stat(outputPath)
	switch {
	case err == nil:
		if !force {
			return fmt.Errorf("%s: %w (use --force to overwrite)", outputPath, ErrOutputExists)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to check output: %w", err)
	}
	return nil
}

// NewWriter creates a new SQLite writer. An existing file at outputPath is
// refused unless force is set, in which case Finalize replaces it.
func NewWriter(outputPath string, force bool) (*Writer, error) {
	if err := CheckOutput(outputPath, force); err != nil {
		return nil, err
	}
	tmpPath := outputPath + ".tmp"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale output: %w", err)
	}

	db, err := sql.Open("sqlite3", tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		outputPath: outputPath,
		tmpPath:    tmpPath,
	}

	if err := w.createTables(); err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS JobTable (
		JobId TEXT PRIMARY KEY,
		JobName TEXT,
		CreationDate TEXT,
		FinishDate TEXT,
		Config TEXT
	);

	CREATE TABLE IF NOT EXISTS DetectionTable (
		Experiment TEXT,
		RowId INTEGER,
		Sequence TEXT,
		Charge INTEGER,
		Modifications TEXT,
		IdentifyingNode TEXT,
		FirstScan INTEGER,
		RetentionTime DOUBLE,
		PrecursorIntensity DOUBLE,
		TheoreticalMZ DOUBLE,
		Degeneracy INTEGER,
		MasterProteins TEXT,
		blobIntensity BLOB,
		PRIMARY KEY (Experiment, RowId)
	);

	CREATE TABLE IF NOT EXISTS RemovedDataTable (
		Experiment TEXT,
		Stage TEXT,
		RemovedId INTEGER,
		Representative INTEGER,
		Saved TEXT
	);

	CREATE TABLE IF NOT EXISTS ProteinTable (
		Variant TEXT,
		Protein TEXT,
		Peptides TEXT,
		blobCondition1 BLOB,
		blobCondition2 BLOB,
		PValue DOUBLE,
		AdjustedPValue DOUBLE,
		FoldChange DOUBLE,
		PRIMARY KEY (Variant, Protein)
	);

	CREATE TABLE IF NOT EXISTS RTIsolationTable (
		Experiment TEXT,
		Representative INTEGER,
		Degeneracy INTEGER,
		Mean DOUBLE,
		Std DOUBLE,
		MaxMin DOUBLE
	);

	CREATE TABLE IF NOT EXISTS PCATable (
		Channel TEXT,
		Component INTEGER,
		Score DOUBLE,
		ExplainedVarianceRatio DOUBLE
	);

	CREATE TABLE IF NOT EXISTS LinkageTable (
		Step INTEGER PRIMARY KEY,
		LeftCluster INTEGER,
		RightCluster INTEGER,
		Distance DOUBLE,
		Size INTEGER
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// WriteJob records the job. It must be called before Finalize.
func (w *Writer) WriteJob(job Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to encode job config: %w", err)
	}
	_, err = w.db.Exec(`
		INSERT INTO JobTable (JobId, JobName, CreationDate, FinishDate, Config)
		VALUES (?, ?, ?, ?, ?)
	`, job.ID.String(), job.Name, time.Now().Format(jobDateFormat), nil, string(cfg))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	w.jobID = job.ID
	return nil
}

// WriteDetections writes the rows of one experiment's data set
func (w *Writer) WriteDetections(experiment string, s *rowstore.Store) error {
	return w.inTx(`
		INSERT INTO DetectionTable (
			Experiment, RowId, Sequence, Charge, Modifications, IdentifyingNode,
			FirstScan, RetentionTime, PrecursorIntensity, TheoreticalMZ, Degeneracy,
			MasterProteins, blobIntensity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, id := range s.IDs() {
			d, _ := s.Get(id)
			proteins, err := json.Marshal(d.MasterProteins)
			if err != nil {
				return err
			}
			_, err = stmt.Exec(
				experiment,                     // Experiment
				d.ID,                           // RowId
				d.Sequence,                     // Sequence
				d.Charge,                       // Charge
				d.ModString(),                  // Modifications
				d.Algorithm.NodeName(),         // IdentifyingNode
				d.FirstScan,                    // FirstScan
				nullable(d.RetentionTime),      // RetentionTime
				nullable(d.PrecursorIntensity), // PrecursorIntensity
				nullable(d.MZ()),               // TheoreticalMZ
				d.Degeneracy,                   // Degeneracy
				string(proteins),               // MasterProteins
				encodeFloat64(d.Intensities),   // blobIntensity
			)
			if err != nil {
				return fmt.Errorf("failed to insert detection %d: %w", d.ID, err)
			}
		}
		return nil
	})
}

// WriteRemoved writes every ledger entry of one experiment
func (w *Writer) WriteRemoved(experiment string, l *ledger.Ledger) error {
	return w.inTx(`
		INSERT INTO RemovedDataTable (Experiment, Stage, RemovedId, Representative, Saved)
		VALUES (?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, e := range l.All() {
			saved, err := json.Marshal(e.Saved)
			if err != nil {
				return fmt.Errorf("failed to encode saved columns of row %d: %w", e.RemovedID, err)
			}
			if _, err := stmt.Exec(experiment, e.Stage, e.RemovedID, e.Representative, string(saved)); err != nil {
				return fmt.Errorf("failed to insert removed row %d: %w", e.RemovedID, err)
			}
		}
		return nil
	})
}

// WriteProteins writes a protein table under variant ("min" or "max")
func (w *Writer) WriteProteins(variant string, table protein.Table) error {
	return w.inTx(`
		INSERT INTO ProteinTable (
			Variant, Protein, Peptides, blobCondition1, blobCondition2,
			PValue, AdjustedPValue, FoldChange
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, rec := range table {
			peptides, err := json.Marshal(rec.Peptides)
			if err != nil {
				return err
			}
			_, err = stmt.Exec(
				variant,
				rec.Protein,
				string(peptides),
				encodeFloat64(rec.Condition1()),
				encodeFloat64(rec.Condition2()),
				rec.PValue,
				rec.AdjustedPValue,
				rec.FoldChange,
			)
			if err != nil {
				return fmt.Errorf("failed to insert protein %s: %w", rec.Protein, err)
			}
		}
		return nil
	})
}

// WriteRTIsolation writes the RT statistics of one experiment
func (w *Writer) WriteRTIsolation(experiment string, info []analysis.RTIsolation) error {
	return w.inTx(`
		INSERT INTO RTIsolationTable (Experiment, Representative, Degeneracy, Mean, Std, MaxMin)
		VALUES (?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, rt := range info {
			if _, err := stmt.Exec(experiment, rt.Representative, rt.Degeneracy, rt.Mean, rt.Std, rt.Range); err != nil {
				return fmt.Errorf("failed to insert RT info of row %d: %w", rt.Representative, err)
			}
		}
		return nil
	})
}

// WritePCA writes the channel scores of a PCA
func (w *Writer) WritePCA(channels []string, res *analysis.PCAResult) error {
	rows, cols := res.Scores.Dims()
	if rows != len(channels) {
		return fmt.Errorf("PCA has %d channels, got %d names", rows, len(channels))
	}
	return w.inTx(`
		INSERT INTO PCATable (Channel, Component, Score, ExplainedVarianceRatio)
		VALUES (?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for i, ch := range channels {
			for j := 0; j < cols; j++ {
				if _, err := stmt.Exec(ch, j+1, res.Scores.At(i, j), res.ExplainedVarianceRatio[j]); err != nil {
					return fmt.Errorf("failed to insert PCA score: %w", err)
				}
			}
		}
		return nil
	})
}

// WriteLinkage writes a hierarchical clustering linkage
func (w *Writer) WriteLinkage(merges []analysis.Merge) error {
	return w.inTx(`
		INSERT INTO LinkageTable (Step, LeftCluster, RightCluster, Distance, Size)
		VALUES (?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for i, m := range merges {
			if _, err := stmt.Exec(i, m.Left, m.Right, m.Distance, m.Size); err != nil {
				return fmt.Errorf("failed to insert linkage step %d: %w", i, err)
			}
		}
		return nil
	})
}

// inTx prepares query inside a transaction and passes it to fn. The
// transaction is committed when fn succeeds.
func (w *Writer) inTx(query string, fn func(*sql.Stmt) error) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// encodeFloat64 encodes values as a little-endian float64 blob
func encodeFloat64(values []float64) []byte {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeFloat64 decodes a blob written by the writer
func DecodeFloat64(blob []byte) ([]float64, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(blob))
	}
	out := make([]float64, len(blob)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return out, nil
}

func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// Finalize stamps the job finish date, closes the database and moves it to
// the output path, replacing any previous output.
func (w *Writer) Finalize() error {
	if w.closed {
		return nil
	}
	if w.jobID != uuid.Nil {
		_, err := w.db.Exec(`UPDATE JobTable SET FinishDate = ? WHERE JobId = ?`,
			time.Now().Format(jobDateFormat), w.jobID.String())
		if err != nil {
			w.Close()
			return fmt.Errorf("failed to update job: %w", err)
		}
	}
	w.closed = true
	if err := w.db.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to close database: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.outputPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to move database into place: %w", err)
	}
	return nil
}

// Close closes the database connection. Unless Finalize ran first, the
// database is discarded and any previous output is left untouched.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.db.Close()
	if rmErr := os.Remove(w.tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
