package workflow

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/config"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/writer/sqlite"
)

// Result is the outcome of a job run.
type Result struct {
	ID          uuid.UUID
	Experiments []*Experiment
	Analysis    *Analysis
}

// Runner executes a job.
type Runner struct {
	job     *config.Job
	threads int
	log     zerolog.Logger
}

// NewRunner creates a runner processing at most threads experiments at once.
// threads <= 0 uses one per CPU.
func NewRunner(job *config.Job, threads int, log zerolog.Logger) *Runner {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &Runner{job: job, threads: threads, log: log.With().Str("job", job.Name).Logger()}
}

// Run loads and processes every experiment in parallel, then combines them.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		ID:          uuid.New(),
		Experiments: make([]*Experiment, len(r.job.Experiments)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.threads)
	for i, e := range r.job.Experiments {
		i, e := i, e
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := Load(e)
			if err != nil {
				return fmt.Errorf("experiment %s: %w", e.Name, err)
			}
			processed, err := Process(e, raw, r.job.Conditions, r.log)
			if err != nil {
				return fmt.Errorf("experiment %s: %w", e.Name, err)
			}
			res.Experiments[i] = processed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a, err := Analyze(r.job, res.Experiments, r.log)
	if err != nil {
		return nil, err
	}
	res.Analysis = a
	return res, nil
}

// Save checks the job output, runs the job and writes the result. Nothing is
// written unless the run succeeds, and an existing output is only replaced
// when force is set.
func (r *Runner) Save(ctx context.Context, force bool) (*Result, error) {
	if err := sqlite.CheckOutput(r.job.Output, force); err != nil {
		return nil, err
	}
	res, err := r.Run(ctx)
	if err != nil {
		return nil, err
	}

	w, err := sqlite.NewWriter(r.job.Output, force)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	if err := Write(w, r.job, res); err != nil {
		return nil, fmt.Errorf("failed to write results: %w", err)
	}
	if err := w.Finalize(); err != nil {
		return nil, fmt.Errorf("failed to finalize database: %w", err)
	}
	r.log.Info().Str("output", r.job.Output).Msg("results written")
	return res, nil
}

// Write stores a job result.
func Write(w *sqlite.Writer, job *config.Job, res *Result) error {
	if err := w.WriteJob(sqlite.Job{ID: res.ID, Name: job.Name, Config: job}); err != nil {
		return err
	}
	for _, e := range res.Experiments {
		if err := w.WriteDetections(e.Name, e.Store); err != nil {
			return err
		}
		if err := w.WriteRemoved(e.Name, e.Ledger); err != nil {
			return err
		}
		if err := w.WriteRTIsolation(e.Name, e.RTIsolation); err != nil {
			return err
		}
	}

	a := res.Analysis
	if err := w.WriteProteins(VariantMin, a.Min); err != nil {
		return err
	}
	if err := w.WriteProteins(VariantMax, a.Max); err != nil {
		return err
	}
	if a.PCA != nil {
		if err := w.WritePCA(a.Channels, a.PCA); err != nil {
			return err
		}
	}
	if a.Linkage != nil {
		if err := w.WriteLinkage(a.Linkage); err != nil {
			return err
		}
	}
	return nil
}
