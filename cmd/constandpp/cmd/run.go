package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/config"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a job and write the results database",
	Long: `Process every experiment of a job configuration and write the detections,
removed data, protein tables and analyses to the job's SQLite output.

An existing output is never overwritten unless --force is given.

Examples:
  # Run a job with default parallelism
  constandpp run --config job.yaml

  # Rerun, replacing the previous results, two experiments at a time
  constandpp run --config job.yaml --force --threads 2`,
	RunE: runJob,
}

func runJob(cmd *cobra.Command, args []string) error {
	job, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("threads") {
		threads = runtimeEnv.Threads
	}

	if err := os.MkdirAll(filepath.Dir(job.Output), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	fmt.Printf("Running job %s (%d experiments)...\n", job.Name, len(job.Experiments))

	res, err := workflow.NewRunner(job, threads, logger).Save(cmd.Context(), force)
	if err != nil {
		return err
	}

	fmt.Printf("\nJob complete!\n")
	for _, e := range res.Experiments {
		fmt.Printf("%s: %d detections, %d removed, %d proteins\n",
			e.Name, e.Store.Len(), e.Ledger.Len(), len(e.Mapping.Max))
	}
	a := res.Analysis
	fmt.Printf("Proteins: %d (min), %d (max)\n", len(a.Min), len(a.Max))
	if rep := a.Report; rep != nil {
		fmt.Printf("Differentially expressed: %d (min), %d (max)\n", len(rep.Min), len(rep.Max))
		if len(rep.OnlyMin) > 0 {
			fmt.Printf("Only in min: %s\n", strings.Join(rep.OnlyMin, ", "))
		}
		if len(rep.OnlyMax) > 0 {
			fmt.Printf("Only in max: %s\n", strings.Join(rep.OnlyMax, ", "))
		}
	}
	fmt.Printf("Output: %s\n", job.Output)

	return nil
}
