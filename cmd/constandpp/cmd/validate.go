package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/config"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/reader/psm"
)

var validateCmd = &cobra.Command{
	Use:   "validate [job.yaml]",
	Short: "Validate a job configuration and its input headers",
	Long: `Validate that a job configuration is complete and consistent, and that every
experiment's input file has the required columns and reporter channels.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := config.Load(args[0])
		if err != nil {
			return err
		}
		for _, e := range job.Experiments {
			if err := checkInput(e); err != nil {
				return fmt.Errorf("experiment %s: %w", e.Name, err)
			}
			fmt.Printf("%s: %s OK\n", e.Name, e.Data)
		}
		fmt.Printf("Job %s is valid\n", job.Name)
		return nil
	},
}

func checkInput(e config.Experiment) error {
	modDB, err := e.ModDatabase()
	if err != nil {
		return err
	}
	f, err := os.Open(e.Data)
	if err != nil {
		return fmt.Errorf("failed to open data: %w", err)
	}
	defer f.Close()

	_, err = psm.NewReader(f, e.ReaderOptions(modDB))
	return err
}
