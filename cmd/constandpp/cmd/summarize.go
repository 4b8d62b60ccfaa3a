package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/reader/psm"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/workflow"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [file]",
	Short: "Summarize a PSM export",
	Long: `Print summary statistics about a PSM export including detection, sequence and
protein counts and the split over identifying algorithms.

Example:
  constandpp summarize run1.tsv --channels 126,127,128,129`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len([]rune(delimiter)) != 1 {
			return fmt.Errorf("delimiter must be a single character, got '%s'", delimiter)
		}
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()

		s, err := psm.ReadAll(f, psm.Options{Delimiter: []rune(delimiter)[0], ChannelColumns: channels})
		if err != nil {
			return err
		}
		sum := workflow.Summarize(s)

		fmt.Printf("File: %s\n", args[0])
		fmt.Printf("Detections: %d\n", sum.Detections)
		fmt.Printf("Sequences: %d\n", sum.Sequences)
		fmt.Printf("Proteins: %d\n", sum.Proteins)
		fmt.Printf("Shared detections: %d\n", sum.Shared)
		fmt.Printf("Detections with missing channels: %d\n", sum.Missing)
		for _, alg := range sum.Algorithms() {
			fmt.Printf("  %s: %d\n", alg.NodeName(), sum.ByAlgorithm[alg])
		}
		return nil
	},
}
