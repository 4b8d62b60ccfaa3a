// CONSTANd++ - isobaric-label proteomics data processing
package main

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/CONSTANdpp/cmd/constandpp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
