package main

import (
	"os"

	"github.com/caseflow-io/caseflow/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
