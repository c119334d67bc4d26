package main

import (
	"fmt"
	"os"

	"github.com/labforge/labctl/internal/cli"
	"github.com/labforge/labctl/internal/runner"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(runner.ExitCode(err))
	}
}
