package main

import (
	"fmt"
	"os"

	"phasecraft.ai/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "phasectl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
