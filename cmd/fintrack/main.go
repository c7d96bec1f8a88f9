package main

import (
	"os"
	_ "time/tzdata"

	"fintrack/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
