package main

import (
	"os"

	"github.com/majorcontext/strata/cmd/strata/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
