package main

import (
	"fmt"
	"os"

	etfcli "github.com/ideal-lab5/etf-cli/internal/etf-cli"
)

func main() {
	app := etfcli.CLI()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "etf: %v\n", err)
		os.Exit(1)
	}
}
