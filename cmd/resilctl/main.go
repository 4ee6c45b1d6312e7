package main

import (
	"fmt"
	"os"

	"github.com/Nathan-Paranhos/AithosRag-sub003/cmd/resilctl/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
