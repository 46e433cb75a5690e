package main

import (
	"fmt"
	"os"

	"github.com/ErlanBelekov/keepwarm/cmd/keepwarmctl/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
