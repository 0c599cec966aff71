package main

import (
	"fmt"
	"os"

	"github.com/kontorhq/kontor-backend/cmd/kontor-server/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
