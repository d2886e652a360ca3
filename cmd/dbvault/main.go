package main

import (
	"os"

	"github.com/semmidev/dbvault/internal/cli"
)

func main() {
	if err := cli.New().Execute(); err != nil {
		os.Exit(1)
	}
}
