package main

import (
	"os"

	"github.com/perchlabs/perch/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
