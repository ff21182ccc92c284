package main

import (
	"os"

	"github.com/sparkfleet/sparkctl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
