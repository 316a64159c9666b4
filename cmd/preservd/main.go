package main

import (
	"os"

	"github.com/preservd-dev/preservd/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
