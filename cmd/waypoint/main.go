package main

import (
	"os"

	"github.com/toyz/waypoint/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
