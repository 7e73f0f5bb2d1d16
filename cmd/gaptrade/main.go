package main

import (
	"os"

	"gaptrade/internal/cli"
)

// Version is injected by build scripts via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	os.Exit(cli.Execute())
}
