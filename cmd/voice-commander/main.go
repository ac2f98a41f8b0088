package main

import (
	"os"

	"github.com/yegors/voice-commander/cmd/voice-commander/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
