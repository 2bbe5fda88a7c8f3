package main

import (
	"os"

	"OpenRoute-Chain/cmd/routectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
