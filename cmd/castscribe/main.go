package main

import (
	"os"

	"github.com/nikhilbhutani/castscribe/cmd/castscribe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
