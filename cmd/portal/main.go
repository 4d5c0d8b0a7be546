package main

import (
	"os"

	"github.com/labportal/labportal/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
