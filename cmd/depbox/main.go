// Package main provides the depbox command: release resolution, endpoint
// selection and the nightly artifact mirror.
package main

import (
	"log"
	"os"

	"github.com/clean-dependency-project/depbox/internal/cli"
)

func main() {
	app := cli.NewApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
