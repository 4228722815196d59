// Package main is the motorctl command.
package main

import (
	"log"
	"os"

	"go.viam.com/motorctl/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
